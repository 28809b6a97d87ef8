package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"notionsync/internal/client/notion"
	"notionsync/internal/config"
	"notionsync/internal/events"
	"notionsync/internal/mapping"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

var ErrAlreadyResolved = errors.New("conflict already resolved")

// Fields whose divergence marks a conflict as high severity.
var financialFields = map[string]bool{
	"billable_amount":    true,
	"budget":             true,
	"outstanding_amount": true,
}

// ConflictService detects concurrent edits and applies resolutions. A
// conflict exists when both the cache row and the remote page changed
// since the last successful sync and at least one mapped field differs;
// the sync engine then leaves the cache untouched until someone picks a
// side.
type ConflictService struct {
	Store  repository.Repository
	Mapper *mapping.Mapper
	Events *events.Hub
	Config config.Config
	Logger *zap.Logger
}

// ConflictCheck carries both versions of a row in field-view form.
type ConflictCheck struct {
	EntityType     string
	NotionID       string
	LocalEditedAt  *time.Time
	LastSyncAt     time.Time
	RemoteEditedAt time.Time
	LocalFields    map[string]string
	IncomingFields map[string]string
	RemoteRaw      []byte
}

// Check records a conflict and returns it, or nil when the two versions
// do not actually collide. Re-detection of a still-pending conflict
// refreshes its snapshots instead of inserting a second row.
func (c *ConflictService) Check(ctx context.Context, check ConflictCheck) (*models.ConflictLog, error) {
	if c == nil || c.Store == nil {
		return nil, nil
	}
	if check.LocalEditedAt == nil || !check.LocalEditedAt.After(check.LastSyncAt) {
		return nil, nil
	}
	if !check.RemoteEditedAt.After(check.LastSyncAt) {
		return nil, nil
	}
	fields := diffFields(check.LocalFields, check.IncomingFields)
	if len(fields) == 0 {
		return nil, nil
	}
	severity := classifySeverity(fields)
	now := time.Now().UTC()
	fieldsJSON, _ := json.Marshal(fields)
	localJSON, _ := json.Marshal(check.LocalFields)

	existing, err := c.Store.GetPendingConflict(ctx, check.EntityType, check.NotionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := c.Store.UpdateConflictFields(ctx, existing.ID, map[string]any{
			"conflicting_fields": datatypes.JSON(fieldsJSON),
			"severity":           severity,
			"local_snapshot":     datatypes.JSON(localJSON),
			"remote_snapshot":    datatypes.JSON(check.RemoteRaw),
			"detected_at":        now,
		}); err != nil {
			return nil, err
		}
		return c.Store.GetConflict(ctx, existing.ID)
	}

	item := &models.ConflictLog{
		EntityType:        check.EntityType,
		NotionID:          check.NotionID,
		ConflictType:      models.ConflictTypeBothModified,
		Severity:          severity,
		ConflictingFields: datatypes.JSON(fieldsJSON),
		LocalSnapshot:     datatypes.JSON(localJSON),
		RemoteSnapshot:    datatypes.JSON(check.RemoteRaw),
		Resolution:        models.ResolutionPending,
		DetectedAt:        now,
	}
	if err := c.Store.InsertConflict(ctx, item); err != nil {
		return nil, err
	}
	if c.Logger != nil {
		c.Logger.Warn("sync conflict detected",
			zap.String("entity_type", check.EntityType),
			zap.String("notion_id", check.NotionID),
			zap.String("severity", severity),
			zap.Strings("fields", fields),
		)
	}
	if c.Events != nil {
		c.Events.Publish(events.Event{
			Type:       events.TypeConflictDetected,
			EntityType: check.EntityType,
			NotionID:   check.NotionID,
			Detail:     severity,
		})
	}
	return item, nil
}

type ResolveRequest struct {
	Strategy   string         `json:"strategy"`
	MergedData map[string]any `json:"merged_data"`
	ResolvedBy string         `json:"resolved_by"`
}

// Resolve applies one of the three strategies and marks the conflict. The
// mark is conditional on the row still being pending, so concurrent
// resolvers lose with ErrAlreadyResolved.
func (c *ConflictService) Resolve(ctx context.Context, id uint64, req ResolveRequest) (*models.ConflictLog, error) {
	if c == nil || c.Store == nil {
		return nil, nil
	}
	if !models.ValidResolutionStrategy(req.Strategy) {
		return nil, fmt.Errorf("unknown resolution strategy %q", req.Strategy)
	}
	conflict, err := c.Store.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, nil
	}
	if conflict.Resolution != models.ResolutionPending {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"resolution":  req.Strategy,
		"resolved_at": now,
		"resolved_by": req.ResolvedBy,
	}
	switch req.Strategy {
	case models.ResolutionNotionWins:
		if err := c.applyNotionWins(ctx, conflict, now); err != nil {
			return nil, err
		}
	case models.ResolutionLocalWins:
		// Cache keeps the local version, nothing is pushed back; the
		// divergence stands until the next remote-originated change.
		if err := c.Store.UpdateCacheFields(ctx, conflict.EntityType, conflict.NotionID, map[string]any{
			"local_edited_at": nil,
		}); err != nil {
			return nil, err
		}
	case models.ResolutionMerged:
		if len(req.MergedData) == 0 {
			return nil, fmt.Errorf("merged resolution requires merged_data")
		}
		if err := c.applyMerged(ctx, conflict, req.MergedData); err != nil {
			return nil, err
		}
		mergedJSON, _ := json.Marshal(req.MergedData)
		fields["merged_data"] = datatypes.JSON(mergedJSON)
	}

	ok, err := c.Store.ResolvePendingConflict(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyResolved
	}
	if c.Events != nil {
		c.Events.Publish(events.Event{
			Type:       events.TypeConflictResolved,
			EntityType: conflict.EntityType,
			NotionID:   conflict.NotionID,
			Detail:     req.Strategy,
		})
	}
	return c.Store.GetConflict(ctx, id)
}

// applyNotionWins replays the exact remote snapshot captured at detection
// through the mapper, so the cache ends byte-for-byte at the remote state.
func (c *ConflictService) applyNotionWins(ctx context.Context, conflict *models.ConflictLog, now time.Time) error {
	var page notion.Page
	if err := json.Unmarshal(conflict.RemoteSnapshot, &page); err != nil {
		return fmt.Errorf("decode remote snapshot: %w", err)
	}
	ttl := c.Config.Sync.DefaultCacheTTL
	if setting, err := c.Store.GetSyncSetting(ctx, conflict.EntityType); err == nil && setting != nil {
		ttl = setting.CacheTTLDuration(ttl)
	}
	expires := now.Add(ttl)

	switch conflict.EntityType {
	case models.EntityTask:
		row, err := c.Mapper.BuildTask(&page)
		if err != nil {
			return err
		}
		row.LastSyncAt = now
		row.ExpiresAt = expires
		if err := c.Store.InTx(ctx, func(tx *gorm.DB) error {
			return c.Store.UpsertTasksTx(ctx, tx, []models.CachedTask{*row})
		}); err != nil {
			return err
		}
	case models.EntityProject:
		row, err := c.Mapper.BuildProject(&page)
		if err != nil {
			return err
		}
		row.LastSyncAt = now
		row.ExpiresAt = expires
		if err := c.Store.InTx(ctx, func(tx *gorm.DB) error {
			return c.Store.UpsertProjectsTx(ctx, tx, []models.CachedProject{*row})
		}); err != nil {
			return err
		}
	case models.EntityMember:
		row, err := c.Mapper.BuildMember(&page)
		if err != nil {
			return err
		}
		row.LastSyncAt = now
		row.ExpiresAt = expires
		if err := c.Store.InTx(ctx, func(tx *gorm.DB) error {
			return c.Store.UpsertMembersTx(ctx, tx, []models.CachedMember{*row})
		}); err != nil {
			return err
		}
	case models.EntityTeam:
		row, err := c.Mapper.BuildTeam(&page)
		if err != nil {
			return err
		}
		row.LastSyncAt = now
		row.ExpiresAt = expires
		if err := c.Store.InTx(ctx, func(tx *gorm.DB) error {
			return c.Store.UpsertTeamsTx(ctx, tx, []models.CachedTeam{*row})
		}); err != nil {
			return err
		}
	case models.EntityClient:
		row, err := c.Mapper.BuildClient(&page)
		if err != nil {
			return err
		}
		row.LastSyncAt = now
		row.ExpiresAt = expires
		if err := c.Store.InTx(ctx, func(tx *gorm.DB) error {
			return c.Store.UpsertClientsTx(ctx, tx, []models.CachedClient{*row})
		}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown entity type %q", conflict.EntityType)
	}
	return c.Store.UpdateCacheFields(ctx, conflict.EntityType, conflict.NotionID, map[string]any{
		"local_edited_at": nil,
	})
}

// applyMerged writes the caller-provided field values. Keys must be
// mergeable columns of the entity; values arrive as JSON types and are
// coerced to their column types.
func (c *ConflictService) applyMerged(ctx context.Context, conflict *models.ConflictLog, merged map[string]any) error {
	allowed := mergeableFields(conflict.EntityType)
	fields := map[string]any{"local_edited_at": nil}
	for key, raw := range merged {
		if !allowed[key] {
			return fmt.Errorf("field %q is not mergeable for %s", key, conflict.EntityType)
		}
		value, err := coerceMergeValue(key, raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = value
	}
	return c.Store.UpdateCacheFields(ctx, conflict.EntityType, conflict.NotionID, fields)
}

type BatchResolveItem struct {
	ID         uint64         `json:"id"`
	Strategy   string         `json:"strategy"`
	MergedData map[string]any `json:"merged_data,omitempty"`
}

type BatchResolveResult struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchResolve applies each resolution independently; one bad item never
// aborts the rest.
func (c *ConflictService) BatchResolve(ctx context.Context, items []BatchResolveItem, resolvedBy string) []BatchResolveResult {
	results := make([]BatchResolveResult, 0, len(items))
	for _, item := range items {
		resolved, err := c.Resolve(ctx, item.ID, ResolveRequest{
			Strategy:   item.Strategy,
			MergedData: item.MergedData,
			ResolvedBy: resolvedBy,
		})
		switch {
		case errors.Is(err, ErrAlreadyResolved):
			results = append(results, BatchResolveResult{ID: item.ID, Status: "rejected", Error: ErrAlreadyResolved.Error()})
		case err != nil:
			results = append(results, BatchResolveResult{ID: item.ID, Status: "failed", Error: err.Error()})
		case resolved == nil:
			results = append(results, BatchResolveResult{ID: item.ID, Status: "failed", Error: "conflict not found"})
		default:
			results = append(results, BatchResolveResult{ID: item.ID, Status: "resolved"})
		}
	}
	return results
}

type ConflictStats struct {
	Total        int64            `json:"total"`
	Pending      int64            `json:"pending"`
	ByResolution map[string]int64 `json:"by_resolution"`
	BySeverity   map[string]int64 `json:"by_severity"`
	ByEntityType map[string]int64 `json:"by_entity_type"`
}

func (c *ConflictService) Stats(ctx context.Context) (*ConflictStats, error) {
	if c == nil || c.Store == nil {
		return nil, nil
	}
	rows, err := c.Store.ConflictStats(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ConflictStats{
		ByResolution: map[string]int64{},
		BySeverity:   map[string]int64{},
		ByEntityType: map[string]int64{},
	}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByResolution[row.Resolution] += row.Count
		stats.BySeverity[row.Severity] += row.Count
		stats.ByEntityType[row.EntityType] += row.Count
		if row.Resolution == models.ResolutionPending {
			stats.Pending += row.Count
		}
	}
	return stats, nil
}

// Purge removes conflicts resolved longer than the retention window ago.
func (c *ConflictService) Purge(ctx context.Context) (int64, error) {
	if c == nil || c.Store == nil {
		return 0, nil
	}
	retention := c.Config.Conflict.ResolvedRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return c.Store.PurgeResolvedConflicts(ctx, time.Now().UTC().Add(-retention))
}

// --- field views ------------------------------------------------------------

// Field views render a cache row as comparable strings per mapped field.
// Money and hours use fixed two-decimal form so a database round trip
// never fakes a diff.

func TaskFieldView(t *models.CachedTask) map[string]string {
	return map[string]string{
		"title":           t.Title,
		"status":          strDeref(t.Status),
		"task_type":       strDeref(t.TaskType),
		"start_date":      timeView(t.StartDate),
		"end_date":        timeView(t.EndDate),
		"daily_hours":     t.DailyHours.StringFixed(2),
		"billable_amount": decimalView(t.BillableAmount),
		"assignee_ids":    string(t.AssigneeIDs),
		"project_id":      strDeref(t.ProjectID),
	}
}

func ProjectFieldView(p *models.CachedProject) map[string]string {
	return map[string]string{
		"name":      p.Name,
		"status":    strDeref(p.Status),
		"client_id": strDeref(p.ClientID),
		"budget":    decimalView(p.Budget),
	}
}

func MemberFieldView(m *models.CachedMember) map[string]string {
	return map[string]string{
		"name":    m.Name,
		"email":   strDeref(m.Email),
		"role":    strDeref(m.Role),
		"team_id": strDeref(m.TeamID),
	}
}

func TeamFieldView(t *models.CachedTeam) map[string]string {
	return map[string]string{
		"name": t.Name,
	}
}

func ClientFieldView(c *models.CachedClient) map[string]string {
	return map[string]string{
		"name":               c.Name,
		"contact_email":      strDeref(c.ContactEmail),
		"outstanding_amount": decimalView(c.OutstandingAmount),
	}
}

func diffFields(local, incoming map[string]string) []string {
	fields := make([]string, 0)
	for key, localVal := range local {
		if incomingVal, ok := incoming[key]; ok && incomingVal != localVal {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}

func classifySeverity(fields []string) string {
	severity := models.SeverityLow
	for _, field := range fields {
		if financialFields[field] {
			return models.SeverityHigh
		}
		if field == "status" {
			severity = models.SeverityMedium
		}
	}
	return severity
}

func mergeableFields(entityType string) map[string]bool {
	var view map[string]string
	switch entityType {
	case models.EntityTask:
		view = TaskFieldView(&models.CachedTask{})
	case models.EntityProject:
		view = ProjectFieldView(&models.CachedProject{})
	case models.EntityMember:
		view = MemberFieldView(&models.CachedMember{})
	case models.EntityTeam:
		view = TeamFieldView(&models.CachedTeam{})
	case models.EntityClient:
		view = ClientFieldView(&models.CachedClient{})
	default:
		return map[string]bool{}
	}
	allowed := make(map[string]bool, len(view))
	for key := range view {
		allowed[key] = true
	}
	return allowed
}

func coerceMergeValue(field string, raw any) (any, error) {
	switch field {
	case "start_date", "end_date":
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", raw)
		}
		ts, err := notion.ParseTime(s)
		if err != nil {
			return nil, err
		}
		return ts, nil
	case "daily_hours", "billable_amount", "budget", "outstanding_amount":
		switch v := raw.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case string:
			return decimal.NewFromString(v)
		case json.Number:
			return decimal.NewFromString(v.String())
		}
		return nil, fmt.Errorf("expected number, got %T", raw)
	case "assignee_ids":
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		return datatypes.JSON(encoded), nil
	}
	return raw, nil
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func timeView(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.UTC().Format(time.RFC3339)
}

func decimalView(p *decimal.Decimal) string {
	if p == nil {
		return ""
	}
	return p.StringFixed(2)
}
