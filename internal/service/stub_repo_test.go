package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Database syncs apply batches concurrently, so every method locks.
type stubRepo struct {
	mu sync.Mutex

	tasks    map[string]*models.CachedTask
	projects map[string]*models.CachedProject
	members  map[string]*models.CachedMember
	teams    map[string]*models.CachedTeam
	clients  map[string]*models.CachedClient

	settings map[string]*models.SyncSetting
	mappings []models.SchemaMapping
	system   map[string]*models.SystemSetting

	queue       []*models.SyncQueueItem
	nextQueueID uint64

	conflicts      []*models.ConflictLog
	nextConflictID uint64

	schedules   []*models.SchedulingConflict
	nextSchedID uint64

	logs []models.SyncLog
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		tasks:    map[string]*models.CachedTask{},
		projects: map[string]*models.CachedProject{},
		members:  map[string]*models.CachedMember{},
		teams:    map[string]*models.CachedTeam{},
		clients:  map[string]*models.CachedClient{},
		settings: map[string]*models.SyncSetting{},
		system:   map[string]*models.SystemSetting{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

// --- cache entities ---------------------------------------------------------

// Upserts mirror the real store's column lists: local_edited_at survives
// a pull, only resolution clears it.

func (s *stubRepo) UpsertTasksTx(ctx context.Context, tx *gorm.DB, items []models.CachedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		row := item
		if prev, ok := s.tasks[item.NotionID]; ok {
			row.LocalEditedAt = prev.LocalEditedAt
		}
		s.tasks[item.NotionID] = &row
	}
	return nil
}

func (s *stubRepo) UpsertProjectsTx(ctx context.Context, tx *gorm.DB, items []models.CachedProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		row := item
		if prev, ok := s.projects[item.NotionID]; ok {
			row.LocalEditedAt = prev.LocalEditedAt
		}
		s.projects[item.NotionID] = &row
	}
	return nil
}

func (s *stubRepo) UpsertMembersTx(ctx context.Context, tx *gorm.DB, items []models.CachedMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		row := item
		if prev, ok := s.members[item.NotionID]; ok {
			row.LocalEditedAt = prev.LocalEditedAt
		}
		s.members[item.NotionID] = &row
	}
	return nil
}

func (s *stubRepo) UpsertTeamsTx(ctx context.Context, tx *gorm.DB, items []models.CachedTeam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		row := item
		if prev, ok := s.teams[item.NotionID]; ok {
			row.LocalEditedAt = prev.LocalEditedAt
		}
		s.teams[item.NotionID] = &row
	}
	return nil
}

func (s *stubRepo) UpsertClientsTx(ctx context.Context, tx *gorm.DB, items []models.CachedClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		row := item
		if prev, ok := s.clients[item.NotionID]; ok {
			row.LocalEditedAt = prev.LocalEditedAt
		}
		s.clients[item.NotionID] = &row
	}
	return nil
}

func (s *stubRepo) GetTask(ctx context.Context, notionID string) (*models.CachedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.tasks[notionID]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetProject(ctx context.Context, notionID string) (*models.CachedProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.projects[notionID]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetMember(ctx context.Context, notionID string) (*models.CachedMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.members[notionID]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetTeam(ctx context.Context, notionID string) (*models.CachedTeam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.teams[notionID]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetClient(ctx context.Context, notionID string) (*models.CachedClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.clients[notionID]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) ListMemberTasksOverlapping(ctx context.Context, memberID string, start, end time.Time, excludeTaskID string) ([]models.CachedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CachedTask
	for _, row := range s.tasks {
		if row.DeletedFromNotion || row.NotionID == excludeTaskID {
			continue
		}
		if row.StartDate == nil || row.EndDate == nil {
			continue
		}
		if !strings.Contains(string(row.AssigneeIDs), `"`+memberID+`"`) {
			continue
		}
		if row.StartDate.Before(end) && row.EndDate.After(start) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(*out[j].StartDate) })
	return out, nil
}

func (s *stubRepo) ListCachedIDs(ctx context.Context, entityType string) ([]repository.CachedIDStamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.CachedIDStamp
	switch entityType {
	case models.EntityTask:
		for _, row := range s.tasks {
			out = append(out, repository.CachedIDStamp{NotionID: row.NotionID, LastEditedAt: row.LastEditedAt, LastSyncAt: row.LastSyncAt, DeletedFromNotion: row.DeletedFromNotion})
		}
	case models.EntityProject:
		for _, row := range s.projects {
			out = append(out, repository.CachedIDStamp{NotionID: row.NotionID, LastEditedAt: row.LastEditedAt, LastSyncAt: row.LastSyncAt, DeletedFromNotion: row.DeletedFromNotion})
		}
	case models.EntityMember:
		for _, row := range s.members {
			out = append(out, repository.CachedIDStamp{NotionID: row.NotionID, LastEditedAt: row.LastEditedAt, LastSyncAt: row.LastSyncAt, DeletedFromNotion: row.DeletedFromNotion})
		}
	case models.EntityTeam:
		for _, row := range s.teams {
			out = append(out, repository.CachedIDStamp{NotionID: row.NotionID, LastEditedAt: row.LastEditedAt, LastSyncAt: row.LastSyncAt, DeletedFromNotion: row.DeletedFromNotion})
		}
	case models.EntityClient:
		for _, row := range s.clients {
			out = append(out, repository.CachedIDStamp{NotionID: row.NotionID, LastEditedAt: row.LastEditedAt, LastSyncAt: row.LastSyncAt, DeletedFromNotion: row.DeletedFromNotion})
		}
	}
	return out, nil
}

func (s *stubRepo) MarkDeletedFromNotion(ctx context.Context, entityType string, notionIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, id := range notionIDs {
		switch entityType {
		case models.EntityTask:
			if row, ok := s.tasks[id]; ok && !row.DeletedFromNotion {
				row.DeletedFromNotion = true
				affected++
			}
		case models.EntityProject:
			if row, ok := s.projects[id]; ok && !row.DeletedFromNotion {
				row.DeletedFromNotion = true
				affected++
			}
		case models.EntityMember:
			if row, ok := s.members[id]; ok && !row.DeletedFromNotion {
				row.DeletedFromNotion = true
				affected++
			}
		case models.EntityTeam:
			if row, ok := s.teams[id]; ok && !row.DeletedFromNotion {
				row.DeletedFromNotion = true
				affected++
			}
		case models.EntityClient:
			if row, ok := s.clients[id]; ok && !row.DeletedFromNotion {
				row.DeletedFromNotion = true
				affected++
			}
		}
	}
	return affected, nil
}

func (s *stubRepo) UpdateCacheFields(ctx context.Context, entityType string, notionID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch entityType {
	case models.EntityTask:
		if row, ok := s.tasks[notionID]; ok {
			applyTaskFields(row, fields)
		}
	case models.EntityProject:
		if row, ok := s.projects[notionID]; ok {
			applyProjectFields(row, fields)
		}
	case models.EntityMember:
		if row, ok := s.members[notionID]; ok {
			applyMemberFields(row, fields)
		}
	case models.EntityTeam:
		if row, ok := s.teams[notionID]; ok {
			if v, present := fields["local_edited_at"]; present {
				row.LocalEditedAt = asTimeField(v)
			}
			if v, ok := fields["name"].(string); ok {
				row.Name = v
			}
		}
	case models.EntityClient:
		if row, ok := s.clients[notionID]; ok {
			if v, present := fields["local_edited_at"]; present {
				row.LocalEditedAt = asTimeField(v)
			}
			if v, ok := fields["name"].(string); ok {
				row.Name = v
			}
			if v, ok := fields["outstanding_amount"].(decimal.Decimal); ok {
				row.OutstandingAmount = &v
			}
		}
	}
	return nil
}

func applyTaskFields(row *models.CachedTask, fields map[string]any) {
	if v, present := fields["local_edited_at"]; present {
		row.LocalEditedAt = asTimeField(v)
	}
	if v, ok := fields["title"].(string); ok {
		row.Title = v
	}
	if v, ok := fields["status"].(string); ok {
		row.Status = &v
	}
	if v, ok := fields["daily_hours"].(decimal.Decimal); ok {
		row.DailyHours = v
	}
	if v, ok := fields["billable_amount"].(decimal.Decimal); ok {
		row.BillableAmount = &v
	}
	if v, ok := fields["start_date"].(time.Time); ok {
		row.StartDate = &v
	}
	if v, ok := fields["end_date"].(time.Time); ok {
		row.EndDate = &v
	}
	if v, ok := fields["assignee_ids"].(datatypes.JSON); ok {
		row.AssigneeIDs = v
	}
	if v, ok := fields["project_id"].(string); ok {
		row.ProjectID = &v
	}
}

func applyProjectFields(row *models.CachedProject, fields map[string]any) {
	if v, present := fields["local_edited_at"]; present {
		row.LocalEditedAt = asTimeField(v)
	}
	if v, ok := fields["name"].(string); ok {
		row.Name = v
	}
	if v, ok := fields["status"].(string); ok {
		row.Status = &v
	}
	if v, ok := fields["budget"].(decimal.Decimal); ok {
		row.Budget = &v
	}
	if v, ok := fields["client_id"].(string); ok {
		row.ClientID = &v
	}
}

func applyMemberFields(row *models.CachedMember, fields map[string]any) {
	if v, present := fields["local_edited_at"]; present {
		row.LocalEditedAt = asTimeField(v)
	}
	if v, ok := fields["name"].(string); ok {
		row.Name = v
	}
	if v, ok := fields["email"].(string); ok {
		row.Email = &v
	}
	if v, ok := fields["role"].(string); ok {
		row.Role = &v
	}
	if v, ok := fields["team_id"].(string); ok {
		row.TeamID = &v
	}
}

func asTimeField(v any) *time.Time {
	if v == nil {
		return nil
	}
	if ts, ok := v.(time.Time); ok {
		return &ts
	}
	if ts, ok := v.(*time.Time); ok {
		return ts
	}
	return nil
}

func (s *stubRepo) DeleteExpiredCache(ctx context.Context, entityType string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	if entityType == models.EntityTask {
		for id, row := range s.tasks {
			if row.ExpiresAt.Before(now) && !row.DeletedFromNotion {
				delete(s.tasks, id)
				affected++
			}
		}
	}
	return affected, nil
}

func (s *stubRepo) CountCache(ctx context.Context, entityType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	switch entityType {
	case models.EntityTask:
		for _, row := range s.tasks {
			if !row.DeletedFromNotion {
				count++
			}
		}
	case models.EntityProject:
		for _, row := range s.projects {
			if !row.DeletedFromNotion {
				count++
			}
		}
	case models.EntityMember:
		for _, row := range s.members {
			if !row.DeletedFromNotion {
				count++
			}
		}
	case models.EntityTeam:
		for _, row := range s.teams {
			if !row.DeletedFromNotion {
				count++
			}
		}
	case models.EntityClient:
		for _, row := range s.clients {
			if !row.DeletedFromNotion {
				count++
			}
		}
	}
	return count, nil
}

func (s *stubRepo) RecomputeProjectRollups(ctx context.Context) error { return nil }
func (s *stubRepo) RecomputeMemberRollups(ctx context.Context) error  { return nil }
func (s *stubRepo) RecomputeTeamRollups(ctx context.Context) error    { return nil }
func (s *stubRepo) RecomputeClientRollups(ctx context.Context) error  { return nil }

// --- sync queue -------------------------------------------------------------

func (s *stubRepo) EnqueueSyncItem(ctx context.Context, item *models.SyncQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextQueueID++
	item.ID = s.nextQueueID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	row := *item
	s.queue = append(s.queue, &row)
	return nil
}

func (s *stubRepo) ClaimNextSyncItem(ctx context.Context, now time.Time) (*models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.SyncQueueItem
	for _, row := range s.queue {
		if row.Status != models.QueueStatusPending {
			continue
		}
		if row.NextRetryAt != nil && row.NextRetryAt.After(now) {
			continue
		}
		if best == nil || claimBefore(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.QueueStatusProcessing
	claimedAt := now
	best.ClaimedAt = &claimedAt
	out := *best
	return &out, nil
}

func claimBefore(a, b *models.SyncQueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *stubRepo) GetSyncItem(ctx context.Context, id uint64) (*models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.queue {
		if row.ID == id {
			out := *row
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdateSyncItemFields(ctx context.Context, id uint64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.queue {
		if row.ID != id {
			continue
		}
		if v, ok := fields["status"].(string); ok {
			row.Status = v
		}
		if v, ok := fields["attempts"].(int); ok {
			row.Attempts = v
		}
		if v, ok := fields["last_error"].(string); ok {
			row.LastError = &v
		}
		if v, present := fields["next_retry_at"]; present {
			row.NextRetryAt = asTimeField(v)
		}
		if v, present := fields["processed_at"]; present {
			row.ProcessedAt = asTimeField(v)
		}
		if v, present := fields["claimed_at"]; present {
			row.ClaimedAt = asTimeField(v)
		}
		return nil
	}
	return nil
}

func (s *stubRepo) ListSyncItems(ctx context.Context, params repository.ListQueueParams) ([]models.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncQueueItem
	for _, row := range s.queue {
		if matchQueue(row, params) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *stubRepo) CountSyncItems(ctx context.Context, params repository.ListQueueParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.queue {
		if matchQueue(row, params) {
			count++
		}
	}
	return count, nil
}

func matchQueue(row *models.SyncQueueItem, params repository.ListQueueParams) bool {
	if params.EntityType != nil && *params.EntityType != "" && row.EntityType != *params.EntityType {
		return false
	}
	if params.Status != nil && *params.Status != "" && row.Status != *params.Status {
		return false
	}
	if params.Operation != nil && *params.Operation != "" && row.Operation != *params.Operation {
		return false
	}
	if params.Source != nil && *params.Source != "" && row.Source != *params.Source {
		return false
	}
	return true
}

func (s *stubRepo) CountQueueByStatus(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, row := range s.queue {
		out[row.Status]++
	}
	return out, nil
}

func (s *stubRepo) ResetFailedSyncItems(ctx context.Context, entityType *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	for _, row := range s.queue {
		if row.Status != models.QueueStatusFailed {
			continue
		}
		if entityType != nil && *entityType != "" && row.EntityType != *entityType {
			continue
		}
		row.Status = models.QueueStatusPending
		row.Attempts = 0
		row.NextRetryAt = nil
		affected++
	}
	return affected, nil
}

func (s *stubRepo) DeleteSyncItems(ctx context.Context, entityType *string, statuses []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(statuses) == 0 {
		statuses = []string{models.QueueStatusPending, models.QueueStatusFailed}
	}
	match := map[string]bool{}
	for _, status := range statuses {
		match[status] = true
	}
	var kept []*models.SyncQueueItem
	var affected int64
	for _, row := range s.queue {
		drop := match[row.Status]
		if drop && entityType != nil && *entityType != "" && row.EntityType != *entityType {
			drop = false
		}
		if drop {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	s.queue = kept
	return affected, nil
}

func (s *stubRepo) PurgeCompletedSyncItems(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.SyncQueueItem
	var affected int64
	for _, row := range s.queue {
		if row.Status == models.QueueStatusCompleted && row.ProcessedAt != nil && row.ProcessedAt.Before(before) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	s.queue = kept
	return affected, nil
}

// --- conflicts --------------------------------------------------------------

func (s *stubRepo) InsertConflict(ctx context.Context, item *models.ConflictLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConflictID++
	item.ID = s.nextConflictID
	row := *item
	s.conflicts = append(s.conflicts, &row)
	return nil
}

func (s *stubRepo) GetConflict(ctx context.Context, id uint64) (*models.ConflictLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.conflicts {
		if row.ID == id {
			out := *row
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetPendingConflict(ctx context.Context, entityType, notionID string) (*models.ConflictLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.conflicts {
		if row.EntityType == entityType && row.NotionID == notionID && row.Resolution == models.ResolutionPending {
			out := *row
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpdateConflictFields(ctx context.Context, id uint64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.conflicts {
		if row.ID == id {
			applyConflictFields(row, fields)
			return nil
		}
	}
	return nil
}

func (s *stubRepo) ResolvePendingConflict(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.conflicts {
		if row.ID != id {
			continue
		}
		if row.Resolution != models.ResolutionPending {
			return false, nil
		}
		applyConflictFields(row, fields)
		return true, nil
	}
	return false, nil
}

func applyConflictFields(row *models.ConflictLog, fields map[string]any) {
	if v, ok := fields["resolution"].(string); ok {
		row.Resolution = v
	}
	if v, present := fields["resolved_at"]; present {
		row.ResolvedAt = asTimeField(v)
	}
	if v, ok := fields["resolved_by"].(string); ok {
		row.ResolvedBy = &v
	}
	if v, ok := fields["severity"].(string); ok {
		row.Severity = v
	}
	if v, ok := fields["conflicting_fields"].(datatypes.JSON); ok {
		row.ConflictingFields = v
	}
	if v, ok := fields["local_snapshot"].(datatypes.JSON); ok {
		row.LocalSnapshot = v
	}
	if v, ok := fields["remote_snapshot"].(datatypes.JSON); ok {
		row.RemoteSnapshot = v
	}
	if v, ok := fields["merged_data"].(datatypes.JSON); ok {
		row.MergedData = v
	}
	if v, ok := fields["detected_at"].(time.Time); ok {
		row.DetectedAt = v
	}
}

func (s *stubRepo) ListConflicts(ctx context.Context, params repository.ListConflictsParams) ([]models.ConflictLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ConflictLog
	for _, row := range s.conflicts {
		if matchConflict(row, params) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *stubRepo) CountConflicts(ctx context.Context, params repository.ListConflictsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.conflicts {
		if matchConflict(row, params) {
			count++
		}
	}
	return count, nil
}

func matchConflict(row *models.ConflictLog, params repository.ListConflictsParams) bool {
	if params.EntityType != nil && *params.EntityType != "" && row.EntityType != *params.EntityType {
		return false
	}
	if params.NotionID != nil && *params.NotionID != "" && row.NotionID != *params.NotionID {
		return false
	}
	if params.Resolution != nil && *params.Resolution != "" && row.Resolution != *params.Resolution {
		return false
	}
	if params.Severity != nil && *params.Severity != "" && row.Severity != *params.Severity {
		return false
	}
	if params.Since != nil && row.DetectedAt.Before(*params.Since) {
		return false
	}
	return true
}

func (s *stubRepo) ConflictStats(ctx context.Context) ([]repository.ConflictStatRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[[3]string]int64{}
	for _, row := range s.conflicts {
		counts[[3]string{row.EntityType, row.Resolution, row.Severity}]++
	}
	out := make([]repository.ConflictStatRow, 0, len(counts))
	for key, count := range counts {
		out = append(out, repository.ConflictStatRow{EntityType: key[0], Resolution: key[1], Severity: key[2], Count: count})
	}
	return out, nil
}

func (s *stubRepo) PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.ConflictLog
	var affected int64
	for _, row := range s.conflicts {
		if row.Resolution != models.ResolutionPending && row.ResolvedAt != nil && row.ResolvedAt.Before(before) {
			affected++
			continue
		}
		kept = append(kept, row)
	}
	s.conflicts = kept
	return affected, nil
}

// --- scheduling conflicts ---------------------------------------------------

func (s *stubRepo) ReplaceTaskSchedulingConflicts(ctx context.Context, taskID string, items []models.SchedulingConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.SchedulingConflict
	for _, row := range s.schedules {
		if row.TaskID == taskID && row.Status == models.ScheduleStatusActive {
			continue
		}
		kept = append(kept, row)
	}
	for _, item := range items {
		s.nextSchedID++
		row := item
		row.ID = s.nextSchedID
		kept = append(kept, &row)
	}
	s.schedules = kept
	return nil
}

func (s *stubRepo) ListSchedulingConflicts(ctx context.Context, params repository.ListSchedulingConflictsParams) ([]models.SchedulingConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SchedulingConflict
	for _, row := range s.schedules {
		if matchSched(row, params) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *stubRepo) CountSchedulingConflicts(ctx context.Context, params repository.ListSchedulingConflictsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.schedules {
		if matchSched(row, params) {
			count++
		}
	}
	return count, nil
}

func matchSched(row *models.SchedulingConflict, params repository.ListSchedulingConflictsParams) bool {
	if params.TaskID != nil && *params.TaskID != "" && row.TaskID != *params.TaskID {
		return false
	}
	if params.MemberID != nil && *params.MemberID != "" && row.MemberID != *params.MemberID {
		return false
	}
	if params.ConflictType != nil && *params.ConflictType != "" && row.ConflictType != *params.ConflictType {
		return false
	}
	if params.Status != nil && *params.Status != "" && row.Status != *params.Status {
		return false
	}
	return true
}

func (s *stubRepo) UpdateSchedulingConflictStatus(ctx context.Context, id uint64, status string, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.schedules {
		if row.ID == id {
			row.Status = status
			row.ResolvedAt = resolvedAt
			return nil
		}
	}
	return nil
}

// --- configuration ----------------------------------------------------------

func (s *stubRepo) GetSyncSetting(ctx context.Context, entityType string) (*models.SyncSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.settings[entityType]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetSyncSettingForUpdateTx(ctx context.Context, tx *gorm.DB, entityType string) (*models.SyncSetting, error) {
	return s.GetSyncSetting(ctx, entityType)
}

func (s *stubRepo) ListSyncSettings(ctx context.Context) ([]models.SyncSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncSetting, 0, len(s.settings))
	for _, row := range s.settings {
		out = append(out, *row)
	}
	return out, nil
}

func (s *stubRepo) SaveSyncSetting(ctx context.Context, item *models.SyncSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	s.settings[item.EntityType] = &row
	return nil
}

func (s *stubRepo) UpdateSyncSettingFields(ctx context.Context, entityType string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.settings[entityType]
	if !ok {
		return nil
	}
	if v, ok := fields["database_id"].(string); ok {
		row.DatabaseID = v
	}
	if v, ok := fields["polling_interval"].(string); ok {
		row.PollingInterval = v
	}
	if v, ok := fields["cache_ttl"].(string); ok {
		row.CacheTTL = v
	}
	if v, ok := fields["webhook_enabled"].(bool); ok {
		row.WebhookEnabled = v
	}
	if v, ok := fields["mapping_version"].(int); ok {
		row.MappingVersion = v
	}
	if v, ok := fields["max_attempts"].(int); ok {
		row.MaxAttempts = v
	}
	if v, ok := fields["is_open"].(bool); ok {
		row.IsOpen = v
	}
	if v, ok := fields["failure_count"].(int); ok {
		row.FailureCount = v
	}
	if v, present := fields["reopen_at"]; present {
		row.ReopenAt = asTimeField(v)
	}
	if v, present := fields["last_failure_at"]; present {
		row.LastFailureAt = asTimeField(v)
	}
	if v, present := fields["next_scheduled_sync_at"]; present {
		row.NextScheduledSyncAt = asTimeField(v)
	}
	if v, present := fields["last_webhook_sync_at"]; present {
		row.LastWebhookSyncAt = asTimeField(v)
	}
	if v, present := fields["last_polling_sync_at"]; present {
		row.LastPollingSyncAt = asTimeField(v)
	}
	return nil
}

func (s *stubRepo) UpdateSyncSettingFieldsTx(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) error {
	return s.UpdateSyncSettingFields(ctx, entityType, fields)
}

func (s *stubRepo) ListSchemaMappings(ctx context.Context, entityType string, version int) ([]models.SchemaMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SchemaMapping
	for _, row := range s.mappings {
		if row.EntityType == entityType && row.Version == version {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubRepo) InsertSchemaMappings(ctx context.Context, items []models.SchemaMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, items...)
	return nil
}

func (s *stubRepo) CountSchemaMappings(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.mappings)), nil
}

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	s.system[item.Key] = &row
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.system[key]; ok {
		out := *row
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SystemSetting, 0, len(s.system))
	for _, row := range s.system {
		out = append(out, *row)
	}
	return out, nil
}

// --- audit log --------------------------------------------------------------

func (s *stubRepo) InsertSyncLog(ctx context.Context, item *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	row.ID = uint64(len(s.logs) + 1)
	s.logs = append(s.logs, row)
	return nil
}

func (s *stubRepo) ListSyncLogs(ctx context.Context, params repository.ListSyncLogsParams) ([]models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncLog
	for _, row := range s.logs {
		if matchSyncLog(row, params) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubRepo) CountSyncLogs(ctx context.Context, params repository.ListSyncLogsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, row := range s.logs {
		if matchSyncLog(row, params) {
			count++
		}
	}
	return count, nil
}

func matchSyncLog(row models.SyncLog, params repository.ListSyncLogsParams) bool {
	if params.EntityType != nil && *params.EntityType != "" && row.EntityType != *params.EntityType {
		return false
	}
	if params.Method != nil && *params.Method != "" && row.Method != *params.Method {
		return false
	}
	if params.Status != nil && *params.Status != "" && row.Status != *params.Status {
		return false
	}
	if params.Since != nil && row.StartedAt.Before(*params.Since) {
		return false
	}
	return true
}
