package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
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

// NotionAPI is the slice of the Notion client the engine needs; tests
// substitute a fake.
type NotionAPI interface {
	GetPage(ctx context.Context, pageID string) (*notion.Page, error)
	QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*notion.QueryResult, error)
	GetDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
}

// SyncEngine pulls pages out of Notion and lands them in the cache:
// single pages on behalf of the queue, whole databases for polling and
// the initial sync. Every remote call already passes the rate gate inside
// the client; the engine adds breaker checks, mapping, conflict
// detection, TTL stamping and the audit log.
type SyncEngine struct {
	Store     repository.Repository
	Notion    NotionAPI
	Mapper    *mapping.Mapper
	Breaker   *CircuitBreaker
	Conflicts *ConflictService
	Schedule  *ScheduleService
	Settings  *SyncSettingsService
	Events    *events.Hub
	Config    config.SyncConfig
	Logger    *zap.Logger
}

type SyncReport struct {
	EntityType string   `json:"entity_type"`
	Method     string   `json:"method"`
	Status     string   `json:"status"`
	Pages      int      `json:"pages"`
	Processed  int      `json:"processed"`
	Failed     int      `json:"failed"`
	Conflicts  int      `json:"conflicts"`
	Tombstoned int      `json:"tombstoned"`
	DurationMs int64    `json:"duration_ms"`
	Skipped    bool     `json:"skipped,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

type pageOutcome struct {
	conflicted bool
	err        error
}

// SyncPage fetches one page and upserts it. The breaker is consulted
// first: an open circuit turns the call into a logged no-op. Failures of
// the remote call feed the breaker and propagate; mapping rejects
// propagate without touching the breaker.
func (e *SyncEngine) SyncPage(ctx context.Context, entityType, notionID, method string) error {
	if e == nil || e.Store == nil || e.Notion == nil {
		return fmt.Errorf("sync engine not configured")
	}
	if !models.ValidEntityType(entityType) {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	started := time.Now().UTC()
	setting, err := e.Store.GetSyncSetting(ctx, entityType)
	if err != nil {
		return err
	}
	if setting == nil || setting.DatabaseID == "" {
		return fmt.Errorf("no active sync configuration for %s", entityType)
	}
	allowed, err := e.Breaker.Allow(ctx, entityType)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	page, err := e.Notion.GetPage(ctx, notionID)
	if err != nil {
		if notion.IsNotFound(err) {
			return e.DeletePage(ctx, entityType, notionID, method)
		}
		_ = e.Breaker.RecordFailure(ctx, entityType, err)
		e.writeSyncLog(ctx, entityType, method, models.SyncStatusFailed, syncTotals{failed: 1, errors: []string{err.Error()}}, started)
		return err
	}
	_ = e.Breaker.RecordSuccess(ctx, entityType)

	if page.Archived || page.InTrash {
		return e.DeletePage(ctx, entityType, notionID, method)
	}

	outcome := e.applyPage(ctx, entityType, setting, page)
	if outcome.err != nil {
		e.writeSyncLog(ctx, entityType, method, models.SyncStatusFailed, syncTotals{failed: 1, errors: []string{outcome.err.Error()}}, started)
		return outcome.err
	}
	totals := syncTotals{}
	if outcome.conflicted {
		totals.conflicts = 1
	} else {
		totals.processed = 1
	}
	e.writeSyncLog(ctx, entityType, method, models.SyncStatusSuccess, totals, started)
	return nil
}

// DeletePage tombstones a page that no longer exists remotely. The row is
// kept with deleted_from_notion set, never physically removed here.
func (e *SyncEngine) DeletePage(ctx context.Context, entityType, notionID, method string) error {
	if e == nil || e.Store == nil {
		return nil
	}
	started := time.Now().UTC()
	affected, err := e.Store.MarkDeletedFromNotion(ctx, entityType, []string{notionID})
	if err != nil {
		e.writeSyncLog(ctx, entityType, method, models.SyncStatusFailed, syncTotals{failed: 1, errors: []string{err.Error()}}, started)
		return err
	}
	if entityType == models.EntityTask {
		if err := e.Store.ReplaceTaskSchedulingConflicts(ctx, notionID, nil); err != nil && e.Logger != nil {
			e.Logger.Warn("failed to clear scheduling conflicts for deleted task",
				zap.String("notion_id", notionID), zap.Error(err))
		}
	}
	if affected > 0 {
		e.denormalize(ctx, entityType)
	}
	e.writeSyncLog(ctx, entityType, method, models.SyncStatusSuccess, syncTotals{processed: int(affected)}, started)
	return nil
}

// SyncDatabase walks the whole remote collection with cursor pagination
// and applies items in concurrent batches. Item failures are recorded and
// skipped, never aborting the run; only setup problems and page-level
// fetch failures return an error.
func (e *SyncEngine) SyncDatabase(ctx context.Context, entityType, method string) (*SyncReport, error) {
	if e == nil || e.Store == nil || e.Notion == nil {
		return nil, fmt.Errorf("sync engine not configured")
	}
	if !models.ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	started := time.Now().UTC()
	report := &SyncReport{EntityType: entityType, Method: method}

	setting, err := e.Store.GetSyncSetting(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if setting == nil || setting.DatabaseID == "" {
		return nil, fmt.Errorf("no active sync configuration for %s", entityType)
	}
	allowed, err := e.Breaker.Allow(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if !allowed {
		report.Skipped = true
		report.Status = "skipped"
		return report, nil
	}

	pageSize := e.Config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	batchSize := e.Config.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var mu sync.Mutex
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			report.Status = models.SyncStatusFailed
			report.Errors = append(report.Errors, err.Error())
			e.writeReportLog(ctx, report, started)
			return report, err
		}
		result, err := e.Notion.QueryDatabase(ctx, setting.DatabaseID, cursor, pageSize)
		if err != nil {
			_ = e.Breaker.RecordFailure(ctx, entityType, err)
			report.Status = models.SyncStatusFailed
			report.Errors = append(report.Errors, err.Error())
			e.writeReportLog(ctx, report, started)
			return report, err
		}
		_ = e.Breaker.RecordSuccess(ctx, entityType)
		report.Pages++

		items := result.Results
		for start := 0; start < len(items); start += batchSize {
			end := start + batchSize
			if end > len(items) {
				end = len(items)
			}
			var wg sync.WaitGroup
			for i := start; i < end; i++ {
				page := items[i]
				wg.Add(1)
				go func() {
					defer wg.Done()
					var outcome pageOutcome
					if page.Archived || page.InTrash {
						_, err := e.Store.MarkDeletedFromNotion(ctx, entityType, []string{page.ID})
						outcome.err = err
						if err == nil && entityType == models.EntityTask {
							_ = e.Store.ReplaceTaskSchedulingConflicts(ctx, page.ID, nil)
						}
						mu.Lock()
						if outcome.err != nil {
							report.Failed++
							report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", page.ID, outcome.err))
						} else {
							report.Tombstoned++
						}
						mu.Unlock()
						return
					}
					outcome = e.applyPage(ctx, entityType, setting, &page)
					mu.Lock()
					switch {
					case outcome.err != nil:
						report.Failed++
						report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", page.ID, outcome.err))
					case outcome.conflicted:
						report.Conflicts++
					default:
						report.Processed++
					}
					mu.Unlock()
				}()
			}
			wg.Wait()
		}

		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	e.denormalize(ctx, entityType)
	if err := e.Settings.MarkSynced(ctx, entityType, method, time.Now().UTC()); err != nil && e.Logger != nil {
		e.Logger.Warn("failed to stamp sync settings", zap.String("entity_type", entityType), zap.Error(err))
	}

	report.Status = models.SyncStatusSuccess
	if report.Failed > 0 {
		report.Status = models.SyncStatusPartial
	}
	report.DurationMs = time.Since(started).Milliseconds()
	e.writeReportLog(ctx, report, started)
	if e.Events != nil {
		e.Events.Publish(events.Event{
			Type:       events.TypeSyncCompleted,
			EntityType: entityType,
			Detail:     fmt.Sprintf("%s: %d processed, %d failed, %d conflicts", method, report.Processed, report.Failed, report.Conflicts),
		})
	}
	if e.Logger != nil {
		e.Logger.Info("database sync finished",
			zap.String("entity_type", entityType),
			zap.String("method", method),
			zap.String("status", report.Status),
			zap.Int("pages", report.Pages),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Int("conflicts", report.Conflicts),
		)
	}
	return report, nil
}

// SyncAll runs a database sync for every configured entity type. One
// entity type failing does not stop the others.
func (e *SyncEngine) SyncAll(ctx context.Context, method string) []*SyncReport {
	reports := make([]*SyncReport, 0, len(models.AllEntityTypes()))
	for _, entityType := range models.AllEntityTypes() {
		setting, err := e.Store.GetSyncSetting(ctx, entityType)
		if err != nil || setting == nil || setting.DatabaseID == "" {
			continue
		}
		report, err := e.SyncDatabase(ctx, entityType, method)
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("sync failed", zap.String("entity_type", entityType), zap.Error(err))
			}
			if report == nil {
				report = &SyncReport{EntityType: entityType, Method: method, Status: models.SyncStatusFailed, Errors: []string{err.Error()}}
			}
		}
		reports = append(reports, report)
	}
	return reports
}

// applyPage maps one page and lands it in the cache, unless a conflict
// blocks the write. A page either fully upserts or not at all.
func (e *SyncEngine) applyPage(ctx context.Context, entityType string, setting *models.SyncSetting, page *notion.Page) pageOutcome {
	now := time.Now().UTC()
	expires := now.Add(setting.CacheTTLDuration(e.Config.DefaultCacheTTL))

	switch entityType {
	case models.EntityTask:
		incoming, err := e.Mapper.BuildTask(page)
		if err != nil {
			return pageOutcome{err: err}
		}
		cached, err := e.Store.GetTask(ctx, page.ID)
		if err != nil {
			return pageOutcome{err: err}
		}
		if cached != nil {
			conflict, err := e.Conflicts.Check(ctx, ConflictCheck{
				EntityType:     entityType,
				NotionID:       page.ID,
				LocalEditedAt:  cached.LocalEditedAt,
				LastSyncAt:     cached.LastSyncAt,
				RemoteEditedAt: page.LastEditedTime,
				LocalFields:    TaskFieldView(cached),
				IncomingFields: TaskFieldView(incoming),
				RemoteRaw:      incoming.RawJSON,
			})
			if err != nil {
				return pageOutcome{err: err}
			}
			if conflict != nil {
				return pageOutcome{conflicted: true}
			}
		}
		incoming.LastSyncAt = now
		incoming.ExpiresAt = expires
		if err := e.Store.InTx(ctx, func(tx *gorm.DB) error {
			return e.Store.UpsertTasksTx(ctx, tx, []models.CachedTask{*incoming})
		}); err != nil {
			return pageOutcome{err: err}
		}
		if err := e.Schedule.RecomputeForTask(ctx, incoming); err != nil {
			return pageOutcome{err: err}
		}
	case models.EntityProject:
		incoming, err := e.Mapper.BuildProject(page)
		if err != nil {
			return pageOutcome{err: err}
		}
		cached, err := e.Store.GetProject(ctx, page.ID)
		if err != nil {
			return pageOutcome{err: err}
		}
		if cached != nil {
			conflict, err := e.Conflicts.Check(ctx, ConflictCheck{
				EntityType:     entityType,
				NotionID:       page.ID,
				LocalEditedAt:  cached.LocalEditedAt,
				LastSyncAt:     cached.LastSyncAt,
				RemoteEditedAt: page.LastEditedTime,
				LocalFields:    ProjectFieldView(cached),
				IncomingFields: ProjectFieldView(incoming),
				RemoteRaw:      incoming.RawJSON,
			})
			if err != nil {
				return pageOutcome{err: err}
			}
			if conflict != nil {
				return pageOutcome{conflicted: true}
			}
		}
		incoming.LastSyncAt = now
		incoming.ExpiresAt = expires
		if err := e.Store.InTx(ctx, func(tx *gorm.DB) error {
			return e.Store.UpsertProjectsTx(ctx, tx, []models.CachedProject{*incoming})
		}); err != nil {
			return pageOutcome{err: err}
		}
	case models.EntityMember:
		incoming, err := e.Mapper.BuildMember(page)
		if err != nil {
			return pageOutcome{err: err}
		}
		cached, err := e.Store.GetMember(ctx, page.ID)
		if err != nil {
			return pageOutcome{err: err}
		}
		if cached != nil {
			conflict, err := e.Conflicts.Check(ctx, ConflictCheck{
				EntityType:     entityType,
				NotionID:       page.ID,
				LocalEditedAt:  cached.LocalEditedAt,
				LastSyncAt:     cached.LastSyncAt,
				RemoteEditedAt: page.LastEditedTime,
				LocalFields:    MemberFieldView(cached),
				IncomingFields: MemberFieldView(incoming),
				RemoteRaw:      incoming.RawJSON,
			})
			if err != nil {
				return pageOutcome{err: err}
			}
			if conflict != nil {
				return pageOutcome{conflicted: true}
			}
		}
		incoming.LastSyncAt = now
		incoming.ExpiresAt = expires
		if err := e.Store.InTx(ctx, func(tx *gorm.DB) error {
			return e.Store.UpsertMembersTx(ctx, tx, []models.CachedMember{*incoming})
		}); err != nil {
			return pageOutcome{err: err}
		}
	case models.EntityTeam:
		incoming, err := e.Mapper.BuildTeam(page)
		if err != nil {
			return pageOutcome{err: err}
		}
		cached, err := e.Store.GetTeam(ctx, page.ID)
		if err != nil {
			return pageOutcome{err: err}
		}
		if cached != nil {
			conflict, err := e.Conflicts.Check(ctx, ConflictCheck{
				EntityType:     entityType,
				NotionID:       page.ID,
				LocalEditedAt:  cached.LocalEditedAt,
				LastSyncAt:     cached.LastSyncAt,
				RemoteEditedAt: page.LastEditedTime,
				LocalFields:    TeamFieldView(cached),
				IncomingFields: TeamFieldView(incoming),
				RemoteRaw:      incoming.RawJSON,
			})
			if err != nil {
				return pageOutcome{err: err}
			}
			if conflict != nil {
				return pageOutcome{conflicted: true}
			}
		}
		incoming.LastSyncAt = now
		incoming.ExpiresAt = expires
		if err := e.Store.InTx(ctx, func(tx *gorm.DB) error {
			return e.Store.UpsertTeamsTx(ctx, tx, []models.CachedTeam{*incoming})
		}); err != nil {
			return pageOutcome{err: err}
		}
	case models.EntityClient:
		incoming, err := e.Mapper.BuildClient(page)
		if err != nil {
			return pageOutcome{err: err}
		}
		cached, err := e.Store.GetClient(ctx, page.ID)
		if err != nil {
			return pageOutcome{err: err}
		}
		if cached != nil {
			conflict, err := e.Conflicts.Check(ctx, ConflictCheck{
				EntityType:     entityType,
				NotionID:       page.ID,
				LocalEditedAt:  cached.LocalEditedAt,
				LastSyncAt:     cached.LastSyncAt,
				RemoteEditedAt: page.LastEditedTime,
				LocalFields:    ClientFieldView(cached),
				IncomingFields: ClientFieldView(incoming),
				RemoteRaw:      incoming.RawJSON,
			})
			if err != nil {
				return pageOutcome{err: err}
			}
			if conflict != nil {
				return pageOutcome{conflicted: true}
			}
		}
		incoming.LastSyncAt = now
		incoming.ExpiresAt = expires
		if err := e.Store.InTx(ctx, func(tx *gorm.DB) error {
			return e.Store.UpsertClientsTx(ctx, tx, []models.CachedClient{*incoming})
		}); err != nil {
			return pageOutcome{err: err}
		}
	default:
		return pageOutcome{err: fmt.Errorf("unknown entity type %q", entityType)}
	}
	return pageOutcome{}
}

// denormalize recomputes the rollup columns derived from entityType rows.
func (e *SyncEngine) denormalize(ctx context.Context, entityType string) {
	var err error
	switch entityType {
	case models.EntityTask:
		if err = e.Store.RecomputeProjectRollups(ctx); err == nil {
			err = e.Store.RecomputeMemberRollups(ctx)
		}
	case models.EntityProject:
		err = e.Store.RecomputeClientRollups(ctx)
	case models.EntityMember:
		err = e.Store.RecomputeTeamRollups(ctx)
	}
	if err != nil && e.Logger != nil {
		e.Logger.Warn("denormalization pass failed", zap.String("entity_type", entityType), zap.Error(err))
	}
}

type syncTotals struct {
	processed  int
	failed     int
	conflicts  int
	pages      int
	tombstoned int
	errors     []string
}

func (e *SyncEngine) writeReportLog(ctx context.Context, report *SyncReport, started time.Time) {
	e.writeSyncLog(ctx, report.EntityType, report.Method, report.Status, syncTotals{
		processed:  report.Processed + report.Tombstoned,
		failed:     report.Failed,
		conflicts:  report.Conflicts,
		pages:      report.Pages,
		tombstoned: report.Tombstoned,
		errors:     report.Errors,
	}, started)
}

func (e *SyncEngine) writeSyncLog(ctx context.Context, entityType, method, status string, totals syncTotals, started time.Time) {
	item := &models.SyncLog{
		RunID:          uuid.NewString(),
		EntityType:     entityType,
		Method:         method,
		Status:         status,
		ItemsProcessed: totals.processed,
		ItemsFailed:    totals.failed,
		Conflicts:      totals.conflicts,
		Pages:          totals.pages,
		DurationMs:     time.Since(started).Milliseconds(),
		Errors:         truncatedErrors(totals.errors),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	if err := e.Store.InsertSyncLog(ctx, item); err != nil && e.Logger != nil {
		e.Logger.Warn("failed to write sync log", zap.Error(err))
	}
}

// truncatedErrors keeps the first ten error strings, enough to diagnose
// without growing the audit row unboundedly.
func truncatedErrors(errs []string) datatypes.JSON {
	if len(errs) == 0 {
		return datatypes.JSON([]byte("null"))
	}
	if len(errs) > 10 {
		errs = errs[:10]
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(payload)
}
