package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/events"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// ReconciliationService compares the full remote id set against the
// cache and repairs drift from missed webhooks: remote-only pages are
// enqueued as creates, stale pages as updates, cache-only rows become
// tombstones. Runs nightly and on demand. Entity types are reconciled
// independently so one failing type never blocks the rest.
type ReconciliationService struct {
	Store   repository.Repository
	Notion  NotionAPI
	Queue   *SyncQueueService
	Breaker *CircuitBreaker
	Flags   *SystemSettingsService
	Events  *events.Hub
	Config  config.SyncConfig
	Logger  *zap.Logger
}

type ReconcileReport struct {
	EntityType string `json:"entity_type"`
	Remote     int    `json:"remote"`
	Cached     int    `json:"cached"`
	Missing    int    `json:"missing"`
	Outdated   int    `json:"outdated"`
	Orphaned   int    `json:"orphaned"`
	DurationMs int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunScheduled is the cron entry point; honors the reconciliation
// feature switch. Manual triggers call RunAll directly.
func (s *ReconciliationService) RunScheduled(ctx context.Context) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureReconciliation, true) {
		return
	}
	s.RunAll(ctx)
}

// RunAll reconciles every configured entity type and writes one
// aggregate audit row for the run.
func (s *ReconciliationService) RunAll(ctx context.Context) []ReconcileReport {
	started := time.Now().UTC()
	reports := make([]ReconcileReport, 0, len(models.AllEntityTypes()))
	for _, entityType := range models.AllEntityTypes() {
		setting, err := s.Store.GetSyncSetting(ctx, entityType)
		if err != nil || setting == nil || setting.DatabaseID == "" {
			continue
		}
		reports = append(reports, s.reconcileEntity(ctx, entityType, setting.DatabaseID))
	}

	var processed, failed int
	var errs []string
	for _, r := range reports {
		processed += r.Missing + r.Outdated + r.Orphaned
		if r.Error != "" {
			failed++
			errs = append(errs, fmt.Sprintf("%s: %s", r.EntityType, r.Error))
		}
	}
	status := models.SyncStatusSuccess
	switch {
	case failed == len(reports) && failed > 0:
		status = models.SyncStatusFailed
	case failed > 0:
		status = models.SyncStatusPartial
	}
	s.writeRunLog(ctx, status, processed, failed, errs, started)

	if s.Events != nil {
		s.Events.Publish(events.Event{
			Type:   events.TypeReconcileFinished,
			Detail: fmt.Sprintf("%d repairs across %d entity types", processed, len(reports)),
		})
	}
	if s.Logger != nil {
		s.Logger.Info("reconciliation finished",
			zap.String("status", status),
			zap.Int("repairs", processed),
			zap.Int("entity_types", len(reports)),
			zap.Duration("took", time.Since(started)),
		)
	}
	return reports
}

// RunOne reconciles a single entity type on demand.
func (s *ReconciliationService) RunOne(ctx context.Context, entityType string) (*ReconcileReport, error) {
	if !models.ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	setting, err := s.Store.GetSyncSetting(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if setting == nil || setting.DatabaseID == "" {
		return nil, fmt.Errorf("no active sync configuration for %s", entityType)
	}
	report := s.reconcileEntity(ctx, entityType, setting.DatabaseID)
	return &report, nil
}

func (s *ReconciliationService) reconcileEntity(ctx context.Context, entityType, databaseID string) ReconcileReport {
	started := time.Now().UTC()
	report := ReconcileReport{EntityType: entityType}
	defer func() {
		report.DurationMs = time.Since(started).Milliseconds()
	}()

	allowed, err := s.Breaker.Allow(ctx, entityType)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if !allowed {
		report.Skipped = true
		return report
	}

	remote, err := s.listRemoteStamps(ctx, entityType, databaseID)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Remote = len(remote)

	cached, err := s.Store.ListCachedIDs(ctx, entityType)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Cached = len(cached)
	cachedIdx := make(map[string]repository.CachedIDStamp, len(cached))
	for _, row := range cached {
		cachedIdx[row.NotionID] = row
	}

	for id, remoteEdited := range remote {
		row, ok := cachedIdx[id]
		switch {
		case !ok || row.DeletedFromNotion:
			// Remote-only (or resurrected after a tombstone): pull it in now.
			if s.enqueueRepair(ctx, entityType, id, models.QueueOpCreate, models.PriorityHigh) {
				report.Missing++
			}
		case remoteEdited.After(row.LastSyncAt):
			if s.enqueueRepair(ctx, entityType, id, models.QueueOpUpdate, models.PriorityMedium) {
				report.Outdated++
			}
		}
	}

	var orphans []string
	for id, row := range cachedIdx {
		if _, ok := remote[id]; !ok && !row.DeletedFromNotion {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		affected, err := s.Store.MarkDeletedFromNotion(ctx, entityType, orphans)
		if err != nil {
			report.Error = err.Error()
			return report
		}
		report.Orphaned = int(affected)
		if entityType == models.EntityTask {
			for _, id := range orphans {
				if err := s.Store.ReplaceTaskSchedulingConflicts(ctx, id, nil); err != nil && s.Logger != nil {
					s.Logger.Warn("failed to clear scheduling conflicts for orphaned task",
						zap.String("notion_id", id), zap.Error(err))
				}
			}
		}
	}

	if s.Logger != nil {
		s.Logger.Info("entity reconciled",
			zap.String("entity_type", entityType),
			zap.Int("remote", report.Remote),
			zap.Int("cached", report.Cached),
			zap.Int("missing", report.Missing),
			zap.Int("outdated", report.Outdated),
			zap.Int("orphaned", report.Orphaned),
		)
	}
	return report
}

// listRemoteStamps pages through the whole remote collection and returns
// id -> last edited time. Only ids and stamps are kept; the actual pull
// happens through the queue.
func (s *ReconciliationService) listRemoteStamps(ctx context.Context, entityType, databaseID string) (map[string]time.Time, error) {
	pageSize := s.Config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	stamps := make(map[string]time.Time)
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := s.Notion.QueryDatabase(ctx, databaseID, cursor, pageSize)
		if err != nil {
			_ = s.Breaker.RecordFailure(ctx, entityType, err)
			return nil, err
		}
		for _, page := range result.Results {
			if page.Archived || page.InTrash {
				continue
			}
			stamps[page.ID] = page.LastEditedTime
		}
		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	_ = s.Breaker.RecordSuccess(ctx, entityType)
	return stamps, nil
}

func (s *ReconciliationService) enqueueRepair(ctx context.Context, entityType, notionID, operation string, priority int) bool {
	_, err := s.Queue.Enqueue(ctx, EnqueueRequest{
		EntityType: entityType,
		NotionID:   notionID,
		Operation:  operation,
		Source:     models.QueueSourceReconciliation,
		Priority:   priority,
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("failed to enqueue repair",
				zap.String("entity_type", entityType),
				zap.String("notion_id", notionID),
				zap.Error(err))
		}
		return false
	}
	return true
}

func (s *ReconciliationService) writeRunLog(ctx context.Context, status string, processed, failed int, errs []string, started time.Time) {
	item := &models.SyncLog{
		RunID:          uuid.NewString(),
		EntityType:     "all",
		Method:         models.SyncMethodReconciliation,
		Status:         status,
		ItemsProcessed: processed,
		ItemsFailed:    failed,
		DurationMs:     time.Since(started).Milliseconds(),
		Errors:         truncatedErrors(errs),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	if err := s.Store.InsertSyncLog(ctx, item); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to write reconciliation log", zap.Error(err))
	}
}
