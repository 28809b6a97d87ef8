package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"notionsync/internal/client/notion"
	"notionsync/internal/config"
	"notionsync/internal/events"
	"notionsync/internal/mapping"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// SyncQueueService owns the durable work queue: webhooks and
// reconciliation enqueue, workers claim and dispatch to the engine.
// Claiming is the only contended step and the store serializes it, so
// any number of workers can run.
type SyncQueueService struct {
	Store  repository.Repository
	Engine *SyncEngine
	Mapper *mapping.Mapper
	Flags  *SystemSettingsService
	Events *events.Hub
	Config config.QueueConfig
	Logger *zap.Logger
}

type EnqueueRequest struct {
	EntityType string         `json:"entity_type"`
	NotionID   string         `json:"notion_id"`
	Operation  string         `json:"operation"`
	Source     string         `json:"source"`
	Priority   int            `json:"priority"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
}

type QueueStats struct {
	Depth    int64            `json:"depth"`
	ByStatus map[string]int64 `json:"by_status"`
}

// Enqueue validates and persists one queue item. It never performs the
// sync itself; callers return as soon as the row is written.
func (s *SyncQueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncQueueItem, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("queue service not configured")
	}
	if !models.ValidEntityType(req.EntityType) {
		return nil, fmt.Errorf("unknown entity type %q", req.EntityType)
	}
	if !models.ValidQueueOperation(req.Operation) {
		return nil, fmt.Errorf("unknown operation %q", req.Operation)
	}
	if strings.TrimSpace(req.NotionID) == "" && req.Operation != models.QueueOpSchemaRefresh {
		return nil, fmt.Errorf("notion_id is required")
	}
	priority := req.Priority
	if priority < models.PriorityHigh || priority > models.PriorityLow {
		priority = models.PriorityMedium
	}
	source := req.Source
	if source == "" {
		source = models.QueueSourceWebhook
	}
	maxAttempts := s.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	item := &models.SyncQueueItem{
		EntityType:  req.EntityType,
		NotionID:    strings.TrimSpace(req.NotionID),
		Operation:   req.Operation,
		Source:      source,
		Priority:    priority,
		Status:      models.QueueStatusPending,
		Payload:     req.Payload,
		MaxAttempts: maxAttempts,
	}
	if err := s.Store.EnqueueSyncItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (s *SyncQueueService) Run(ctx context.Context) error {
	if s == nil || s.Store == nil || s.Engine == nil {
		return fmt.Errorf("queue service not configured")
	}
	workers := s.Config.Workers
	if workers <= 0 {
		workers = 2
	}
	if s.Logger != nil {
		s.Logger.Info("queue workers starting", zap.Int("workers", workers))
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			s.runWorker(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (s *SyncQueueService) runWorker(ctx context.Context, worker int) {
	idle := s.Config.IdleDelay
	if idle <= 0 {
		idle = 2 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureQueueWorker, true) {
			s.wait(ctx, idle)
			continue
		}
		item, err := s.Store.ClaimNextSyncItem(ctx, time.Now().UTC())
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("queue claim failed", zap.Int("worker", worker), zap.Error(err))
			}
			s.wait(ctx, idle)
			continue
		}
		if item == nil {
			s.wait(ctx, idle)
			continue
		}
		s.processItem(ctx, item)
	}
}

// ProcessOne claims and processes a single item. Exists for manual
// draining and tests; the worker loop uses the same path.
func (s *SyncQueueService) ProcessOne(ctx context.Context) (*models.SyncQueueItem, error) {
	item, err := s.Store.ClaimNextSyncItem(ctx, time.Now().UTC())
	if err != nil || item == nil {
		return nil, err
	}
	s.processItem(ctx, item)
	return s.Store.GetSyncItem(ctx, item.ID)
}

func (s *SyncQueueService) processItem(ctx context.Context, item *models.SyncQueueItem) {
	var err error
	method := methodForSource(item.Source)
	switch item.Operation {
	case models.QueueOpCreate, models.QueueOpUpdate:
		err = s.Engine.SyncPage(ctx, item.EntityType, item.NotionID, method)
	case models.QueueOpDelete:
		err = s.Engine.DeletePage(ctx, item.EntityType, item.NotionID, method)
	case models.QueueOpSchemaRefresh:
		err = s.Mapper.Reload(ctx, item.EntityType)
	default:
		err = fmt.Errorf("unknown operation %q", item.Operation)
	}

	if err == nil {
		s.markCompleted(ctx, item)
		return
	}
	// Mapping rejects replay the same bad payload and auth failures need
	// a new token; neither resolves on retry, so both go terminal on the
	// first attempt.
	terminal := mapping.IsMappingError(err) || notion.IsAuth(err)
	s.markFailed(ctx, item, err, terminal)
}

func (s *SyncQueueService) markCompleted(ctx context.Context, item *models.SyncQueueItem) {
	now := time.Now().UTC()
	fields := map[string]any{
		"status":       models.QueueStatusCompleted,
		"processed_at": now,
	}
	if err := s.Store.UpdateSyncItemFields(ctx, item.ID, fields); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to complete queue item", zap.Uint64("id", item.ID), zap.Error(err))
	}
}

func (s *SyncQueueService) markFailed(ctx context.Context, item *models.SyncQueueItem, cause error, terminal bool) {
	now := time.Now().UTC()
	attempts := item.Attempts + 1
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.Config.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	msg := cause.Error()
	fields := map[string]any{
		"attempts":   attempts,
		"last_error": msg,
	}
	if terminal || attempts >= maxAttempts {
		fields["status"] = models.QueueStatusFailed
		fields["processed_at"] = now
		fields["next_retry_at"] = nil
		if s.Logger != nil {
			s.Logger.Warn("queue item failed permanently",
				zap.Uint64("id", item.ID),
				zap.String("entity_type", item.EntityType),
				zap.String("notion_id", item.NotionID),
				zap.String("operation", item.Operation),
				zap.Int("attempts", attempts),
				zap.Error(cause),
			)
		}
		if s.Events != nil {
			s.Events.Publish(events.Event{
				Type:       events.TypeQueueItemFailed,
				EntityType: item.EntityType,
				NotionID:   item.NotionID,
				Detail:     msg,
			})
		}
	} else {
		retryAt := now.Add(s.backoffDelay(attempts))
		fields["status"] = models.QueueStatusPending
		fields["next_retry_at"] = retryAt
		fields["claimed_at"] = nil
		if s.Logger != nil {
			s.Logger.Warn("queue item failed, retrying",
				zap.Uint64("id", item.ID),
				zap.String("entity_type", item.EntityType),
				zap.String("notion_id", item.NotionID),
				zap.Int("attempts", attempts),
				zap.Int("max_attempts", maxAttempts),
				zap.Time("next_retry_at", retryAt),
				zap.Error(cause),
			)
		}
	}
	if err := s.Store.UpdateSyncItemFields(ctx, item.ID, fields); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to update queue item", zap.Uint64("id", item.ID), zap.Error(err))
	}
}

// backoffDelay doubles (or whatever the multiplier says) per attempt:
// attempt 1 waits the initial delay, attempt n waits initial*mult^(n-1).
func (s *SyncQueueService) backoffDelay(attempts int) time.Duration {
	initial := s.Config.BackoffInitialDelay
	if initial <= 0 {
		initial = 5 * time.Minute
	}
	multiplier := s.Config.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := initial
	for i := 1; i < attempts; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	return delay
}

// RetryFailed flips failed items back to pending with a clean attempt
// counter. Operator triggered.
func (s *SyncQueueService) RetryFailed(ctx context.Context, entityType *string) (int64, error) {
	return s.Store.ResetFailedSyncItems(ctx, entityType)
}

// Clear deletes queue items outright. Defaults to pending and failed,
// leaving completed rows for the purge cycle.
func (s *SyncQueueService) Clear(ctx context.Context, entityType *string, statuses []string) (int64, error) {
	return s.Store.DeleteSyncItems(ctx, entityType, statuses)
}

// Purge removes completed items past the retention window.
func (s *SyncQueueService) Purge(ctx context.Context) (int64, error) {
	retention := s.Config.CompletedRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return s.Store.PurgeCompletedSyncItems(ctx, time.Now().UTC().Add(-retention))
}

func (s *SyncQueueService) Stats(ctx context.Context) (*QueueStats, error) {
	byStatus, err := s.Store.CountQueueByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Depth:    byStatus[models.QueueStatusPending] + byStatus[models.QueueStatusProcessing],
		ByStatus: byStatus,
	}, nil
}

func (s *SyncQueueService) List(ctx context.Context, params repository.ListQueueParams) ([]models.SyncQueueItem, int64, error) {
	items, err := s.Store.ListSyncItems(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Store.CountSyncItems(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SyncQueueService) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func methodForSource(source string) string {
	switch source {
	case models.QueueSourceManual:
		return models.SyncMethodManual
	case models.QueueSourceReconciliation:
		return models.SyncMethodReconciliation
	}
	return models.SyncMethodWebhook
}
