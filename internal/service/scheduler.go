package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"notionsync/internal/client/notion"
	cronrunner "notionsync/internal/cron"
	"notionsync/internal/models"
)

// PollingScheduler keeps one cron entry per entity type, firing a full
// database sync at that type's polling interval. Entries can be swapped
// at runtime when an operator changes the interval.
type PollingScheduler struct {
	Runner   *cronrunner.Runner
	Settings *SyncSettingsService
	Engine   *SyncEngine
	Flags    *SystemSettingsService
	Logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// Start registers an entry for every configured entity type. The runner
// itself is started by the caller.
func (s *PollingScheduler) Start(ctx context.Context) error {
	if s == nil || s.Runner == nil || s.Settings == nil || s.Engine == nil {
		return fmt.Errorf("polling scheduler not configured")
	}
	settings, err := s.Settings.List(ctx)
	if err != nil {
		return err
	}
	for _, setting := range settings {
		if setting.DatabaseID == "" {
			continue
		}
		interval := setting.PollingIntervalDuration(s.Engine.Config.DefaultPollingInterval)
		if err := s.Reschedule(setting.EntityType, interval); err != nil {
			return fmt.Errorf("schedule %s: %w", setting.EntityType, err)
		}
	}
	return nil
}

// Reschedule replaces the entry for entityType with a fresh interval.
func (s *PollingScheduler) Reschedule(entityType string, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]cron.EntryID)
	}
	if id, ok := s.entries[entityType]; ok {
		s.Runner.Remove(id)
		delete(s.entries, entityType)
	}
	spec := fmt.Sprintf("@every %s", interval)
	id, err := s.Runner.Add(spec, func(ctx context.Context) {
		s.runOnce(ctx, entityType)
	})
	if err != nil {
		return err
	}
	s.entries[entityType] = id
	if s.Logger != nil {
		s.Logger.Info("polling scheduled", zap.String("entity_type", entityType), zap.Duration("interval", interval))
	}
	return nil
}

// Stop removes every entry. Safe to call more than once.
func (s *PollingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for entityType, id := range s.entries {
		s.Runner.Remove(id)
		delete(s.entries, entityType)
	}
}

func (s *PollingScheduler) runOnce(ctx context.Context, entityType string) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePollingSync, true) {
		return
	}
	if _, err := s.Engine.SyncDatabase(ctx, entityType, models.SyncMethodPolling); err != nil {
		if s.Logger == nil {
			return
		}
		// Transient faults heal on the next tick; anything else needs a
		// human looking at it.
		if notion.IsTransient(err) {
			s.Logger.Warn("polling sync failed", zap.String("entity_type", entityType), zap.Error(err))
		} else {
			s.Logger.Error("polling sync failed", zap.String("entity_type", entityType), zap.Error(err))
		}
	}
}
