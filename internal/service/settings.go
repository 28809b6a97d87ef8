package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// SyncSettingsService owns the per-entity sync_settings rows: database
// bindings, polling intervals, cache TTLs and the persisted breaker state.
type SyncSettingsService struct {
	Repo   repository.Repository
	Config config.Config
	Logger *zap.Logger
}

// EnsureDefaults creates a settings row for every entity type that has a
// database id configured. Existing rows keep their stored values; only the
// database id follows the config.
func (s *SyncSettingsService) EnsureDefaults(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, entityType := range models.AllEntityTypes() {
		databaseID := strings.TrimSpace(s.Config.Notion.Databases[entityType])
		existing, err := s.Repo.GetSyncSetting(ctx, entityType)
		if err != nil {
			return err
		}
		if existing != nil {
			if databaseID != "" && existing.DatabaseID != databaseID {
				if err := s.Repo.UpdateSyncSettingFields(ctx, entityType, map[string]any{
					"database_id": databaseID,
				}); err != nil {
					return err
				}
			}
			continue
		}
		if databaseID == "" {
			if s.Logger != nil {
				s.Logger.Warn("no database configured for entity type", zap.String("entity_type", entityType))
			}
			continue
		}
		item := &models.SyncSetting{
			EntityType:        entityType,
			DatabaseID:        databaseID,
			PollingInterval:   s.Config.Sync.DefaultPollingInterval.String(),
			CacheTTL:          s.Config.Sync.DefaultCacheTTL.String(),
			WebhookEnabled:    true,
			MappingVersion:    1,
			MaxAttempts:       s.Config.Queue.MaxAttempts,
			BackoffInitialMs:  int(s.Config.Queue.BackoffInitialDelay.Milliseconds()),
			BackoffMultiplier: s.Config.Queue.BackoffMultiplier,
			RequestsPerSecond: s.Config.RateLimit.RequestsPerSecond,
			BurstLimit:        s.Config.RateLimit.Burst,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.Repo.SaveSyncSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncSettingsService) Get(ctx context.Context, entityType string) (*models.SyncSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	if !models.ValidEntityType(entityType) {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return s.Repo.GetSyncSetting(ctx, entityType)
}

func (s *SyncSettingsService) List(ctx context.Context) ([]models.SyncSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	items, err := s.Repo.ListSyncSettings(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EntityType < items[j].EntityType })
	return items, nil
}

// SettingsPatch carries the operator-editable fields. Nil means keep.
type SettingsPatch struct {
	DatabaseID      *string `json:"database_id"`
	PollingInterval *string `json:"polling_interval"`
	CacheTTL        *string `json:"cache_ttl"`
	WebhookEnabled  *bool   `json:"webhook_enabled"`
	MappingVersion  *int    `json:"mapping_version"`
	MaxAttempts     *int    `json:"max_attempts"`
}

func (s *SyncSettingsService) Update(ctx context.Context, entityType string, patch SettingsPatch) (*models.SyncSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	existing, err := s.Get(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("no sync settings for %q", entityType)
	}
	fields := map[string]any{}
	if patch.DatabaseID != nil {
		trimmed := strings.TrimSpace(*patch.DatabaseID)
		if trimmed == "" {
			return nil, fmt.Errorf("database_id must not be empty")
		}
		fields["database_id"] = trimmed
	}
	if patch.PollingInterval != nil {
		if _, err := time.ParseDuration(*patch.PollingInterval); err != nil {
			return nil, fmt.Errorf("invalid polling_interval: %w", err)
		}
		fields["polling_interval"] = *patch.PollingInterval
	}
	if patch.CacheTTL != nil {
		ttl, err := time.ParseDuration(*patch.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_ttl: %w", err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("cache_ttl must be positive")
		}
		fields["cache_ttl"] = *patch.CacheTTL
	}
	if patch.WebhookEnabled != nil {
		fields["webhook_enabled"] = *patch.WebhookEnabled
	}
	if patch.MappingVersion != nil {
		if *patch.MappingVersion <= 0 {
			return nil, fmt.Errorf("mapping_version must be positive")
		}
		fields["mapping_version"] = *patch.MappingVersion
	}
	if patch.MaxAttempts != nil {
		if *patch.MaxAttempts <= 0 {
			return nil, fmt.Errorf("max_attempts must be positive")
		}
		fields["max_attempts"] = *patch.MaxAttempts
	}
	if len(fields) == 0 {
		return existing, nil
	}
	if err := s.Repo.UpdateSyncSettingFields(ctx, entityType, fields); err != nil {
		return nil, err
	}
	return s.Repo.GetSyncSetting(ctx, entityType)
}

// MarkSynced stamps the method-specific last-sync column plus the next
// scheduled polling run.
func (s *SyncSettingsService) MarkSynced(ctx context.Context, entityType, method string, at time.Time) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	setting, err := s.Repo.GetSyncSetting(ctx, entityType)
	if err != nil || setting == nil {
		return err
	}
	interval := setting.PollingIntervalDuration(s.Config.Sync.DefaultPollingInterval)
	fields := map[string]any{
		"next_scheduled_sync_at": at.Add(interval),
	}
	switch method {
	case models.SyncMethodWebhook:
		fields["last_webhook_sync_at"] = at
	case models.SyncMethodPolling, models.SyncMethodInitial:
		fields["last_polling_sync_at"] = at
	}
	return s.Repo.UpdateSyncSettingFields(ctx, entityType, fields)
}
