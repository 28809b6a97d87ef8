package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"notionsync/internal/models"
	"notionsync/internal/repository"
)

const (
	FeaturePollingSync      = "feature.polling_sync"
	FeatureQueueWorker      = "feature.queue_worker"
	FeatureWebhookIngest    = "feature.webhook_ingest"
	FeatureReconciliation   = "feature.reconciliation"
	FeatureScheduleDetector = "feature.schedule_detector"
	FeatureCacheSweep       = "feature.cache_sweep"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeaturePollingSync:      true,
		FeatureQueueWorker:      true,
		FeatureWebhookIngest:    true,
		FeatureReconciliation:   true,
		FeatureScheduleDetector: true,
		FeatureCacheSweep:       true,
	}
}

// SystemSettingsService stores runtime switches in the database so
// operators can pause subsystems without a redeploy.
type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

func (s *SystemSettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListSystemSettings(ctx)
}
