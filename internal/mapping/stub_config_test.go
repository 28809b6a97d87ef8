package mapping

import (
	"context"

	"gorm.io/gorm"

	"notionsync/internal/models"
)

// stubConfigRepo is a test-only in-memory implementation of
// repository.ConfigRepository.
type stubConfigRepo struct {
	settings map[string]*models.SyncSetting
	mappings []models.SchemaMapping
	system   map[string]*models.SystemSetting
}

func newStubConfigRepo() *stubConfigRepo {
	return &stubConfigRepo{
		settings: make(map[string]*models.SyncSetting),
		system:   make(map[string]*models.SystemSetting),
	}
}

func (s *stubConfigRepo) GetSyncSetting(ctx context.Context, entityType string) (*models.SyncSetting, error) {
	row, ok := s.settings[entityType]
	if !ok {
		return nil, nil
	}
	out := *row
	return &out, nil
}

func (s *stubConfigRepo) GetSyncSettingForUpdateTx(ctx context.Context, tx *gorm.DB, entityType string) (*models.SyncSetting, error) {
	return s.GetSyncSetting(ctx, entityType)
}

func (s *stubConfigRepo) ListSyncSettings(ctx context.Context) ([]models.SyncSetting, error) {
	out := make([]models.SyncSetting, 0, len(s.settings))
	for _, row := range s.settings {
		out = append(out, *row)
	}
	return out, nil
}

func (s *stubConfigRepo) SaveSyncSetting(ctx context.Context, item *models.SyncSetting) error {
	row := *item
	s.settings[item.EntityType] = &row
	return nil
}

func (s *stubConfigRepo) UpdateSyncSettingFields(ctx context.Context, entityType string, fields map[string]any) error {
	return nil
}

func (s *stubConfigRepo) UpdateSyncSettingFieldsTx(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) error {
	return nil
}

func (s *stubConfigRepo) ListSchemaMappings(ctx context.Context, entityType string, version int) ([]models.SchemaMapping, error) {
	var out []models.SchemaMapping
	for _, row := range s.mappings {
		if row.EntityType == entityType && row.Version == version {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubConfigRepo) InsertSchemaMappings(ctx context.Context, items []models.SchemaMapping) error {
	s.mappings = append(s.mappings, items...)
	return nil
}

func (s *stubConfigRepo) CountSchemaMappings(ctx context.Context) (int64, error) {
	return int64(len(s.mappings)), nil
}

func (s *stubConfigRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	row := *item
	s.system[item.Key] = &row
	return nil
}

func (s *stubConfigRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	row, ok := s.system[key]
	if !ok {
		return nil, nil
	}
	out := *row
	return &out, nil
}

func (s *stubConfigRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	out := make([]models.SystemSetting, 0, len(s.system))
	for _, row := range s.system {
		out = append(out, *row)
	}
	return out, nil
}
