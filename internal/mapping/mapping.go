// Package mapping resolves versioned schema mappings and turns raw Notion
// pages into cache rows. Mappings live in the database per entity type and
// version; the active version is pinned in sync_settings.
package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"notionsync/internal/client/notion"
	"notionsync/internal/models"
	"notionsync/internal/repository"
)

// SchemaProber is the slice of the Notion client Validate needs.
type SchemaProber interface {
	GetDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
}

type Mapper struct {
	repo repository.ConfigRepository

	mu       sync.RWMutex
	rules    map[string][]models.SchemaMapping
	versions map[string]int
}

func NewMapper(repo repository.ConfigRepository) *Mapper {
	return &Mapper{
		repo:     repo,
		rules:    make(map[string][]models.SchemaMapping),
		versions: make(map[string]int),
	}
}

// Load resolves the active mapping set for every entity type. An entity
// type with no rows for its pinned version is a configuration error.
func (m *Mapper) Load(ctx context.Context) error {
	rules := make(map[string][]models.SchemaMapping)
	versions := make(map[string]int)
	for _, entityType := range models.AllEntityTypes() {
		rows, version, err := m.loadEntity(ctx, entityType)
		if err != nil {
			return err
		}
		rules[entityType] = rows
		versions[entityType] = version
	}
	m.mu.Lock()
	m.rules = rules
	m.versions = versions
	m.mu.Unlock()
	return nil
}

// Reload refreshes a single entity type, used when a schema change event
// arrives from the webhook side.
func (m *Mapper) Reload(ctx context.Context, entityType string) error {
	rows, version, err := m.loadEntity(ctx, entityType)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rules[entityType] = rows
	m.versions[entityType] = version
	m.mu.Unlock()
	return nil
}

func (m *Mapper) loadEntity(ctx context.Context, entityType string) ([]models.SchemaMapping, int, error) {
	setting, err := m.repo.GetSyncSetting(ctx, entityType)
	if err != nil {
		return nil, 0, fmt.Errorf("load sync setting for %s: %w", entityType, err)
	}
	version := 1
	if setting != nil && setting.MappingVersion > 0 {
		version = setting.MappingVersion
	}
	rows, err := m.repo.ListSchemaMappings(ctx, entityType, version)
	if err != nil {
		return nil, 0, fmt.Errorf("load schema mappings for %s: %w", entityType, err)
	}
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("no schema mappings for %s version %d", entityType, version)
	}
	return rows, version, nil
}

func (m *Mapper) Rules(entityType string) []models.SchemaMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.rules[entityType]
	out := make([]models.SchemaMapping, len(rows))
	copy(out, rows)
	return out
}

func (m *Mapper) Version(entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[entityType]
}

// Validate probes each configured database and checks the mapping set
// against the live schema in both directions: every mapped property must
// exist remotely, and every remote property must be mapped.
func (m *Mapper) Validate(ctx context.Context, prober SchemaProber, settings []models.SyncSetting) error {
	var issues []string
	for _, setting := range settings {
		if setting.DatabaseID == "" {
			issues = append(issues, fmt.Sprintf("%s: no database id configured", setting.EntityType))
			continue
		}
		database, err := prober.GetDatabase(ctx, setting.DatabaseID)
		if err != nil {
			return fmt.Errorf("probe %s schema: %w", setting.EntityType, err)
		}
		remote := make(map[string]bool, len(database.Properties))
		for name := range database.Properties {
			remote[name] = true
		}
		mapped := make(map[string]bool)
		for _, rule := range m.Rules(setting.EntityType) {
			mapped[rule.ExternalKey] = true
			if !remote[rule.ExternalKey] {
				issues = append(issues, fmt.Sprintf("%s: mapped property %q missing from database", setting.EntityType, rule.ExternalKey))
			}
		}
		for name := range remote {
			if !mapped[name] {
				issues = append(issues, fmt.Sprintf("%s: database property %q has no mapping", setting.EntityType, name))
			}
		}
	}
	if len(issues) > 0 {
		sort.Strings(issues)
		return fmt.Errorf("schema validation failed: %s", strings.Join(issues, "; "))
	}
	return nil
}
