package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"notionsync/internal/models"
)

// CacheRepository covers the per-entity-type cache tables. Page upserts
// run inside InTx so a sync either applies a whole page or none of it.
type CacheRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	UpsertTasksTx(ctx context.Context, tx *gorm.DB, items []models.CachedTask) error
	UpsertProjectsTx(ctx context.Context, tx *gorm.DB, items []models.CachedProject) error
	UpsertMembersTx(ctx context.Context, tx *gorm.DB, items []models.CachedMember) error
	UpsertTeamsTx(ctx context.Context, tx *gorm.DB, items []models.CachedTeam) error
	UpsertClientsTx(ctx context.Context, tx *gorm.DB, items []models.CachedClient) error

	GetTask(ctx context.Context, notionID string) (*models.CachedTask, error)
	GetProject(ctx context.Context, notionID string) (*models.CachedProject, error)
	GetMember(ctx context.Context, notionID string) (*models.CachedMember, error)
	GetTeam(ctx context.Context, notionID string) (*models.CachedTeam, error)
	GetClient(ctx context.Context, notionID string) (*models.CachedClient, error)

	// Tasks assigned to the member whose [start,end) interval intersects
	// the given one, excluding one task id and tombstones.
	ListMemberTasksOverlapping(ctx context.Context, memberID string, start, end time.Time, excludeTaskID string) ([]models.CachedTask, error)

	ListCachedIDs(ctx context.Context, entityType string) ([]CachedIDStamp, error)
	MarkDeletedFromNotion(ctx context.Context, entityType string, notionIDs []string) (int64, error)
	UpdateCacheFields(ctx context.Context, entityType string, notionID string, fields map[string]any) error
	DeleteExpiredCache(ctx context.Context, entityType string, now time.Time) (int64, error)
	CountCache(ctx context.Context, entityType string) (int64, error)

	// Denormalization pass: recompute rollup columns from cache contents.
	RecomputeProjectRollups(ctx context.Context) error
	RecomputeMemberRollups(ctx context.Context) error
	RecomputeTeamRollups(ctx context.Context) error
	RecomputeClientRollups(ctx context.Context) error
}

type QueueRepository interface {
	EnqueueSyncItem(ctx context.Context, item *models.SyncQueueItem) error

	// ClaimNextSyncItem atomically flips the best pending item to
	// processing and returns it; (nil, nil) when nothing is due. Two
	// concurrent callers never receive the same item.
	ClaimNextSyncItem(ctx context.Context, now time.Time) (*models.SyncQueueItem, error)

	GetSyncItem(ctx context.Context, id uint64) (*models.SyncQueueItem, error)
	UpdateSyncItemFields(ctx context.Context, id uint64, fields map[string]any) error
	ListSyncItems(ctx context.Context, params ListQueueParams) ([]models.SyncQueueItem, error)
	CountSyncItems(ctx context.Context, params ListQueueParams) (int64, error)
	CountQueueByStatus(ctx context.Context) (map[string]int64, error)
	ResetFailedSyncItems(ctx context.Context, entityType *string) (int64, error)
	DeleteSyncItems(ctx context.Context, entityType *string, statuses []string) (int64, error)
	PurgeCompletedSyncItems(ctx context.Context, before time.Time) (int64, error)
}

type ConflictRepository interface {
	InsertConflict(ctx context.Context, item *models.ConflictLog) error
	GetConflict(ctx context.Context, id uint64) (*models.ConflictLog, error)
	GetPendingConflict(ctx context.Context, entityType, notionID string) (*models.ConflictLog, error)
	UpdateConflictFields(ctx context.Context, id uint64, fields map[string]any) error

	// ResolvePendingConflict applies fields only while the row is still
	// pending; returns false when it was already resolved.
	ResolvePendingConflict(ctx context.Context, id uint64, fields map[string]any) (bool, error)

	ListConflicts(ctx context.Context, params ListConflictsParams) ([]models.ConflictLog, error)
	CountConflicts(ctx context.Context, params ListConflictsParams) (int64, error)
	ConflictStats(ctx context.Context) ([]ConflictStatRow, error)
	PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error)
}

type ScheduleRepository interface {
	// ReplaceTaskSchedulingConflicts deletes the task's active conflicts
	// and inserts the new set in one transaction.
	ReplaceTaskSchedulingConflicts(ctx context.Context, taskID string, items []models.SchedulingConflict) error

	ListSchedulingConflicts(ctx context.Context, params ListSchedulingConflictsParams) ([]models.SchedulingConflict, error)
	CountSchedulingConflicts(ctx context.Context, params ListSchedulingConflictsParams) (int64, error)
	UpdateSchedulingConflictStatus(ctx context.Context, id uint64, status string, resolvedAt *time.Time) error
}

type ConfigRepository interface {
	GetSyncSetting(ctx context.Context, entityType string) (*models.SyncSetting, error)
	GetSyncSettingForUpdateTx(ctx context.Context, tx *gorm.DB, entityType string) (*models.SyncSetting, error)
	ListSyncSettings(ctx context.Context) ([]models.SyncSetting, error)
	SaveSyncSetting(ctx context.Context, item *models.SyncSetting) error
	UpdateSyncSettingFields(ctx context.Context, entityType string, fields map[string]any) error
	UpdateSyncSettingFieldsTx(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) error

	ListSchemaMappings(ctx context.Context, entityType string, version int) ([]models.SchemaMapping, error)
	InsertSchemaMappings(ctx context.Context, items []models.SchemaMapping) error
	CountSchemaMappings(ctx context.Context) (int64, error)

	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

type AuditRepository interface {
	InsertSyncLog(ctx context.Context, item *models.SyncLog) error
	ListSyncLogs(ctx context.Context, params ListSyncLogsParams) ([]models.SyncLog, error)
	CountSyncLogs(ctx context.Context, params ListSyncLogsParams) (int64, error)
}

// Repository is the unified store handed to the services.
type Repository interface {
	CacheRepository
	QueueRepository
	ConflictRepository
	ScheduleRepository
	ConfigRepository
	AuditRepository
}

// CachedIDStamp is the reconciliation view of one cache row.
type CachedIDStamp struct {
	NotionID          string
	LastEditedAt      *time.Time
	LastSyncAt        time.Time
	DeletedFromNotion bool
}

type ConflictStatRow struct {
	EntityType string
	Resolution string
	Severity   string
	Count      int64
}

type ListQueueParams struct {
	Limit      int
	Offset     int
	EntityType *string
	Status     *string
	Operation  *string
	Source     *string
	OrderBy    string
	Asc        *bool
}

type ListConflictsParams struct {
	Limit      int
	Offset     int
	EntityType *string
	NotionID   *string
	Resolution *string
	Severity   *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListSchedulingConflictsParams struct {
	Limit        int
	Offset       int
	TaskID       *string
	MemberID     *string
	ConflictType *string
	Status       *string
	OrderBy      string
	Asc          *bool
}

type ListSyncLogsParams struct {
	Limit      int
	Offset     int
	EntityType *string
	Method     *string
	Status     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}
