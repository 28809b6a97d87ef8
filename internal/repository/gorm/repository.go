package gormrepository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notionsync/internal/models"
	"notionsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- cache entities ---------------------------------------------------------

// Remote-derived columns refreshed by a sync upsert. local_edited_at is
// deliberately absent: a pull never clears the local-edit marker, only
// conflict resolution does.
var taskSyncColumns = []string{
	"title", "status", "task_type", "start_date", "end_date", "daily_hours",
	"billable_amount", "assignee_ids", "project_id", "last_edited_at",
	"last_sync_at", "expires_at", "deleted_from_notion", "raw_json",
}

var projectSyncColumns = []string{
	"name", "status", "client_id", "budget", "last_edited_at",
	"last_sync_at", "expires_at", "deleted_from_notion", "raw_json",
}

var memberSyncColumns = []string{
	"name", "email", "role", "team_id", "last_edited_at",
	"last_sync_at", "expires_at", "deleted_from_notion", "raw_json",
}

var teamSyncColumns = []string{
	"name", "last_edited_at", "last_sync_at", "expires_at",
	"deleted_from_notion", "raw_json",
}

var clientSyncColumns = []string{
	"name", "contact_email", "outstanding_amount", "last_edited_at",
	"last_sync_at", "expires_at", "deleted_from_notion", "raw_json",
}

func (s *Store) UpsertTasksTx(ctx context.Context, tx *gorm.DB, items []models.CachedTask) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notion_id"}},
		DoUpdates: clause.AssignmentColumns(taskSyncColumns),
	}), items, 200)
}

func (s *Store) UpsertProjectsTx(ctx context.Context, tx *gorm.DB, items []models.CachedProject) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notion_id"}},
		DoUpdates: clause.AssignmentColumns(projectSyncColumns),
	}), items, 200)
}

func (s *Store) UpsertMembersTx(ctx context.Context, tx *gorm.DB, items []models.CachedMember) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notion_id"}},
		DoUpdates: clause.AssignmentColumns(memberSyncColumns),
	}), items, 200)
}

func (s *Store) UpsertTeamsTx(ctx context.Context, tx *gorm.DB, items []models.CachedTeam) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notion_id"}},
		DoUpdates: clause.AssignmentColumns(teamSyncColumns),
	}), items, 200)
}

func (s *Store) UpsertClientsTx(ctx context.Context, tx *gorm.DB, items []models.CachedClient) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notion_id"}},
		DoUpdates: clause.AssignmentColumns(clientSyncColumns),
	}), items, 200)
}

func (s *Store) GetTask(ctx context.Context, notionID string) (*models.CachedTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CachedTask
	err := s.db.WithContext(ctx).Where("notion_id = ?", notionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetProject(ctx context.Context, notionID string) (*models.CachedProject, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CachedProject
	err := s.db.WithContext(ctx).Where("notion_id = ?", notionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetMember(ctx context.Context, notionID string) (*models.CachedMember, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CachedMember
	err := s.db.WithContext(ctx).Where("notion_id = ?", notionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetTeam(ctx context.Context, notionID string) (*models.CachedTeam, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CachedTeam
	err := s.db.WithContext(ctx).Where("notion_id = ?", notionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetClient(ctx context.Context, notionID string) (*models.CachedClient, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CachedClient
	err := s.db.WithContext(ctx).Where("notion_id = ?", notionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMemberTasksOverlapping(ctx context.Context, memberID string, start, end time.Time, excludeTaskID string) ([]models.CachedTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	memberJSON, err := json.Marshal([]string{memberID})
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Model(&models.CachedTask{}).
		Where("deleted_from_notion = ?", false).
		Where("assignee_ids @> ?", datatypes.JSON(memberJSON)).
		Where("start_date IS NOT NULL AND end_date IS NOT NULL").
		Where("start_date < ?", end).
		Where("end_date > ?", start)
	if excludeTaskID != "" {
		query = query.Where("notion_id <> ?", excludeTaskID)
	}
	var items []models.CachedTask
	if err := query.Order("start_date asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListCachedIDs(ctx context.Context, entityType string) ([]repository.CachedIDStamp, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	table, err := cacheTable(entityType)
	if err != nil {
		return nil, err
	}
	var rows []repository.CachedIDStamp
	if err := s.db.WithContext(ctx).
		Table(table).
		Select("notion_id, last_edited_at, last_sync_at, deleted_from_notion").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) MarkDeletedFromNotion(ctx context.Context, entityType string, notionIDs []string) (int64, error) {
	if s == nil || s.db == nil || len(notionIDs) == 0 {
		return 0, nil
	}
	table, err := cacheTable(entityType)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, chunk := range chunkStrings(notionIDs, 500) {
		res := s.db.WithContext(ctx).
			Table(table).
			Where("notion_id IN ?", chunk).
			Where("deleted_from_notion = ?", false).
			Updates(map[string]any{"deleted_from_notion": true})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (s *Store) UpdateCacheFields(ctx context.Context, entityType string, notionID string, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	table, err := cacheTable(entityType)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Table(table).
		Where("notion_id = ?", notionID).
		Updates(fields).
		Error
}

func (s *Store) DeleteExpiredCache(ctx context.Context, entityType string, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	table, err := cacheTable(entityType)
	if err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// Tombstones are kept for audit even after their TTL passes.
	res := s.db.WithContext(ctx).Exec(
		"DELETE FROM "+table+" WHERE expires_at < ? AND deleted_from_notion = false", now)
	return res.RowsAffected, res.Error
}

func (s *Store) CountCache(ctx context.Context, entityType string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	table, err := cacheTable(entityType)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Table(table).
		Where("deleted_from_notion = ?", false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) RecomputeProjectRollups(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			UPDATE cached_projects SET task_count = sub.cnt, total_hours = sub.hours
			FROM (
				SELECT project_id,
				       COUNT(*) AS cnt,
				       COALESCE(SUM(daily_hours * GREATEST(1, COALESCE(end_date::date - start_date::date, 1))), 0) AS hours
				FROM cached_tasks
				WHERE deleted_from_notion = false AND project_id IS NOT NULL
				GROUP BY project_id
			) AS sub
			WHERE cached_projects.notion_id = sub.project_id`).Error; err != nil {
			return err
		}
		return tx.Exec(`
			UPDATE cached_projects SET task_count = 0, total_hours = 0
			WHERE notion_id NOT IN (
				SELECT project_id FROM cached_tasks
				WHERE deleted_from_notion = false AND project_id IS NOT NULL
			)`).Error
	})
}

func (s *Store) RecomputeMemberRollups(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			UPDATE cached_members SET active_task_count = sub.cnt
			FROM (
				SELECT assignee.member_id AS member_id, COUNT(*) AS cnt
				FROM cached_tasks t,
				     jsonb_array_elements_text(t.assignee_ids) AS assignee(member_id)
				WHERE t.deleted_from_notion = false
				  AND (t.end_date IS NULL OR t.end_date >= NOW())
				GROUP BY assignee.member_id
			) AS sub
			WHERE cached_members.notion_id = sub.member_id`).Error; err != nil {
			return err
		}
		return tx.Exec(`
			UPDATE cached_members SET active_task_count = 0
			WHERE notion_id NOT IN (
				SELECT assignee.member_id
				FROM cached_tasks t,
				     jsonb_array_elements_text(t.assignee_ids) AS assignee(member_id)
				WHERE t.deleted_from_notion = false
				  AND (t.end_date IS NULL OR t.end_date >= NOW())
			)`).Error
	})
}

func (s *Store) RecomputeTeamRollups(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			UPDATE cached_teams SET member_count = sub.cnt
			FROM (
				SELECT team_id, COUNT(*) AS cnt
				FROM cached_members
				WHERE deleted_from_notion = false AND team_id IS NOT NULL
				GROUP BY team_id
			) AS sub
			WHERE cached_teams.notion_id = sub.team_id`).Error; err != nil {
			return err
		}
		return tx.Exec(`
			UPDATE cached_teams SET member_count = 0
			WHERE notion_id NOT IN (
				SELECT team_id FROM cached_members
				WHERE deleted_from_notion = false AND team_id IS NOT NULL
			)`).Error
	})
}

func (s *Store) RecomputeClientRollups(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			UPDATE cached_clients SET project_count = sub.cnt
			FROM (
				SELECT client_id, COUNT(*) AS cnt
				FROM cached_projects
				WHERE deleted_from_notion = false AND client_id IS NOT NULL
				GROUP BY client_id
			) AS sub
			WHERE cached_clients.notion_id = sub.client_id`).Error; err != nil {
			return err
		}
		return tx.Exec(`
			UPDATE cached_clients SET project_count = 0
			WHERE notion_id NOT IN (
				SELECT client_id FROM cached_projects
				WHERE deleted_from_notion = false AND client_id IS NOT NULL
			)`).Error
	})
}

// --- sync queue -------------------------------------------------------------

func (s *Store) EnqueueSyncItem(ctx context.Context, item *models.SyncQueueItem) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ClaimNextSyncItem(ctx context.Context, now time.Time) (*models.SyncQueueItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var claimed *models.SyncQueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.SyncQueueItem
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.QueueStatusPending).
			Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
			Order("priority asc, created_at asc, id asc").
			First(&item).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&models.SyncQueueItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{
				"status":     models.QueueStatusProcessing,
				"claimed_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		item.Status = models.QueueStatusProcessing
		item.ClaimedAt = &now
		claimed = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) GetSyncItem(ctx context.Context, id uint64) (*models.SyncQueueItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncQueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateSyncItemFields(ctx context.Context, id uint64, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.SyncQueueItem{}).
		Where("id = ?", id).
		Updates(fields).
		Error
}

func (s *Store) ListSyncItems(ctx context.Context, params repository.ListQueueParams) ([]models.SyncQueueItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyQueueFilters(s.db.WithContext(ctx).Model(&models.SyncQueueItem{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SyncQueueItem
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSyncItems(ctx context.Context, params repository.ListQueueParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyQueueFilters(s.db.WithContext(ctx).Model(&models.SyncQueueItem{}), params).
		Count(&count).Error
	return count, err
}

func (s *Store) CountQueueByStatus(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.SyncQueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (s *Store) ResetFailedSyncItems(ctx context.Context, entityType *string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.SyncQueueItem{}).
		Where("status = ?", models.QueueStatusFailed)
	if entityType != nil && strings.TrimSpace(*entityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*entityType))
	}
	res := query.Updates(map[string]any{
		"status":        models.QueueStatusPending,
		"attempts":      0,
		"next_retry_at": nil,
		"updated_at":    time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteSyncItems(ctx context.Context, entityType *string, statuses []string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if len(statuses) == 0 {
		statuses = []string{models.QueueStatusPending, models.QueueStatusFailed}
	}
	query := s.db.WithContext(ctx).Where("status IN ?", statuses)
	if entityType != nil && strings.TrimSpace(*entityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*entityType))
	}
	res := query.Delete(&models.SyncQueueItem{})
	return res.RowsAffected, res.Error
}

func (s *Store) PurgeCompletedSyncItems(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("status = ?", models.QueueStatusCompleted).
		Where("processed_at IS NOT NULL").
		Where("processed_at < ?", before).
		Delete(&models.SyncQueueItem{})
	return res.RowsAffected, res.Error
}

// --- conflicts --------------------------------------------------------------

func (s *Store) InsertConflict(ctx context.Context, item *models.ConflictLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetConflict(ctx context.Context, id uint64) (*models.ConflictLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ConflictLog
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPendingConflict(ctx context.Context, entityType, notionID string) (*models.ConflictLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ConflictLog
	err := s.db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Where("notion_id = ?", notionID).
		Where("resolution = ?", models.ResolutionPending).
		Order("detected_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateConflictFields(ctx context.Context, id uint64, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.ConflictLog{}).
		Where("id = ?", id).
		Updates(fields).
		Error
}

func (s *Store) ResolvePendingConflict(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.ConflictLog{}).
		Where("id = ?", id).
		Where("resolution = ?", models.ResolutionPending).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListConflicts(ctx context.Context, params repository.ListConflictsParams) ([]models.ConflictLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyConflictFilters(s.db.WithContext(ctx).Model(&models.ConflictLog{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "detected_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.ConflictLog
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountConflicts(ctx context.Context, params repository.ListConflictsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyConflictFilters(s.db.WithContext(ctx).Model(&models.ConflictLog{}), params).
		Count(&count).Error
	return count, err
}

func (s *Store) ConflictStats(ctx context.Context) ([]repository.ConflictStatRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.ConflictStatRow
	if err := s.db.WithContext(ctx).
		Model(&models.ConflictLog{}).
		Select("entity_type, resolution, severity, COUNT(*) AS count").
		Group("entity_type, resolution, severity").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) PurgeResolvedConflicts(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("resolution <> ?", models.ResolutionPending).
		Where("resolved_at IS NOT NULL").
		Where("resolved_at < ?", before).
		Delete(&models.ConflictLog{})
	return res.RowsAffected, res.Error
}

// --- scheduling conflicts ---------------------------------------------------

func (s *Store) ReplaceTaskSchedulingConflicts(ctx context.Context, taskID string, items []models.SchedulingConflict) error {
	if s == nil || s.db == nil || strings.TrimSpace(taskID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("task_id = ?", taskID).
			Where("status = ?", models.ScheduleStatusActive).
			Delete(&models.SchedulingConflict{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (s *Store) ListSchedulingConflicts(ctx context.Context, params repository.ListSchedulingConflictsParams) ([]models.SchedulingConflict, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyScheduleFilters(s.db.WithContext(ctx).Model(&models.SchedulingConflict{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "detected_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SchedulingConflict
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSchedulingConflicts(ctx context.Context, params repository.ListSchedulingConflictsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applyScheduleFilters(s.db.WithContext(ctx).Model(&models.SchedulingConflict{}), params).
		Count(&count).Error
	return count, err
}

func (s *Store) UpdateSchedulingConflictStatus(ctx context.Context, id uint64, status string, resolvedAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.SchedulingConflict{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"resolved_at": resolvedAt,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// --- sync settings ----------------------------------------------------------

func (s *Store) GetSyncSetting(ctx context.Context, entityType string) (*models.SyncSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncSetting
	err := s.db.WithContext(ctx).Where("entity_type = ?", entityType).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetSyncSettingForUpdateTx(ctx context.Context, tx *gorm.DB, entityType string) (*models.SyncSetting, error) {
	if tx == nil {
		return nil, nil
	}
	var item models.SyncSetting
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entity_type = ?", entityType).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSyncSettings(ctx context.Context) ([]models.SyncSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SyncSetting{}).
		Order("entity_type asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveSyncSetting(ctx context.Context, item *models.SyncSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"database_id",
			"polling_interval",
			"cache_ttl",
			"webhook_enabled",
			"mapping_version",
			"max_attempts",
			"backoff_initial_ms",
			"backoff_multiplier",
			"requests_per_second",
			"burst_limit",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpdateSyncSettingFields(ctx context.Context, entityType string, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.SyncSetting{}).
		Where("entity_type = ?", entityType).
		Updates(fields).
		Error
}

func (s *Store) UpdateSyncSettingFieldsTx(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) error {
	if tx == nil || len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return tx.WithContext(ctx).
		Model(&models.SyncSetting{}).
		Where("entity_type = ?", entityType).
		Updates(fields).
		Error
}

// --- schema mappings --------------------------------------------------------

func (s *Store) ListSchemaMappings(ctx context.Context, entityType string, version int) ([]models.SchemaMapping, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SchemaMapping
	if err := s.db.WithContext(ctx).
		Model(&models.SchemaMapping{}).
		Where("entity_type = ?", entityType).
		Where("version = ?", version).
		Order("position asc, external_key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertSchemaMappings(ctx context.Context, items []models.SchemaMapping) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "version"}, {Name: "external_key"}, {Name: "internal_field"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) CountSchemaMappings(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SchemaMapping{}).Count(&count).Error
	return count, err
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- sync logs --------------------------------------------------------------

func (s *Store) InsertSyncLog(ctx context.Context, item *models.SyncLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSyncLogs(ctx context.Context, params repository.ListSyncLogsParams) ([]models.SyncLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applySyncLogFilters(s.db.WithContext(ctx).Model(&models.SyncLog{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.SyncLog
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSyncLogs(ctx context.Context, params repository.ListSyncLogsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := applySyncLogFilters(s.db.WithContext(ctx).Model(&models.SyncLog{}), params).
		Count(&count).Error
	return count, err
}

// --- helpers ----------------------------------------------------------------

func cacheTable(entityType string) (string, error) {
	switch entityType {
	case models.EntityTask:
		return "cached_tasks", nil
	case models.EntityProject:
		return "cached_projects", nil
	case models.EntityMember:
		return "cached_members", nil
	case models.EntityTeam:
		return "cached_teams", nil
	case models.EntityClient:
		return "cached_clients", nil
	}
	return "", fmt.Errorf("unknown entity type %q", entityType)
}

func applyQueueFilters(query *gorm.DB, params repository.ListQueueParams) *gorm.DB {
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Operation != nil && strings.TrimSpace(*params.Operation) != "" {
		query = query.Where("operation = ?", strings.TrimSpace(*params.Operation))
	}
	if params.Source != nil && strings.TrimSpace(*params.Source) != "" {
		query = query.Where("source = ?", strings.TrimSpace(*params.Source))
	}
	return query
}

func applyConflictFilters(query *gorm.DB, params repository.ListConflictsParams) *gorm.DB {
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	if params.NotionID != nil && strings.TrimSpace(*params.NotionID) != "" {
		query = query.Where("notion_id = ?", strings.TrimSpace(*params.NotionID))
	}
	if params.Resolution != nil && strings.TrimSpace(*params.Resolution) != "" {
		query = query.Where("resolution = ?", strings.TrimSpace(*params.Resolution))
	}
	if params.Severity != nil && strings.TrimSpace(*params.Severity) != "" {
		query = query.Where("severity = ?", strings.TrimSpace(*params.Severity))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("detected_at >= ?", *params.Since)
	}
	return query
}

func applyScheduleFilters(query *gorm.DB, params repository.ListSchedulingConflictsParams) *gorm.DB {
	if params.TaskID != nil && strings.TrimSpace(*params.TaskID) != "" {
		query = query.Where("task_id = ?", strings.TrimSpace(*params.TaskID))
	}
	if params.MemberID != nil && strings.TrimSpace(*params.MemberID) != "" {
		query = query.Where("member_id = ?", strings.TrimSpace(*params.MemberID))
	}
	if params.ConflictType != nil && strings.TrimSpace(*params.ConflictType) != "" {
		query = query.Where("conflict_type = ?", strings.TrimSpace(*params.ConflictType))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func applySyncLogFilters(query *gorm.DB, params repository.ListSyncLogsParams) *gorm.DB {
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	if params.Method != nil && strings.TrimSpace(*params.Method) != "" {
		query = query.Where("method = ?", strings.TrimSpace(*params.Method))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	return query
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = 500
	}
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
