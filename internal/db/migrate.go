package db

import (
	"notionsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.CachedTask{},
		&models.CachedProject{},
		&models.CachedMember{},
		&models.CachedTeam{},
		&models.CachedClient{},
		&models.SyncSetting{},
		&models.SyncQueueItem{},
		&models.ConflictLog{},
		&models.SchedulingConflict{},
		&models.SyncLog{},
		&models.SchemaMapping{},
		&models.SystemSetting{},
	)
}
