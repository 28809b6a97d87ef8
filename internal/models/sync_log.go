package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncMethodWebhook        = "webhook"
	SyncMethodPolling        = "polling"
	SyncMethodManual         = "manual"
	SyncMethodInitial        = "initial"
	SyncMethodReconciliation = "reconciliation"
)

const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailed  = "failed"
)

// SyncLog is the append-only audit trail of sync runs. Errors holds at
// most the first ten messages of a run.
type SyncLog struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"type:varchar(40);not null;index"`
	EntityType string `gorm:"type:varchar(20);not null;index"`
	Method     string `gorm:"type:varchar(20);not null;index"`
	Status     string `gorm:"type:varchar(10);not null;index"`

	ItemsProcessed int   `gorm:"not null;default:0"`
	ItemsFailed    int   `gorm:"not null;default:0"`
	Conflicts      int   `gorm:"not null;default:0"`
	Pages          int   `gorm:"not null;default:0"`
	DurationMs     int64 `gorm:"not null;default:0"`

	Errors datatypes.JSON `gorm:"type:jsonb"`

	StartedAt  time.Time `gorm:"type:timestamptz;not null"`
	FinishedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}
