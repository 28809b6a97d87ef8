package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

const (
	QueueOpCreate        = "create"
	QueueOpUpdate        = "update"
	QueueOpDelete        = "delete"
	QueueOpSchemaRefresh = "schema_refresh"
)

const (
	QueueSourceWebhook        = "webhook"
	QueueSourceManual         = "manual"
	QueueSourceReconciliation = "reconciliation"
)

const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// SyncQueueItem is one durable pending operation. Lifecycle:
// pending -> processing -> completed (purged after the retention
// window) or failed (terminal) or back to pending with NextRetryAt set.
type SyncQueueItem struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	EntityType string         `gorm:"type:varchar(20);not null;index:idx_queue_claim"`
	NotionID   string         `gorm:"type:text;not null;index"`
	Operation  string         `gorm:"type:varchar(20);not null"`
	Source     string         `gorm:"type:varchar(20);not null;default:'webhook'"`
	Priority   int            `gorm:"not null;default:2;index:idx_queue_claim"`
	Status     string         `gorm:"type:varchar(15);not null;default:'pending';index:idx_queue_claim"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`

	Attempts    int        `gorm:"not null;default:0"`
	MaxAttempts int        `gorm:"not null;default:5"`
	LastError   *string    `gorm:"type:text"`
	NextRetryAt *time.Time `gorm:"type:timestamptz;index"`
	ClaimedAt   *time.Time `gorm:"type:timestamptz"`
	ProcessedAt *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SyncQueueItem) TableName() string {
	return "sync_queue_items"
}

func ValidQueueOperation(op string) bool {
	switch op {
	case QueueOpCreate, QueueOpUpdate, QueueOpDelete, QueueOpSchemaRefresh:
		return true
	}
	return false
}
