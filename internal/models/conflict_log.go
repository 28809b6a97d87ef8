package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ResolutionPending    = "pending"
	ResolutionNotionWins = "notion_wins"
	ResolutionLocalWins  = "local_wins"
	ResolutionMerged     = "merged"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const ConflictTypeBothModified = "both_modified"

// ConflictLog records a divergence between a cache entity and its
// remote counterpart, both edited since the last sync. RemoteSnapshot
// is the raw page used at detection; notion_wins resolution replays it
// into the cache so the result is exactly that snapshot.
//
// A conflict leaves pending exactly once; resolving it again is
// rejected.
type ConflictLog struct {
	ID                uint64         `gorm:"primaryKey;autoIncrement"`
	EntityType        string         `gorm:"type:varchar(20);not null;index:idx_conflict_entity"`
	NotionID          string         `gorm:"type:text;not null;index:idx_conflict_entity"`
	ConflictType      string         `gorm:"type:varchar(30);not null;default:'both_modified'"`
	Severity          string         `gorm:"type:varchar(10);not null;index"`
	ConflictingFields datatypes.JSON `gorm:"type:jsonb"`
	LocalSnapshot     datatypes.JSON `gorm:"type:jsonb"`
	RemoteSnapshot    datatypes.JSON `gorm:"type:jsonb"`

	Resolution string     `gorm:"type:varchar(15);not null;default:'pending';index"`
	DetectedAt time.Time  `gorm:"type:timestamptz;not null"`
	ResolvedAt *time.Time `gorm:"type:timestamptz;index"`
	ResolvedBy *string    `gorm:"type:varchar(120)"`
	MergedData datatypes.JSON `gorm:"type:jsonb"`
	Detail     *string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ConflictLog) TableName() string {
	return "conflict_logs"
}

func ValidResolutionStrategy(s string) bool {
	switch s {
	case ResolutionNotionWins, ResolutionLocalWins, ResolutionMerged:
		return true
	}
	return false
}
