package models

import (
	"time"
)

// SyncSetting is the per-entity-type sync configuration row. It also
// persists the circuit-breaker state so trips survive restarts and are
// visible to operators.
//
// Invariant: IsOpen=true implies FailureCount reached the trip
// threshold and ReopenAt is set.
type SyncSetting struct {
	EntityType string `gorm:"primaryKey;type:varchar(20)"`

	// Notion database backing this entity type.
	DatabaseID string `gorm:"type:text;not null"`

	// Duration strings ("15m", "24h"); parsed with a config fallback.
	PollingInterval string `gorm:"type:varchar(20);not null;default:'15m'"`
	CacheTTL        string `gorm:"type:varchar(20);not null;default:'24h'"`

	WebhookEnabled bool `gorm:"not null;default:true"`
	MappingVersion int  `gorm:"not null;default:1"`

	// Circuit breaker.
	IsOpen        bool       `gorm:"not null;default:false"`
	FailureCount  int        `gorm:"not null;default:0"`
	LastFailureAt *time.Time `gorm:"type:timestamptz"`
	ReopenAt      *time.Time `gorm:"type:timestamptz"`

	// Retry policy for queued operations.
	MaxAttempts       int     `gorm:"not null;default:5"`
	BackoffInitialMs  int     `gorm:"not null;default:300000"`
	BackoffMultiplier float64 `gorm:"not null;default:2"`

	// Rate-limit policy toward the source of record.
	RequestsPerSecond float64 `gorm:"not null;default:3"`
	BurstLimit        int     `gorm:"not null;default:5"`

	NextScheduledSyncAt *time.Time `gorm:"type:timestamptz"`
	LastWebhookSyncAt   *time.Time `gorm:"type:timestamptz"`
	LastPollingSyncAt   *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SyncSetting) TableName() string {
	return "sync_settings"
}

func (s *SyncSetting) PollingIntervalDuration(fallback time.Duration) time.Duration {
	return parseDurationOr(s.PollingInterval, fallback)
}

func (s *SyncSetting) CacheTTLDuration(fallback time.Duration) time.Duration {
	return parseDurationOr(s.CacheTTL, fallback)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
