package models

import (
	"time"
)

const (
	ScheduleConflictOverlap  = "overlap"
	ScheduleConflictHoliday  = "holiday"
	ScheduleConflictSchool   = "school"
	ScheduleConflictOverload = "overload"
)

const (
	ScheduleStatusActive   = "active"
	ScheduleStatusResolved = "resolved"
	ScheduleStatusIgnored  = "ignored"
)

// SchedulingConflict flags a resource double-booking among cached
// tasks. Recomputing a task's conflicts replaces its previously active
// rows instead of accumulating.
type SchedulingConflict struct {
	ID                uint64     `gorm:"primaryKey;autoIncrement"`
	TaskID            string     `gorm:"type:text;not null;index:idx_sched_task"`
	MemberID          string     `gorm:"type:text;not null;index"`
	ConflictingTaskID *string    `gorm:"type:text"` // nil for overload
	ConflictType      string     `gorm:"type:varchar(15);not null"`
	Severity          string     `gorm:"type:varchar(10);not null"`
	Status            string     `gorm:"type:varchar(10);not null;default:'active';index:idx_sched_task"`
	Day               *time.Time `gorm:"type:timestamptz"` // first offending day, overload only
	Detail            *string    `gorm:"type:text"`
	DetectedAt        time.Time  `gorm:"type:timestamptz;not null"`
	ResolvedAt        *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SchedulingConflict) TableName() string {
	return "scheduling_conflicts"
}
