package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Task types that never participate in scheduling conflicts.
const (
	TaskTypeRemote   = "remote"
	TaskTypeTelework = "telework"
	TaskTypeHoliday  = "holiday"
	TaskTypeSchool   = "school"
)

type CachedTask struct {
	NotionID          string           `gorm:"primaryKey;type:text;comment:Notion页面ID"`
	Title             string           `gorm:"type:text;not null;comment:任务标题"`
	Status            *string          `gorm:"type:text;index;comment:任务状态"`
	TaskType          *string          `gorm:"type:text;index;comment:任务类型"`
	StartDate         *time.Time       `gorm:"type:timestamptz;index;comment:开始时间"`
	EndDate           *time.Time       `gorm:"type:timestamptz;index;comment:结束时间"`
	DailyHours        decimal.Decimal  `gorm:"type:numeric(6,2);not null;default:0;comment:每日工时"`
	BillableAmount    *decimal.Decimal `gorm:"type:numeric(20,2);comment:计费金额"`
	AssigneeIDs       datatypes.JSON   `gorm:"type:jsonb;comment:负责成员ID列表"`
	ProjectID         *string          `gorm:"type:text;index;comment:所属项目ID"`
	LastEditedAt      *time.Time       `gorm:"type:timestamptz;index;comment:远端最近编辑时间"`
	LocalEditedAt     *time.Time       `gorm:"type:timestamptz;comment:本地最近编辑时间"`
	LastSyncAt        time.Time        `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	ExpiresAt         time.Time        `gorm:"type:timestamptz;not null;index;comment:缓存过期时间"`
	DeletedFromNotion bool             `gorm:"not null;default:false;index;comment:远端已删除标记"`
	RawJSON           datatypes.JSON   `gorm:"type:jsonb;comment:原始页面数据"`
}

func (CachedTask) TableName() string {
	return "cached_tasks"
}

// SchedulingExempt reports whether the task can never produce a
// scheduling conflict (remote work does not occupy a shared resource).
func (t *CachedTask) SchedulingExempt() bool {
	if t == nil || t.TaskType == nil {
		return false
	}
	return *t.TaskType == TaskTypeRemote || *t.TaskType == TaskTypeTelework
}
