package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CachedProject struct {
	NotionID          string           `gorm:"primaryKey;type:text;comment:Notion页面ID"`
	Name              string           `gorm:"type:text;not null;comment:项目名称"`
	Status            *string          `gorm:"type:text;index;comment:项目状态"`
	ClientID          *string          `gorm:"type:text;index;comment:所属客户ID"`
	Budget            *decimal.Decimal `gorm:"type:numeric(20,2);comment:项目预算"`
	TaskCount         int              `gorm:"not null;default:0;comment:任务数量(汇总)"`
	TotalHours        decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0;comment:总工时(汇总)"`
	LastEditedAt      *time.Time       `gorm:"type:timestamptz;index;comment:远端最近编辑时间"`
	LocalEditedAt     *time.Time       `gorm:"type:timestamptz;comment:本地最近编辑时间"`
	LastSyncAt        time.Time        `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	ExpiresAt         time.Time        `gorm:"type:timestamptz;not null;index;comment:缓存过期时间"`
	DeletedFromNotion bool             `gorm:"not null;default:false;index;comment:远端已删除标记"`
	RawJSON           datatypes.JSON   `gorm:"type:jsonb;comment:原始页面数据"`
}

func (CachedProject) TableName() string {
	return "cached_projects"
}
