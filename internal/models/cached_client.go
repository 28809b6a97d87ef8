package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CachedClient struct {
	NotionID          string           `gorm:"primaryKey;type:text;comment:Notion页面ID"`
	Name              string           `gorm:"type:text;not null;comment:客户名称"`
	ContactEmail      *string          `gorm:"type:text;comment:联系邮箱"`
	OutstandingAmount *decimal.Decimal `gorm:"type:numeric(20,2);comment:未结金额"`
	ProjectCount      int              `gorm:"not null;default:0;comment:项目数量(汇总)"`
	LastEditedAt      *time.Time       `gorm:"type:timestamptz;index;comment:远端最近编辑时间"`
	LocalEditedAt     *time.Time       `gorm:"type:timestamptz;comment:本地最近编辑时间"`
	LastSyncAt        time.Time        `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	ExpiresAt         time.Time        `gorm:"type:timestamptz;not null;index;comment:缓存过期时间"`
	DeletedFromNotion bool             `gorm:"not null;default:false;index;comment:远端已删除标记"`
	RawJSON           datatypes.JSON   `gorm:"type:jsonb;comment:原始页面数据"`
}

func (CachedClient) TableName() string {
	return "cached_clients"
}
