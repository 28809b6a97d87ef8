package models

import (
	"time"
)

// Transforms supported by the schema-mapping resolver.
const (
	TransformTitle       = "title"
	TransformRichText    = "rich_text"
	TransformNumber      = "number"
	TransformDecimal     = "decimal"
	TransformSelect      = "select"
	TransformStatus      = "status"
	TransformDateStart   = "date_start"
	TransformDateEnd     = "date_end"
	TransformCheckbox    = "checkbox"
	TransformEmail       = "email"
	TransformRelationIDs = "relation_ids"
	TransformPeopleIDs   = "people_ids"
)

// SchemaMapping binds one Notion property (ExternalKey) to one cache
// column (InternalField) under a mapping version. The active version
// per entity type lives in sync_settings; the full set is resolved
// once at startup and validated against a live schema probe.
type SchemaMapping struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	EntityType    string `gorm:"type:varchar(20);not null;uniqueIndex:idx_mapping_key,priority:1"`
	Version       int    `gorm:"not null;uniqueIndex:idx_mapping_key,priority:2"`
	ExternalKey   string `gorm:"type:text;not null;uniqueIndex:idx_mapping_key,priority:3"`
	InternalField string `gorm:"type:varchar(40);not null;uniqueIndex:idx_mapping_key,priority:4"`
	Transform     string `gorm:"type:varchar(20);not null"`
	Required      bool   `gorm:"not null;default:false"`
	Position      int    `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SchemaMapping) TableName() string {
	return "schema_mappings"
}
