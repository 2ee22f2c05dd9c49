package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditRecord is one immutable row in the audit trail. Before and After are
// JSON snapshots of the mutated entity; rows are only ever appended.
type AuditRecord struct {
	RecordID   uuid.UUID      `gorm:"column:record_id;type:uuid;primaryKey" json:"record_id"`
	Actor      string         `gorm:"column:actor;type:varchar(64);not null" json:"actor"`
	Action     string         `gorm:"column:action;type:varchar(64);not null" json:"action"`
	EntityType string         `gorm:"column:entity_type;type:varchar(32);not null;index" json:"entity_type"`
	EntityID   string         `gorm:"column:entity_id;type:varchar(64);not null;index" json:"entity_id"`
	Before     datatypes.JSON `gorm:"column:before" json:"before"`
	After      datatypes.JSON `gorm:"column:after" json:"after"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (AuditRecord) TableName() string {
	return "audit_records"
}

func (r *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.RecordID == uuid.Nil {
		r.RecordID = uuid.New()
	}
	return nil
}
