package audit

import (
	"context"
	"encoding/json"
	"time"

	"rectrade-backend/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry describes one state mutation. Before and After are snapshots of the
// mutated entity (any JSON-marshalable value).
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Before     interface{}
	After      interface{}
}

// Recorder consumes the stream of state mutations from the ledger, escrow
// manager and settlement processor. Implementations append; nothing reads
// back through this interface.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// GormRecorder appends audit rows to the audit_records table and mirrors
// each record to the structured log.
type GormRecorder struct {
	DB *gorm.DB
}

func (r *GormRecorder) Record(ctx context.Context, e Entry) error {
	before, err := json.Marshal(e.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return err
	}
	rec := domain.AuditRecord{
		Actor:      e.Actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     datatypes.JSON(before),
		After:      datatypes.JSON(after),
		CreatedAt:  time.Now(),
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	log.Info().
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Msg("audit")
	return nil
}

// NopRecorder discards entries. Used where audit is not wired (tests).
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, e Entry) error { return nil }
