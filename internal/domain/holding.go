package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Holding statuses. A holding whose quantity reaches zero is retired, not
// deleted, so transaction lineage stays intact.
const (
	HoldingStatusActive  = "active"
	HoldingStatusLocked  = "locked"
	HoldingStatusRetired = "retired"
)

// Holding is one lot of certificates owned by one account. Quantity and
// ReservedQuantity are whole certificates; ReservedQuantity is the portion
// escrowed against open sell orders.
type Holding struct {
	HoldingID        uuid.UUID `gorm:"column:holding_id;type:uuid;primaryKey" json:"holding_id"`
	AccountID        uuid.UUID `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	FacilityID       uuid.UUID `gorm:"column:facility_id;type:uuid;not null" json:"facility_id"`
	EnergyType       string    `gorm:"column:energy_type;type:varchar(20);not null" json:"energy_type"`
	VintageYear      int       `gorm:"column:vintage_year;not null" json:"vintage_year"`
	Emirate          string    `gorm:"column:emirate;type:varchar(30);not null" json:"emirate"`
	Standard         string    `gorm:"column:standard;type:varchar(20);not null;default:'I-REC'" json:"standard"`
	Quantity         int64     `gorm:"column:quantity;not null;default:0" json:"quantity"`
	ReservedQuantity int64     `gorm:"column:reserved_quantity;not null;default:0" json:"reserved_quantity"`
	AcquisitionPrice int64     `gorm:"column:acquisition_price;not null;default:0" json:"acquisition_price"`
	Status           string    `gorm:"column:status;type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Holding) TableName() string {
	return "holdings"
}

func (h *Holding) BeforeCreate(tx *gorm.DB) error {
	if h.HoldingID == uuid.Nil {
		h.HoldingID = uuid.New()
	}
	return nil
}

// Available is the sellable (unreserved) quantity.
func (h *Holding) Available() int64 {
	return h.Quantity - h.ReservedQuantity
}
