package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order sides.
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order statuses. Filled, cancelled and expired are terminal; a terminal
// order is never mutated again.
const (
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusExpired         = "expired"
)

// CertificateCriteria selects which certificates an order trades. Two orders
// are only matchable when all five fields are identical.
type CertificateCriteria struct {
	FacilityID  uuid.UUID `gorm:"column:facility_id;type:uuid;not null" json:"facility_id"`
	EnergyType  string    `gorm:"column:energy_type;type:varchar(20);not null" json:"energy_type"`
	VintageYear int       `gorm:"column:vintage_year;not null" json:"vintage_year"`
	Emirate     string    `gorm:"column:emirate;type:varchar(30);not null" json:"emirate"`
	Standard    string    `gorm:"column:standard;type:varchar(20);not null;default:'I-REC'" json:"standard"`
}

// Order is one intent to buy or sell certificates. PriceFils is per
// certificate in fils. RemainingQuantity decreases on each partial fill;
// the escrow held for the order is always proportional to it.
type Order struct {
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;primaryKey" json:"order_id"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	Side      string    `gorm:"column:side;type:varchar(4);not null" json:"side"`

	CertificateCriteria

	// HoldingID is set on sell orders only: the specific lot the
	// certificates are sold from (and reserved against).
	HoldingID *uuid.UUID `gorm:"column:holding_id;type:uuid" json:"holding_id,omitempty"`

	Quantity          int64 `gorm:"column:quantity;not null" json:"quantity"`
	RemainingQuantity int64 `gorm:"column:remaining_quantity;not null" json:"remaining_quantity"`
	PriceFils         int64 `gorm:"column:price_fils;not null" json:"price_fils"`
	AllowPartialFill  bool  `gorm:"column:allow_partial_fill;not null;default:true" json:"allow_partial_fill"`
	// ReservedFils is the cash currently escrowed for this order (buy
	// orders only). Kept exact per order so cancellation releases
	// precisely the outstanding reservation.
	ReservedFils    int64      `gorm:"column:reserved_fils;not null;default:0" json:"reserved_fils"`
	MinFillQuantity int64      `gorm:"column:min_fill_quantity;not null;default:0" json:"min_fill_quantity"`
	Status          string     `gorm:"column:status;type:varchar(20);not null;default:'open'" json:"status"`
	ExpiresAt       *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.OrderID == uuid.Nil {
		o.OrderID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the order can never change again.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// IsExpired reports whether the order's expiry (if any) has passed.
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}
