package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transaction statuses. A completed transaction is immutable except for its
// settlement (notarization) status, which completes asynchronously.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"

	SettlementStatusPending   = "pending"
	SettlementStatusCompleted = "completed"
)

// Transaction is the settlement record of one match. All money fields are
// fils. MatchEventID is unique: replaying the same match event finds the
// existing row instead of applying the transfer twice.
type Transaction struct {
	TxID         uuid.UUID `gorm:"column:tx_id;type:uuid;primaryKey" json:"tx_id"`
	MatchEventID uuid.UUID `gorm:"column:match_event_id;type:uuid;not null;uniqueIndex" json:"match_event_id"`

	BuyerID     uuid.UUID `gorm:"column:buyer_id;type:uuid;not null;index" json:"buyer_id"`
	SellerID    uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	BuyOrderID  uuid.UUID `gorm:"column:buy_order_id;type:uuid;not null" json:"buy_order_id"`
	SellOrderID uuid.UUID `gorm:"column:sell_order_id;type:uuid;not null" json:"sell_order_id"`
	HoldingID   uuid.UUID `gorm:"column:holding_id;type:uuid;not null" json:"holding_id"`

	Quantity        int64 `gorm:"column:quantity;not null" json:"quantity"`
	PricePerUnit    int64 `gorm:"column:price_per_unit;not null" json:"price_per_unit"`
	TotalAmount     int64 `gorm:"column:total_amount;not null" json:"total_amount"`
	BuyerFee        int64 `gorm:"column:buyer_fee;not null" json:"buyer_fee"`
	SellerFee       int64 `gorm:"column:seller_fee;not null" json:"seller_fee"`
	NotarizationFee int64 `gorm:"column:notarization_fee;not null" json:"notarization_fee"`

	Status           string  `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`
	SettlementStatus string  `gorm:"column:settlement_status;type:varchar(20);not null;default:'pending'" json:"settlement_status"`
	NotaryRef        *string `gorm:"column:notary_ref" json:"notary_ref,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.TxID == uuid.Nil {
		t.TxID = uuid.New()
	}
	return nil
}
