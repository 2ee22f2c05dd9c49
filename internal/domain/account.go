package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account holds one user's cash position in fils (integer minor units).
// ReservedCash is the portion escrowed against open buy orders; the
// spendable balance is CashBalance - ReservedCash. Only the ledger store
// mutates these columns.
type Account struct {
	AccountID    uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey" json:"account_id"`
	CashBalance  int64     `gorm:"column:cash_balance;not null;default:0" json:"cash_balance"`
	ReservedCash int64     `gorm:"column:reserved_cash;not null;default:0" json:"reserved_cash"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Available is the spendable (unreserved) cash.
func (a *Account) Available() int64 {
	return a.CashBalance - a.ReservedCash
}
