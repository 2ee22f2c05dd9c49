package ledger

import (
	"context"
	"errors"
	"time"

	"rectrade-backend/internal/audit"
	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/pkg/keylock"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the persistent holder of cash balances and certificate holdings.
// It carries no business logic: every operation is a guarded
// compare-and-update so concurrent reservations can never both succeed past
// the available balance, and every successful mutation is reported to the
// audit recorder with before/after snapshots.
//
// All mutations of one account are serialized through the lock registry.
// A Store bound to an external transaction via WithTx has no registry; the
// caller owns both accounts' serialization points for the whole transaction.
type Store struct {
	db    *gorm.DB
	locks *keylock.Registry
	audit audit.Recorder
}

func NewStore(db *gorm.DB, locks *keylock.Registry, rec audit.Recorder) *Store {
	return &Store{db: db, locks: locks, audit: rec}
}

// WithTx returns a Store bound to tx. Audit rows written through it commit
// or roll back together with the transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	st := &Store{db: tx, audit: s.audit}
	if _, ok := s.audit.(*audit.GormRecorder); ok {
		st.audit = &audit.GormRecorder{DB: tx}
	}
	return st
}

// DB exposes the underlying handle for transaction scoping by the
// settlement processor.
func (s *Store) DB() *gorm.DB { return s.db }

// Locks exposes the per-account lock registry so callers composing
// multi-step settlements can hold both serialization points up front.
func (s *Store) Locks() *keylock.Registry { return s.locks }

func (s *Store) lock(key string) func() {
	if s.locks == nil {
		return func() {}
	}
	return s.locks.Lock(key)
}

func (s *Store) lockPair(a, b string) func() {
	if s.locks == nil {
		return func() {}
	}
	return s.locks.LockPair(a, b)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var acct domain.Account
	if err := s.db.WithContext(ctx).Where("account_id = ?", id).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (s *Store) GetHolding(ctx context.Context, id uuid.UUID) (*domain.Holding, error) {
	var h domain.Holding
	if err := s.db.WithContext(ctx).Where("holding_id = ?", id).First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	return &h, nil
}

type accountBalances struct {
	CashBalance  int64 `json:"cash_balance"`
	ReservedCash int64 `json:"reserved_cash"`
}

type holdingBalances struct {
	Quantity         int64  `json:"quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
	Status           string `json:"status"`
}

// ReserveCash earmarks amount fils against accountID. Fails with
// ErrInsufficientFunds when the unreserved balance is below amount.
func (s *Store) ReserveCash(ctx context.Context, accountID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	unlock := s.lock(accountID.String())
	defer unlock()

	before, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("account_id = ? AND cash_balance - reserved_cash >= ?", accountID, amount).
		UpdateColumns(map[string]interface{}{
			"reserved_cash": gorm.Expr("reserved_cash + ?", amount),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "cash.reserve",
		EntityType: "account",
		EntityID:   accountID.String(),
		Before:     accountBalances{before.CashBalance, before.ReservedCash},
		After:      accountBalances{before.CashBalance, before.ReservedCash + amount},
	})
}

// ReleaseCash returns amount fils of reservation to the spendable balance.
func (s *Store) ReleaseCash(ctx context.Context, accountID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	unlock := s.lock(accountID.String())
	defer unlock()

	before, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("account_id = ? AND reserved_cash >= ?", accountID, amount).
		UpdateColumns(map[string]interface{}{
			"reserved_cash": gorm.Expr("reserved_cash - ?", amount),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientReserved
	}
	return s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "cash.release",
		EntityType: "account",
		EntityID:   accountID.String(),
		Before:     accountBalances{before.CashBalance, before.ReservedCash},
		After:      accountBalances{before.CashBalance, before.ReservedCash - amount},
	})
}

// TransferCash converts amount fils of from's existing reservation into a
// credit on to's balance. Debit and credit fail or succeed as a unit: the
// debit is guarded against the reserved balance, and callers run the pair
// inside one database transaction via WithTx for durability.
func (s *Store) TransferCash(ctx context.Context, from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	unlock := s.lockPair(from.String(), to.String())
	defer unlock()

	fromBefore, err := s.GetAccount(ctx, from)
	if err != nil {
		return err
	}
	toBefore, err := s.GetAccount(ctx, to)
	if err != nil {
		return err
	}

	apply := func(db *gorm.DB) error {
		res := db.Model(&domain.Account{}).
			Where("account_id = ? AND reserved_cash >= ? AND cash_balance >= ?", from, amount, amount).
			UpdateColumns(map[string]interface{}{
				"cash_balance":  gorm.Expr("cash_balance - ?", amount),
				"reserved_cash": gorm.Expr("reserved_cash - ?", amount),
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientReserved
		}
		res = db.Model(&domain.Account{}).
			Where("account_id = ?", to).
			UpdateColumns(map[string]interface{}{
				"cash_balance": gorm.Expr("cash_balance + ?", amount),
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	}

	// Already inside a caller-owned transaction when locks is nil.
	if s.locks == nil {
		if err := apply(s.db.WithContext(ctx)); err != nil {
			return err
		}
	} else if err := s.db.WithContext(ctx).Transaction(apply); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "cash.transfer.debit",
		EntityType: "account",
		EntityID:   from.String(),
		Before:     accountBalances{fromBefore.CashBalance, fromBefore.ReservedCash},
		After:      accountBalances{fromBefore.CashBalance - amount, fromBefore.ReservedCash - amount},
	}); err != nil {
		return err
	}
	return s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "cash.transfer.credit",
		EntityType: "account",
		EntityID:   to.String(),
		Before:     accountBalances{toBefore.CashBalance, toBefore.ReservedCash},
		After:      accountBalances{toBefore.CashBalance + amount, toBefore.ReservedCash},
	})
}

// ReserveQuantity earmarks qty certificates of the holding against an open
// sell order.
func (s *Store) ReserveQuantity(ctx context.Context, holdingID uuid.UUID, qty int64) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	before, err := s.GetHolding(ctx, holdingID)
	if err != nil {
		return err
	}
	unlock := s.lock(before.AccountID.String())
	defer unlock()

	res := s.db.WithContext(ctx).Model(&domain.Holding{}).
		Where("holding_id = ? AND status = ? AND quantity - reserved_quantity >= ?",
			holdingID, domain.HoldingStatusActive, qty).
		UpdateColumns(map[string]interface{}{
			"reserved_quantity": gorm.Expr("reserved_quantity + ?", qty),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientInventory
	}
	return s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "quantity.reserve",
		EntityType: "holding",
		EntityID:   holdingID.String(),
		Before:     holdingBalances{before.Quantity, before.ReservedQuantity, before.Status},
		After:      holdingBalances{before.Quantity, before.ReservedQuantity + qty, before.Status},
	})
}

// ReleaseQuantity returns qty certificates of reservation to the sellable
// quantity.
func (s *Store) ReleaseQuantity(ctx context.Context, holdingID uuid.UUID, qty int64) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	before, err := s.GetHolding(ctx, holdingID)
	if err != nil {
		return err
	}
	unlock := s.lock(before.AccountID.String())
	defer unlock()

	res := s.db.WithContext(ctx).Model(&domain.Holding{}).
		Where("holding_id = ? AND reserved_quantity >= ?", holdingID, qty).
		UpdateColumns(map[string]interface{}{
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", qty),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientReserved
	}
	return s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "quantity.release",
		EntityType: "holding",
		EntityID:   holdingID.String(),
		Before:     holdingBalances{before.Quantity, before.ReservedQuantity, before.Status},
		After:      holdingBalances{before.Quantity, before.ReservedQuantity - qty, before.Status},
	})
}

// TransferQuantity converts qty reserved certificates of the seller's lot
// into the buyer's matching lot, creating the buyer lot when the buyer holds
// none with the same certificate attributes. A seller lot emptied by the
// transfer is retired, never deleted. Returns the buyer holding's ID.
func (s *Store) TransferQuantity(ctx context.Context, fromHoldingID, toAccountID uuid.UUID, qty, acquisitionPrice int64) (uuid.UUID, error) {
	if qty <= 0 {
		return uuid.Nil, ErrNonPositiveAmount
	}
	from, err := s.GetHolding(ctx, fromHoldingID)
	if err != nil {
		return uuid.Nil, err
	}
	unlock := s.lockPair(from.AccountID.String(), toAccountID.String())
	defer unlock()

	var toHoldingID uuid.UUID

	apply := func(db *gorm.DB) error {
		res := db.Model(&domain.Holding{}).
			Where("holding_id = ? AND reserved_quantity >= ? AND quantity >= ?", fromHoldingID, qty, qty).
			UpdateColumns(map[string]interface{}{
				"quantity":          gorm.Expr("quantity - ?", qty),
				"reserved_quantity": gorm.Expr("reserved_quantity - ?", qty),
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientReserved
		}
		// Retire the lot when emptied; audit lineage must survive.
		if err := db.Model(&domain.Holding{}).
			Where("holding_id = ? AND quantity = 0", fromHoldingID).
			UpdateColumn("status", domain.HoldingStatusRetired).Error; err != nil {
			return err
		}

		var to domain.Holding
		err := db.Where(
			"account_id = ? AND facility_id = ? AND energy_type = ? AND vintage_year = ? AND emirate = ? AND standard = ? AND status = ?",
			toAccountID, from.FacilityID, from.EnergyType, from.VintageYear, from.Emirate, from.Standard,
			domain.HoldingStatusActive,
		).First(&to).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			to = domain.Holding{
				AccountID:        toAccountID,
				FacilityID:       from.FacilityID,
				EnergyType:       from.EnergyType,
				VintageYear:      from.VintageYear,
				Emirate:          from.Emirate,
				Standard:         from.Standard,
				Quantity:         qty,
				AcquisitionPrice: acquisitionPrice,
				Status:           domain.HoldingStatusActive,
			}
			if err := db.Create(&to).Error; err != nil {
				return err
			}
			toHoldingID = to.HoldingID
			return nil
		}
		if err != nil {
			return err
		}
		toHoldingID = to.HoldingID
		return db.Model(&domain.Holding{}).
			Where("holding_id = ?", to.HoldingID).
			UpdateColumns(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", qty),
				"updated_at": time.Now(),
			}).Error
	}

	if s.locks == nil {
		if err := apply(s.db.WithContext(ctx)); err != nil {
			return uuid.Nil, err
		}
	} else if err := s.db.WithContext(ctx).Transaction(apply); err != nil {
		return uuid.Nil, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "quantity.transfer.debit",
		EntityType: "holding",
		EntityID:   fromHoldingID.String(),
		Before:     holdingBalances{from.Quantity, from.ReservedQuantity, from.Status},
		After:      holdingBalances{from.Quantity - qty, from.ReservedQuantity - qty, from.Status},
	}); err != nil {
		return uuid.Nil, err
	}
	err = s.audit.Record(ctx, audit.Entry{
		Actor:      "ledger",
		Action:     "quantity.transfer.credit",
		EntityType: "holding",
		EntityID:   toHoldingID.String(),
		Before:     nil,
		After:      holdingBalances{Quantity: qty, Status: domain.HoldingStatusActive},
	})
	return toHoldingID, err
}
