// Package escrow owns the reservation lifecycle: funds and inventory are
// earmarked before an order reaches the book, converted into transfers on a
// match, and the unmatched remainder released on cancellation or expiry.
// The invariant "reserved ≤ total" per account is enforced here and by the
// ledger's guarded updates.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/pkg/money"
)

var (
	ErrHoldingMismatch = errors.New("holding does not belong to the ordering account")
	ErrHoldingInactive = errors.New("holding is not active")
)

// Manager computes and maintains order reservations against the ledger
// store.
type Manager struct {
	BuyerFeeBps         int64
	NotarizationFeeFils int64
}

func NewManager(buyerFeeBps, notarizationFeeFils int64) *Manager {
	return &Manager{BuyerFeeBps: buyerFeeBps, NotarizationFeeFils: notarizationFeeFils}
}

// BuyReserveTarget is the cash a buy order with `remaining` unfilled
// certificates must keep escrowed: the notional at the order's limit price,
// the platform fee on that notional, and one notarization fee for the next
// fill. Zero once the order is done.
func (m *Manager) BuyReserveTarget(remaining, priceFils int64) int64 {
	if remaining <= 0 {
		return 0
	}
	notional := money.Total(remaining, priceFils)
	return notional + money.FeeFils(notional, m.BuyerFeeBps) + m.NotarizationFeeFils
}

// ReserveForOrder escrows the order's full commitment before it may enter
// the book: cash for a buy, lot quantity for a sell. A failure here rejects
// the order with no side effects.
func (m *Manager) ReserveForOrder(ctx context.Context, store *ledger.Store, o *domain.Order) error {
	if o.Side == domain.OrderSideBuy {
		target := m.BuyReserveTarget(o.RemainingQuantity, o.PriceFils)
		if err := store.ReserveCash(ctx, o.AccountID, target); err != nil {
			return err
		}
		o.ReservedFils = target
		return nil
	}

	if o.HoldingID == nil {
		return fmt.Errorf("sell order without holding")
	}
	h, err := store.GetHolding(ctx, *o.HoldingID)
	if err != nil {
		return err
	}
	if h.AccountID != o.AccountID {
		return ErrHoldingMismatch
	}
	if h.Status != domain.HoldingStatusActive {
		return ErrHoldingInactive
	}
	return store.ReserveQuantity(ctx, *o.HoldingID, o.RemainingQuantity)
}

// ReleaseRemainder frees exactly the reservation still held for the order's
// open remainder. Portions already matched were converted into transfers at
// settlement and are untouched.
func (m *Manager) ReleaseRemainder(ctx context.Context, store *ledger.Store, o *domain.Order) error {
	if o.Side == domain.OrderSideBuy {
		if o.ReservedFils <= 0 {
			return nil
		}
		if err := store.ReleaseCash(ctx, o.AccountID, o.ReservedFils); err != nil {
			return err
		}
		o.ReservedFils = 0
		return nil
	}
	if o.RemainingQuantity <= 0 || o.HoldingID == nil {
		return nil
	}
	return store.ReleaseQuantity(ctx, *o.HoldingID, o.RemainingQuantity)
}

// RebalanceBuyAfterFill brings a buy order's reservation back to its target
// after a settlement debited `debited` fils from it. Price improvement
// leaves slack to release; a fill at the order's own limit price leaves the
// next fill's notarization fee to top up. When the top-up cannot be funded
// the order's remainder can no longer stay fully escrowed: the leftover
// reservation is released and the caller must cancel the remainder.
//
// Returns true when the remainder must be cancelled.
func (m *Manager) RebalanceBuyAfterFill(ctx context.Context, store *ledger.Store, o *domain.Order, debited int64) (bool, error) {
	left := o.ReservedFils - debited
	if left < 0 {
		// Settlement never debits past the order's reservation; the
		// ledger guard would have failed first.
		return false, fmt.Errorf("reservation underflow on order %s", o.OrderID)
	}
	target := m.BuyReserveTarget(o.RemainingQuantity, o.PriceFils)

	switch {
	case left > target:
		if err := store.ReleaseCash(ctx, o.AccountID, left-target); err != nil {
			return false, err
		}
	case left < target:
		err := store.ReserveCash(ctx, o.AccountID, target-left)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if left > 0 {
				if relErr := store.ReleaseCash(ctx, o.AccountID, left); relErr != nil {
					return false, relErr
				}
			}
			o.ReservedFils = 0
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	o.ReservedFils = target
	return false, nil
}
