// Package settlement turns match events into finalized transactions: it
// computes fees, converts both sides' escrow into transfers in one atomic
// step, and hands the completed trade to the notarization queue. A trade is
// economically final once the atomic step commits; notarization failure can
// flag it unconfirmed but never unwind it.
package settlement

import (
	"context"
	"errors"
	"time"

	"rectrade-backend/internal/audit"
	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/escrow"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/matching"
	"rectrade-backend/internal/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Notifier enqueues a completed transaction for asynchronous notarization.
// Enqueue must be cheap and must never block settlement on the external
// network.
type Notifier interface {
	Enqueue(ctx context.Context, txID uuid.UUID) error
}

// NopNotifier drops notifications (tests).
type NopNotifier struct{}

func (NopNotifier) Enqueue(ctx context.Context, txID uuid.UUID) error { return nil }

// Config carries the fee schedule and the platform revenue account.
type Config struct {
	BuyerFeeBps         int64
	SellerFeeBps        int64
	NotarizationFeeFils int64
	PlatformAccountID   uuid.UUID
	MaxRetries          int
}

// Processor applies match events. Implements matching.Settler.
type Processor struct {
	store    *ledger.Store
	escrow   *escrow.Manager
	audit    audit.Recorder
	notifier Notifier
	cfg      Config
}

func NewProcessor(store *ledger.Store, esc *escrow.Manager, rec audit.Recorder, notifier Notifier, cfg Config) *Processor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Processor{store: store, escrow: esc, audit: rec, notifier: notifier, cfg: cfg}
}

// Settle settles one match event exactly once. Replaying an event whose
// transaction already exists returns that transaction without touching the
// ledger. On any failure before commit all reservations and both orders are
// left exactly as they were.
func (p *Processor) Settle(ctx context.Context, ev matching.MatchEvent) (*domain.Transaction, error) {
	if existing, err := p.findByEvent(ctx, ev.EventID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		tx, err := p.settleOnce(ctx, ev)
		if err == nil {
			return tx, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		log.Warn().Err(err).
			Str("match_event_id", ev.EventID.String()).
			Int("attempt", attempt+1).
			Msg("settlement conflict, retrying")
	}
	return nil, errors.Join(ErrSettlementRetryExhausted, lastErr)
}

func retryable(err error) bool {
	for _, sentinel := range []error{
		ledger.ErrInsufficientFunds,
		ledger.ErrInsufficientInventory,
		ledger.ErrInsufficientReserved,
		ledger.ErrAccountNotFound,
		ledger.ErrHoldingNotFound,
		ledger.ErrNonPositiveAmount,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

func (p *Processor) settleOnce(ctx context.Context, ev matching.MatchEvent) (*domain.Transaction, error) {
	buyer := ev.BuyOrder.AccountID
	seller := ev.SellOrder.AccountID

	// Both accounts' serialization points for the whole atomic step,
	// acquired in fixed global order.
	unlock := p.store.Locks().LockPair(buyer.String(), seller.String())
	defer unlock()

	total := money.Total(ev.Quantity, ev.ClearingPriceFils)
	buyerFee := money.FeeFils(total, p.cfg.BuyerFeeBps)
	sellerFee := money.FeeFils(total, p.cfg.SellerFeeBps)
	notaryFee := p.cfg.NotarizationFeeFils

	// Work on copies; the live order structs are only updated after the
	// transaction commits, so a rollback leaves them untouched.
	buyCopy := *ev.BuyOrder
	sellCopy := *ev.SellOrder

	record := &domain.Transaction{
		MatchEventID:    ev.EventID,
		BuyerID:         buyer,
		SellerID:        seller,
		BuyOrderID:      buyCopy.OrderID,
		SellOrderID:     sellCopy.OrderID,
		Quantity:        ev.Quantity,
		PricePerUnit:    ev.ClearingPriceFils,
		TotalAmount:     total,
		BuyerFee:        buyerFee,
		SellerFee:       sellerFee,
		NotarizationFee: notaryFee,
		Status:           domain.TxStatusPending,
		SettlementStatus: domain.SettlementStatusPending,
	}

	err := p.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := p.store.WithTx(tx)

		// Unique match_event_id is the idempotency backstop: a replay
		// racing past the pre-check fails here and rolls back cleanly.
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		// Buyer's reservation converts into two transfers: proceeds to
		// the seller, fees to the platform. Together they debit exactly
		// total + buyerFee + notarizationFee.
		if credit := total - sellerFee; credit > 0 {
			if err := s.TransferCash(ctx, buyer, seller, credit); err != nil {
				return err
			}
		}
		if fees := buyerFee + sellerFee + notaryFee; fees > 0 {
			if err := s.TransferCash(ctx, buyer, p.cfg.PlatformAccountID, fees); err != nil {
				return err
			}
		}

		toHolding, err := s.TransferQuantity(ctx, *sellCopy.HoldingID, buyer, ev.Quantity, ev.ClearingPriceFils)
		if err != nil {
			return err
		}
		record.HoldingID = toHolding
		if err := tx.Model(&domain.Transaction{}).
			Where("tx_id = ?", record.TxID).
			UpdateColumn("holding_id", toHolding).Error; err != nil {
			return err
		}

		applyFill(&buyCopy, ev.Quantity)
		applyFill(&sellCopy, ev.Quantity)

		debited := total + buyerFee + notaryFee
		cancelRemainder, err := p.escrow.RebalanceBuyAfterFill(ctx, s, &buyCopy, debited)
		if err != nil {
			return err
		}
		if cancelRemainder {
			buyCopy.Status = domain.OrderStatusCancelled
		}

		if err := saveOrder(tx, &buyCopy); err != nil {
			return err
		}
		return saveOrder(tx, &sellCopy)
	})
	if err != nil {
		return nil, err
	}

	// Committed: the trade is economically final. Publish the new order
	// states to the in-memory book (callers hold the partition lock).
	*ev.BuyOrder = buyCopy
	*ev.SellOrder = sellCopy

	record.Status = domain.TxStatusCompleted
	if err := p.store.DB().WithContext(ctx).Model(&domain.Transaction{}).
		Where("tx_id = ?", record.TxID).
		UpdateColumns(map[string]interface{}{
			"status":     domain.TxStatusCompleted,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	if err := p.audit.Record(ctx, audit.Entry{
		Actor:      "settlement",
		Action:     "transaction.settled",
		EntityType: "transaction",
		EntityID:   record.TxID.String(),
		Before:     nil,
		After:      record,
	}); err != nil {
		log.Error().Err(err).Str("tx_id", record.TxID.String()).Msg("audit record failed")
	}

	// Fire-and-forget: completed-trade latency never depends on the
	// notary network.
	if err := p.notifier.Enqueue(ctx, record.TxID); err != nil {
		log.Error().Err(err).Str("tx_id", record.TxID.String()).Msg("notarization enqueue failed")
	}

	return record, nil
}

func applyFill(o *domain.Order, qty int64) {
	o.RemainingQuantity -= qty
	if o.RemainingQuantity == 0 {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
}

func saveOrder(tx *gorm.DB, o *domain.Order) error {
	return tx.Model(&domain.Order{}).
		Where("order_id = ?", o.OrderID).
		UpdateColumns(map[string]interface{}{
			"remaining_quantity": o.RemainingQuantity,
			"status":             o.Status,
			"reserved_fils":      o.ReservedFils,
			"updated_at":         time.Now(),
		}).Error
}

func (p *Processor) findByEvent(ctx context.Context, eventID uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := p.store.DB().WithContext(ctx).Where("match_event_id = ?", eventID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
