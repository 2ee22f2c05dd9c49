// Package matching decides which orders trade. It consumes new orders and
// cancellations, reserves through the escrow manager before anything reaches
// the book, walks counter-orders in price-time priority, and hands each fill
// to the settlement processor. The engine itself never retries: an order
// that cannot match rests in the book.
package matching

import (
	"context"
	"fmt"
	"time"

	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/escrow"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/orderbook"
	"rectrade-backend/internal/pkg/keylock"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// MatchEvent is one fill decided by the engine, identified for exactly-once
// settlement. The clearing price is always the resting order's price.
type MatchEvent struct {
	EventID           uuid.UUID
	BuyOrder          *domain.Order
	SellOrder         *domain.Order
	Quantity          int64
	ClearingPriceFils int64
}

// Settler turns a match event into a finalized transaction. It must be
// idempotent per EventID and must mutate both orders' remaining quantity,
// status and reservation only when it succeeds.
type Settler interface {
	Settle(ctx context.Context, ev MatchEvent) (*domain.Transaction, error)
}

// SubmitRequest is a new order from an already-authenticated account.
type SubmitRequest struct {
	AccountID        uuid.UUID
	Side             string
	Criteria         domain.CertificateCriteria
	HoldingID        *uuid.UUID
	Quantity         int64
	PriceFils        int64
	AllowPartialFill bool
	MinFillQuantity  int64
	ExpiresAt        *time.Time
}

// Engine wires the book, escrow and settlement together under per-partition
// serialization points. Different partitions match fully in parallel.
type Engine struct {
	db         *gorm.DB
	book       *orderbook.Book
	store      *ledger.Store
	escrow     *escrow.Manager
	settler    Settler
	partitions *keylock.Registry
	now        func() time.Time
}

func NewEngine(db *gorm.DB, book *orderbook.Book, store *ledger.Store, esc *escrow.Manager, settler Settler) *Engine {
	return &Engine{
		db:         db,
		book:       book,
		store:      store,
		escrow:     esc,
		settler:    settler,
		partitions: keylock.NewRegistry(),
		now:        time.Now,
	}
}

// WithClock overrides the engine clock (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Book exposes the underlying order book for read-side queries.
func (e *Engine) Book() *orderbook.Book { return e.book }

func (e *Engine) validate(req *SubmitRequest) error {
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if req.PriceFils <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.MinFillQuantity < 0 || req.MinFillQuantity > req.Quantity {
		return fmt.Errorf("%w: min fill quantity out of range", ErrValidation)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(e.now()) {
		return fmt.Errorf("%w: expiry is in the past", ErrValidation)
	}
	if req.Side == domain.OrderSideSell {
		if req.HoldingID == nil {
			return fmt.Errorf("%w: sell order requires a holding", ErrValidation)
		}
		return nil
	}
	if req.Criteria.FacilityID == uuid.Nil || req.Criteria.EnergyType == "" || req.Criteria.Emirate == "" || req.Criteria.VintageYear == 0 {
		return fmt.Errorf("%w: incomplete certificate criteria", ErrValidation)
	}
	return nil
}

// SubmitOrder validates, escrows, matches and books a new order. Returns
// the order in its post-matching state and the transactions settled during
// the walk.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.Order, []*domain.Transaction, error) {
	if err := e.validate(&req); err != nil {
		return nil, nil, err
	}

	order := &domain.Order{
		OrderID:             uuid.New(),
		AccountID:           req.AccountID,
		Side:                req.Side,
		CertificateCriteria: req.Criteria,
		HoldingID:           req.HoldingID,
		Quantity:            req.Quantity,
		RemainingQuantity:   req.Quantity,
		PriceFils:           req.PriceFils,
		AllowPartialFill:    req.AllowPartialFill,
		MinFillQuantity:     req.MinFillQuantity,
		Status:              domain.OrderStatusOpen,
		ExpiresAt:           req.ExpiresAt,
		CreatedAt:           e.now(),
	}
	if order.Standard == "" {
		order.Standard = "I-REC"
	}

	// Sell orders trade a specific lot; their criteria come from it.
	if order.Side == domain.OrderSideSell {
		h, err := e.store.GetHolding(ctx, *order.HoldingID)
		if err != nil {
			return nil, nil, err
		}
		order.CertificateCriteria = domain.CertificateCriteria{
			FacilityID:  h.FacilityID,
			EnergyType:  h.EnergyType,
			VintageYear: h.VintageYear,
			Emirate:     h.Emirate,
			Standard:    h.Standard,
		}
	}

	key := orderbook.KeyFor(order.CertificateCriteria)
	unlock := e.partitions.Lock(key.String())
	defer unlock()

	// Reserve before the book: a rejected order never appears in it.
	if err := e.escrow.ReserveForOrder(ctx, e.store, order); err != nil {
		return nil, nil, err
	}
	if err := e.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, nil, err
	}

	txs, expired := e.match(ctx, order)

	if !order.IsTerminal() {
		if order.RemainingQuantity == 0 {
			order.Status = domain.OrderStatusFilled
		} else if len(txs) > 0 {
			order.Status = domain.OrderStatusPartiallyFilled
		}
	}
	if err := e.db.WithContext(ctx).Save(order).Error; err != nil {
		return nil, nil, err
	}
	if !order.IsTerminal() && order.RemainingQuantity > 0 {
		e.book.Insert(order)
	}

	// Expired resting orders met during the walk are cancelled off the
	// matching path.
	for _, exp := range expired {
		if err := e.finishOrder(ctx, exp, domain.OrderStatusExpired); err != nil {
			log.Error().Err(err).Str("order_id", exp.OrderID.String()).Msg("expiry cancel failed")
		}
	}

	return order, txs, nil
}

// match walks compatible counter-orders in price-time priority and settles
// each eligible fill. The walk stops as soon as the incoming order is
// exhausted or turns terminal.
func (e *Engine) match(ctx context.Context, order *domain.Order) ([]*domain.Transaction, []*domain.Order) {
	var txs []*domain.Transaction

	expired := e.book.WalkCandidates(order, e.now(), func(cand *domain.Order) orderbook.WalkResult {
		// Self-trade prevention: own resting orders are skipped, not
		// cancelled.
		if cand.AccountID == order.AccountID {
			return orderbook.WalkResult{}
		}

		fill := order.RemainingQuantity
		if cand.RemainingQuantity < fill {
			fill = cand.RemainingQuantity
		}
		if !order.AllowPartialFill && fill < order.RemainingQuantity {
			return orderbook.WalkResult{}
		}
		if !cand.AllowPartialFill && fill < cand.RemainingQuantity {
			return orderbook.WalkResult{}
		}
		if order.MinFillQuantity > 0 && fill < order.MinFillQuantity {
			return orderbook.WalkResult{}
		}
		if cand.MinFillQuantity > 0 && fill < cand.MinFillQuantity {
			return orderbook.WalkResult{}
		}

		buy, sell := order, cand
		if order.Side == domain.OrderSideSell {
			buy, sell = cand, order
		}
		ev := MatchEvent{
			EventID:           uuid.New(),
			BuyOrder:          buy,
			SellOrder:         sell,
			Quantity:          fill,
			ClearingPriceFils: cand.PriceFils, // maker price wins
		}
		tx, err := e.settler.Settle(ctx, ev)
		if err != nil {
			// Settlement rolled back; both orders are untouched.
			// Skip this candidate and keep walking.
			log.Warn().Err(err).
				Str("buy_order", buy.OrderID.String()).
				Str("sell_order", sell.OrderID.String()).
				Int64("quantity", fill).
				Msg("settlement failed, skipping candidate")
			return orderbook.WalkResult{}
		}
		txs = append(txs, tx)

		res := orderbook.WalkResult{}
		if cand.RemainingQuantity == 0 || cand.IsTerminal() {
			res.RemoveCandidate = true
		}
		if order.RemainingQuantity == 0 || order.IsTerminal() {
			res.Stop = true
		}
		return res
	})

	return txs, expired
}

// CancelOrder cancels the still-open remainder of an order. Portions already
// matched have settled and stay settled.
func (e *Engine) CancelOrder(ctx context.Context, accountID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, ErrNotOrderOwner
	}

	key := orderbook.KeyFor(order.CertificateCriteria)
	unlock := e.partitions.Lock(key.String())
	defer unlock()

	// The resting copy is authoritative while the order is on the book.
	if resting := e.book.Get(orderID); resting != nil {
		order = resting
	}
	if order.IsTerminal() {
		return nil, ErrOrderNotOpen
	}
	if err := e.finishOrder(ctx, order, domain.OrderStatusCancelled); err != nil {
		return nil, err
	}
	return order, nil
}

// SweepExpired cancels every resting order whose expiry has passed. Called
// periodically; the lazy path in the candidate walk catches the rest.
func (e *Engine) SweepExpired(ctx context.Context) int {
	var n int
	for _, order := range e.book.Expiring(e.now()) {
		key := orderbook.KeyFor(order.CertificateCriteria)
		unlock := e.partitions.Lock(key.String())
		if order.IsTerminal() || !order.IsExpired(e.now()) {
			unlock()
			continue
		}
		if err := e.finishOrder(ctx, order, domain.OrderStatusExpired); err != nil {
			log.Error().Err(err).Str("order_id", order.OrderID.String()).Msg("expiry sweep failed")
		} else {
			n++
		}
		unlock()
	}
	return n
}

// finishOrder releases the order's remaining reservation, marks it with the
// terminal status and persists it. The order must already be off the book or
// about to be removed here.
func (e *Engine) finishOrder(ctx context.Context, order *domain.Order, status string) error {
	e.book.Remove(order.OrderID)
	if err := e.escrow.ReleaseRemainder(ctx, e.store, order); err != nil {
		return err
	}
	order.Status = status
	return e.db.WithContext(ctx).Save(order).Error
}

func (e *Engine) loadOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if o := e.book.Get(orderID); o != nil {
		return o, nil
	}
	var o domain.Order
	if err := e.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// LoadOpenOrders rebuilds the in-memory book from the orders table, oldest
// first so time priority survives restarts.
func (e *Engine) LoadOpenOrders(ctx context.Context) (int, error) {
	var orders []*domain.Order
	err := e.db.WithContext(ctx).
		Where("status IN ?", []string{domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled}).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		e.book.Insert(o)
	}
	return len(orders), nil
}
