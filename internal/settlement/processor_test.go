package settlement

import (
	"context"
	"testing"

	"rectrade-backend/internal/audit"
	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/escrow"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/matching"
	"rectrade-backend/internal/pkg/keylock"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	buyerFeeBps  = 100
	sellerFeeBps = 200
	notaryFee    = 25
)

type fixture struct {
	db        *gorm.DB
	store     *ledger.Store
	processor *Processor
	platform  uuid.UUID
	notified  []uuid.UUID
}

func (f *fixture) Enqueue(ctx context.Context, txID uuid.UUID) error {
	f.notified = append(f.notified, txID)
	return nil
}

// withOrdersTable=false leaves the orders table unmigrated so the atomic
// settlement step fails after the transfers and must roll everything back.
func newFixture(t *testing.T, withOrdersTable bool) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	models := []interface{}{&domain.Account{}, &domain.Holding{}, &domain.Transaction{}, &domain.AuditRecord{}}
	if withOrdersTable {
		models = append(models, &domain.Order{})
	}
	require.NoError(t, db.AutoMigrate(models...))

	f := &fixture{db: db, platform: uuid.New()}
	require.NoError(t, db.Create(&domain.Account{AccountID: f.platform}).Error)

	f.store = ledger.NewStore(db, keylock.NewRegistry(), audit.NopRecorder{})
	esc := escrow.NewManager(buyerFeeBps, notaryFee)
	f.processor = NewProcessor(f.store, esc, audit.NopRecorder{}, f, Config{
		BuyerFeeBps:         buyerFeeBps,
		SellerFeeBps:        sellerFeeBps,
		NotarizationFeeFils: notaryFee,
		PlatformAccountID:   f.platform,
	})
	return f
}

// event builds a fully escrowed 60 @ 1000 match: buyer cash and reservation
// cover the debit, the seller lot has the quantity reserved, and both order
// rows exist when the orders table does.
func (f *fixture) event(t *testing.T) matching.MatchEvent {
	t.Helper()
	ctx := context.Background()

	buyer := domain.Account{AccountID: uuid.New(), CashBalance: 200000}
	seller := domain.Account{AccountID: uuid.New()}
	require.NoError(t, f.db.Create(&buyer).Error)
	require.NoError(t, f.db.Create(&seller).Error)

	lot := domain.Holding{
		AccountID:   seller.AccountID,
		FacilityID:  uuid.New(),
		EnergyType:  "wind",
		VintageYear: 2024,
		Emirate:     "Sharjah",
		Standard:    "I-REC",
		Quantity:    60,
		Status:      domain.HoldingStatusActive,
	}
	require.NoError(t, f.db.Create(&lot).Error)
	require.NoError(t, f.store.ReserveQuantity(ctx, lot.HoldingID, 60))

	crit := domain.CertificateCriteria{
		FacilityID:  lot.FacilityID,
		EnergyType:  lot.EnergyType,
		VintageYear: lot.VintageYear,
		Emirate:     lot.Emirate,
		Standard:    lot.Standard,
	}
	buyOrder := &domain.Order{
		OrderID:             uuid.New(),
		AccountID:           buyer.AccountID,
		Side:                domain.OrderSideBuy,
		CertificateCriteria: crit,
		Quantity:            60,
		RemainingQuantity:   60,
		PriceFils:           1000,
		AllowPartialFill:    true,
		Status:              domain.OrderStatusOpen,
	}
	sellOrder := &domain.Order{
		OrderID:             uuid.New(),
		AccountID:           seller.AccountID,
		Side:                domain.OrderSideSell,
		CertificateCriteria: crit,
		HoldingID:           &lot.HoldingID,
		Quantity:            60,
		RemainingQuantity:   60,
		PriceFils:           1000,
		AllowPartialFill:    true,
		Status:              domain.OrderStatusOpen,
	}

	// 60 @ 1000 plus 1% fee plus one notarization fee.
	require.NoError(t, f.store.ReserveCash(ctx, buyer.AccountID, 60625))
	buyOrder.ReservedFils = 60625

	var hasOrders bool
	require.NoError(t, f.db.Raw(
		"SELECT count(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'orders'",
	).Scan(&hasOrders).Error)
	if hasOrders {
		require.NoError(t, f.db.Create(buyOrder).Error)
		require.NoError(t, f.db.Create(sellOrder).Error)
	}

	return matching.MatchEvent{
		EventID:           uuid.New(),
		BuyOrder:          buyOrder,
		SellOrder:         sellOrder,
		Quantity:          60,
		ClearingPriceFils: 1000,
	}
}

func (f *fixture) account(t *testing.T, id uuid.UUID) *domain.Account {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func TestSettle_AppliesFeesAndTransfers(t *testing.T) {
	f := newFixture(t, true)
	ev := f.event(t)
	ctx := context.Background()

	tx, err := f.processor.Settle(ctx, ev)
	require.NoError(t, err)

	assert.Equal(t, ev.EventID, tx.MatchEventID)
	assert.Equal(t, int64(60), tx.Quantity)
	assert.Equal(t, int64(1000), tx.PricePerUnit)
	assert.Equal(t, int64(60000), tx.TotalAmount)
	assert.Equal(t, int64(600), tx.BuyerFee)
	assert.Equal(t, int64(1200), tx.SellerFee)
	assert.Equal(t, int64(notaryFee), tx.NotarizationFee)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, domain.SettlementStatusPending, tx.SettlementStatus)
	assert.NotEqual(t, uuid.Nil, tx.HoldingID)

	// Buyer: debit total + buyer fee + notary fee, reservation fully
	// consumed. Seller: credit net of the seller fee. Platform: every fee.
	buyer := f.account(t, ev.BuyOrder.AccountID)
	assert.Equal(t, int64(200000-60625), buyer.CashBalance)
	assert.Zero(t, buyer.ReservedCash)
	assert.Equal(t, int64(58800), f.account(t, ev.SellOrder.AccountID).CashBalance)
	assert.Equal(t, int64(1825), f.account(t, f.platform).CashBalance)

	// Both live orders were advanced only after the commit.
	assert.Zero(t, ev.BuyOrder.RemainingQuantity)
	assert.Equal(t, domain.OrderStatusFilled, ev.BuyOrder.Status)
	assert.Zero(t, ev.BuyOrder.ReservedFils)
	assert.Zero(t, ev.SellOrder.RemainingQuantity)
	assert.Equal(t, domain.OrderStatusFilled, ev.SellOrder.Status)

	// The seller's lot is emptied and retired; the buyer got a new lot.
	lot, err := f.store.GetHolding(ctx, *ev.SellOrder.HoldingID)
	require.NoError(t, err)
	assert.Zero(t, lot.Quantity)
	assert.Equal(t, domain.HoldingStatusRetired, lot.Status)

	bought, err := f.store.GetHolding(ctx, tx.HoldingID)
	require.NoError(t, err)
	assert.Equal(t, ev.BuyOrder.AccountID, bought.AccountID)
	assert.Equal(t, int64(60), bought.Quantity)
	assert.Equal(t, int64(1000), bought.AcquisitionPrice)

	// The completed trade went to the notarization queue.
	assert.Equal(t, []uuid.UUID{tx.TxID}, f.notified)
}

func TestSettle_ReplayReturnsExistingWithoutReapplying(t *testing.T) {
	f := newFixture(t, true)
	ev := f.event(t)
	ctx := context.Background()

	first, err := f.processor.Settle(ctx, ev)
	require.NoError(t, err)
	buyerAfter := f.account(t, ev.BuyOrder.AccountID).CashBalance
	sellerAfter := f.account(t, ev.SellOrder.AccountID).CashBalance

	again, err := f.processor.Settle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, first.TxID, again.TxID)

	// No second transfer, no second transaction row, no second
	// notarization.
	assert.Equal(t, buyerAfter, f.account(t, ev.BuyOrder.AccountID).CashBalance)
	assert.Equal(t, sellerAfter, f.account(t, ev.SellOrder.AccountID).CashBalance)
	var n int64
	require.NoError(t, f.db.Model(&domain.Transaction{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Len(t, f.notified, 1)
}

func TestSettle_InsufficientReservationFailsWithoutRetry(t *testing.T) {
	f := newFixture(t, true)
	ev := f.event(t)
	ctx := context.Background()

	// Break the seller's escrow under the event.
	require.NoError(t, f.store.ReleaseQuantity(ctx, *ev.SellOrder.HoldingID, 60))

	_, err := f.processor.Settle(ctx, ev)
	assert.ErrorIs(t, err, ledger.ErrInsufficientReserved)
	assert.NotErrorIs(t, err, ErrSettlementRetryExhausted)

	// Rolled back: no transaction row, no money moved, orders untouched.
	var n int64
	require.NoError(t, f.db.Model(&domain.Transaction{}).Count(&n).Error)
	assert.Zero(t, n)
	buyer := f.account(t, ev.BuyOrder.AccountID)
	assert.Equal(t, int64(200000), buyer.CashBalance)
	assert.Equal(t, int64(60625), buyer.ReservedCash)
	assert.Equal(t, int64(60), ev.BuyOrder.RemainingQuantity)
	assert.Equal(t, domain.OrderStatusOpen, ev.BuyOrder.Status)
	assert.Empty(t, f.notified)
}

func TestSettle_RetryableFailureRollsBackAndExhausts(t *testing.T) {
	// No orders table: the final order persist inside the atomic step keeps
	// failing, which is not one of the ledger's terminal conditions, so the
	// processor retries until its attempts run out.
	f := newFixture(t, false)
	ev := f.event(t)
	ctx := context.Background()

	_, err := f.processor.Settle(ctx, ev)
	assert.ErrorIs(t, err, ErrSettlementRetryExhausted)

	// Every attempt rolled back in full: reservations intact, no transfer
	// reached the seller or the platform, both order structs untouched.
	buyer := f.account(t, ev.BuyOrder.AccountID)
	assert.Equal(t, int64(200000), buyer.CashBalance)
	assert.Equal(t, int64(60625), buyer.ReservedCash)
	assert.Zero(t, f.account(t, ev.SellOrder.AccountID).CashBalance)
	assert.Zero(t, f.account(t, f.platform).CashBalance)

	lot, err2 := f.store.GetHolding(ctx, *ev.SellOrder.HoldingID)
	require.NoError(t, err2)
	assert.Equal(t, int64(60), lot.Quantity)
	assert.Equal(t, int64(60), lot.ReservedQuantity)
	assert.Equal(t, domain.HoldingStatusActive, lot.Status)

	assert.Equal(t, int64(60), ev.BuyOrder.RemainingQuantity)
	assert.Equal(t, int64(60625), ev.BuyOrder.ReservedFils)
	assert.Equal(t, domain.OrderStatusOpen, ev.BuyOrder.Status)

	var n int64
	require.NoError(t, f.db.Model(&domain.Transaction{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, f.notified)
}

func TestSettle_PartialFillTopsUpNextNotaryFee(t *testing.T) {
	f := newFixture(t, true)
	ev := f.event(t)
	ctx := context.Background()

	// Stretch the buy order to 100 with a matching reservation so 40 stay
	// open after this 60-certificate fill.
	ev.BuyOrder.Quantity = 100
	ev.BuyOrder.RemainingQuantity = 100
	require.NoError(t, f.store.ReserveCash(ctx, ev.BuyOrder.AccountID, 101025-60625))
	ev.BuyOrder.ReservedFils = 101025
	require.NoError(t, f.db.Model(&domain.Order{}).
		Where("order_id = ?", ev.BuyOrder.OrderID).
		UpdateColumns(map[string]interface{}{
			"quantity":           100,
			"remaining_quantity": 100,
			"reserved_fils":      101025,
		}).Error)

	_, err := f.processor.Settle(ctx, ev)
	require.NoError(t, err)

	// Debited 60625; the open 40 target 40000 + 400 + 25, so the next
	// fill's notarization fee was re-reserved.
	assert.Equal(t, int64(40), ev.BuyOrder.RemainingQuantity)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, ev.BuyOrder.Status)
	assert.Equal(t, int64(40425), ev.BuyOrder.ReservedFils)
	assert.Equal(t, int64(40425), f.account(t, ev.BuyOrder.AccountID).ReservedCash)
}

func TestRetryableClassification(t *testing.T) {
	for _, sentinel := range []error{
		ledger.ErrInsufficientFunds,
		ledger.ErrInsufficientInventory,
		ledger.ErrInsufficientReserved,
		ledger.ErrAccountNotFound,
		ledger.ErrHoldingNotFound,
		ledger.ErrNonPositiveAmount,
	} {
		assert.False(t, retryable(sentinel), "%v must not be retried", sentinel)
	}
	assert.True(t, retryable(assert.AnError))
}
