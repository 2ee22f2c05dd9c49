package orderbook

import (
	"testing"
	"time"

	"rectrade-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCriteria = domain.CertificateCriteria{
	FacilityID:  uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	EnergyType:  "solar",
	VintageYear: 2025,
	Emirate:     "Dubai",
	Standard:    "I-REC",
}

func newOrder(side string, price, qty int64, createdAt time.Time) *domain.Order {
	return &domain.Order{
		OrderID:             uuid.New(),
		AccountID:           uuid.New(),
		Side:                side,
		CertificateCriteria: testCriteria,
		Quantity:            qty,
		RemainingQuantity:   qty,
		PriceFils:           price,
		AllowPartialFill:    true,
		Status:              domain.OrderStatusOpen,
		CreatedAt:           createdAt,
	}
}

func collectWalk(b *Book, incoming *domain.Order) []*domain.Order {
	var seen []*domain.Order
	b.WalkCandidates(incoming, time.Now(), func(cand *domain.Order) WalkResult {
		seen = append(seen, cand)
		return WalkResult{}
	})
	return seen
}

func TestInsertGetRemove(t *testing.T) {
	b := New()
	o := newOrder(domain.OrderSideSell, 1000, 50, time.Now())
	b.Insert(o)

	assert.Equal(t, o, b.Get(o.OrderID))
	assert.Equal(t, o, b.Remove(o.OrderID))
	assert.Nil(t, b.Get(o.OrderID))
	assert.Nil(t, b.Remove(o.OrderID))
}

// Lowest ask first for a buy; highest bid first for a sell.
func TestWalkCandidates_BestPriceFirst(t *testing.T) {
	b := New()
	now := time.Now()
	cheap := newOrder(domain.OrderSideSell, 900, 10, now)
	mid := newOrder(domain.OrderSideSell, 1000, 10, now)
	expensive := newOrder(domain.OrderSideSell, 1100, 10, now)
	b.Insert(expensive)
	b.Insert(cheap)
	b.Insert(mid)

	buy := newOrder(domain.OrderSideBuy, 1100, 30, now)
	seen := collectWalk(b, buy)
	require.Len(t, seen, 3)
	assert.Equal(t, cheap.OrderID, seen[0].OrderID)
	assert.Equal(t, mid.OrderID, seen[1].OrderID)
	assert.Equal(t, expensive.OrderID, seen[2].OrderID)
}

// Among equal prices, earlier submission wins.
func TestWalkCandidates_TimePriorityWithinLevel(t *testing.T) {
	b := New()
	now := time.Now()
	first := newOrder(domain.OrderSideSell, 1000, 10, now)
	second := newOrder(domain.OrderSideSell, 1000, 10, now.Add(time.Second))
	b.Insert(first)
	b.Insert(second)

	buy := newOrder(domain.OrderSideBuy, 1000, 20, now)
	seen := collectWalk(b, buy)
	require.Len(t, seen, 2)
	assert.Equal(t, first.OrderID, seen[0].OrderID)
	assert.Equal(t, second.OrderID, seen[1].OrderID)
}

// Counter-orders priced past the incoming limit never appear.
func TestWalkCandidates_OnlyCrossingPrices(t *testing.T) {
	b := New()
	now := time.Now()
	b.Insert(newOrder(domain.OrderSideSell, 1200, 10, now))
	inRange := newOrder(domain.OrderSideSell, 1000, 10, now)
	b.Insert(inRange)

	buy := newOrder(domain.OrderSideBuy, 1000, 20, now)
	seen := collectWalk(b, buy)
	require.Len(t, seen, 1)
	assert.Equal(t, inRange.OrderID, seen[0].OrderID)

	// Sell side mirror: bids below the ask don't cross.
	b2 := New()
	lowBid := newOrder(domain.OrderSideBuy, 900, 10, now)
	highBid := newOrder(domain.OrderSideBuy, 1100, 10, now)
	b2.Insert(lowBid)
	b2.Insert(highBid)
	sell := newOrder(domain.OrderSideSell, 1000, 20, now)
	seen = collectWalk(b2, sell)
	require.Len(t, seen, 1)
	assert.Equal(t, highBid.OrderID, seen[0].OrderID)
}

// Orders with different certificate criteria live in different partitions
// and never match.
func TestWalkCandidates_PartitionIsolation(t *testing.T) {
	b := New()
	now := time.Now()
	other := newOrder(domain.OrderSideSell, 1000, 10, now)
	other.VintageYear = 2024
	b.Insert(other)

	buy := newOrder(domain.OrderSideBuy, 1000, 10, now)
	assert.Empty(t, collectWalk(b, buy))
}

// Expired candidates are skipped, taken off the book, and handed back for
// asynchronous cancellation.
func TestWalkCandidates_SkipsAndReturnsExpired(t *testing.T) {
	b := New()
	now := time.Now()
	past := now.Add(-time.Minute)
	expired := newOrder(domain.OrderSideSell, 1000, 10, now.Add(-time.Hour))
	expired.ExpiresAt = &past
	live := newOrder(domain.OrderSideSell, 1000, 10, now)
	b.Insert(expired)
	b.Insert(live)

	buy := newOrder(domain.OrderSideBuy, 1000, 20, now)
	var seen []*domain.Order
	got := b.WalkCandidates(buy, now, func(cand *domain.Order) WalkResult {
		seen = append(seen, cand)
		return WalkResult{}
	})

	require.Len(t, seen, 1)
	assert.Equal(t, live.OrderID, seen[0].OrderID)
	require.Len(t, got, 1)
	assert.Equal(t, expired.OrderID, got[0].OrderID)
	assert.Nil(t, b.Get(expired.OrderID))
}

func TestWalkCandidates_StopEndsEarly(t *testing.T) {
	b := New()
	now := time.Now()
	b.Insert(newOrder(domain.OrderSideSell, 900, 10, now))
	b.Insert(newOrder(domain.OrderSideSell, 1000, 10, now))

	buy := newOrder(domain.OrderSideBuy, 1000, 20, now)
	var n int
	b.WalkCandidates(buy, now, func(cand *domain.Order) WalkResult {
		n++
		return WalkResult{Stop: true}
	})
	assert.Equal(t, 1, n)
}

func TestWalkCandidates_RemoveCandidate(t *testing.T) {
	b := New()
	now := time.Now()
	filled := newOrder(domain.OrderSideSell, 900, 10, now)
	b.Insert(filled)

	buy := newOrder(domain.OrderSideBuy, 1000, 20, now)
	b.WalkCandidates(buy, now, func(cand *domain.Order) WalkResult {
		return WalkResult{RemoveCandidate: true}
	})
	assert.Nil(t, b.Get(filled.OrderID))
}

func TestDepth(t *testing.T) {
	b := New()
	now := time.Now()
	b.Insert(newOrder(domain.OrderSideBuy, 950, 10, now))
	b.Insert(newOrder(domain.OrderSideBuy, 900, 20, now))
	b.Insert(newOrder(domain.OrderSideSell, 1000, 5, now))
	second := newOrder(domain.OrderSideSell, 1000, 7, now)
	b.Insert(second)

	levels := b.Depth(KeyFor(testCriteria))
	require.Len(t, levels, 3)
	// Bids descending, then asks ascending.
	assert.Equal(t, DepthLevel{Side: domain.OrderSideBuy, PriceFils: 950, Quantity: 10, OrderCount: 1}, levels[0])
	assert.Equal(t, DepthLevel{Side: domain.OrderSideBuy, PriceFils: 900, Quantity: 20, OrderCount: 1}, levels[1])
	assert.Equal(t, DepthLevel{Side: domain.OrderSideSell, PriceFils: 1000, Quantity: 12, OrderCount: 2}, levels[2])
}

func TestExpiring(t *testing.T) {
	b := New()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := newOrder(domain.OrderSideSell, 1000, 10, now)
	expired.ExpiresAt = &past
	live := newOrder(domain.OrderSideSell, 1000, 10, now)
	live.ExpiresAt = &future
	open := newOrder(domain.OrderSideSell, 1000, 10, now)
	b.Insert(expired)
	b.Insert(live)
	b.Insert(open)

	got := b.Expiring(now)
	require.Len(t, got, 1)
	assert.Equal(t, expired.OrderID, got[0].OrderID)
}
