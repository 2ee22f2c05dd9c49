// Package orderbook holds the open orders per certificate-selection
// partition. Orders at the same price queue FIFO, so the walk order is
// strict price-time priority. The book is in-memory and rebuilt from the
// orders table on startup; the database stays the source of truth.
package orderbook

import (
	"container/list"
	"fmt"
	"sort"
	"sync"
	"time"

	"rectrade-backend/internal/domain"

	"github.com/google/uuid"
)

// PartitionKey identifies one independent order-book partition. Orders in
// different partitions can never match and their book mutations proceed in
// parallel.
type PartitionKey struct {
	FacilityID  uuid.UUID
	EnergyType  string
	VintageYear int
	Emirate     string
	Standard    string
}

func KeyFor(c domain.CertificateCriteria) PartitionKey {
	return PartitionKey{
		FacilityID:  c.FacilityID,
		EnergyType:  c.EnergyType,
		VintageYear: c.VintageYear,
		Emirate:     c.Emirate,
		Standard:    c.Standard,
	}
}

// String is the serialization-point key for the partition.
func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s/%d/%s/%s", k.FacilityID, k.EnergyType, k.VintageYear, k.Emirate, k.Standard)
}

// priceLevel is the FIFO queue of resting orders at one price.
type priceLevel struct {
	price int64
	queue *list.List
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price, queue: list.New()}
}

type partition struct {
	mu       sync.Mutex
	bids     map[int64]*priceLevel // buy side
	asks     map[int64]*priceLevel // sell side
	elements map[uuid.UUID]*list.Element
}

func newPartition() *partition {
	return &partition{
		bids:     make(map[int64]*priceLevel),
		asks:     make(map[int64]*priceLevel),
		elements: make(map[uuid.UUID]*list.Element),
	}
}

func (p *partition) levels(side string) map[int64]*priceLevel {
	if side == domain.OrderSideBuy {
		return p.bids
	}
	return p.asks
}

// Book is the partitioned order book.
type Book struct {
	mu         sync.RWMutex
	partitions map[PartitionKey]*partition
	byID       map[uuid.UUID]*domain.Order
}

func New() *Book {
	return &Book{
		partitions: make(map[PartitionKey]*partition),
		byID:       make(map[uuid.UUID]*domain.Order),
	}
}

func (b *Book) partitionFor(key PartitionKey, create bool) *partition {
	b.mu.RLock()
	p, ok := b.partitions[key]
	b.mu.RUnlock()
	if ok || !create {
		return p
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.partitions[key]; ok {
		return p
	}
	p = newPartition()
	b.partitions[key] = p
	return p
}

// Insert adds an open order to its partition. Price-time priority follows
// insertion order within a price level, so callers insert in CreatedAt order
// when rebuilding from storage.
func (b *Book) Insert(o *domain.Order) {
	key := KeyFor(o.CertificateCriteria)
	p := b.partitionFor(key, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	levels := p.levels(o.Side)
	level, ok := levels[o.PriceFils]
	if !ok {
		level = newPriceLevel(o.PriceFils)
		levels[o.PriceFils] = level
	}
	p.elements[o.OrderID] = level.queue.PushBack(o)

	b.mu.Lock()
	b.byID[o.OrderID] = o
	b.mu.Unlock()
}

// Remove takes an order out of the book. Returns the removed order, or nil
// when the order is not resting.
func (b *Book) Remove(orderID uuid.UUID) *domain.Order {
	b.mu.Lock()
	o, ok := b.byID[orderID]
	if ok {
		delete(b.byID, orderID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	key := KeyFor(o.CertificateCriteria)
	p := b.partitionFor(key, false)
	if p == nil {
		return o
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[o.OrderID]; ok {
		levels := p.levels(o.Side)
		if level, ok := levels[o.PriceFils]; ok {
			level.queue.Remove(el)
			if level.queue.Len() == 0 {
				delete(levels, o.PriceFils)
			}
		}
		delete(p.elements, o.OrderID)
	}
	return o
}

// Get returns the resting order with the given ID, or nil.
func (b *Book) Get(orderID uuid.UUID) *domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byID[orderID]
}

// WalkResult tells WalkCandidates what to do with the candidate just
// visited.
type WalkResult struct {
	// RemoveCandidate takes the candidate out of the book (fully filled).
	RemoveCandidate bool
	// Stop ends the walk (incoming order exhausted or caller gave up).
	Stop bool
}

// WalkCandidates visits compatible counter-orders of incoming in price-time
// priority: best price first (lowest ask for a buy, highest bid for a sell),
// FIFO within a price level, only prices that cross incoming's limit. The
// walk is lazy — fn can stop it at any point — and candidates expired at
// `now` are skipped, removed, and returned for asynchronous cancellation.
func (b *Book) WalkCandidates(incoming *domain.Order, now time.Time, fn func(candidate *domain.Order) WalkResult) (expired []*domain.Order) {
	key := KeyFor(incoming.CertificateCriteria)
	p := b.partitionFor(key, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	counterSide := domain.OrderSideSell
	if incoming.Side == domain.OrderSideSell {
		counterSide = domain.OrderSideBuy
	}
	levels := p.levels(counterSide)

	prices := make([]int64, 0, len(levels))
	for price := range levels {
		if crosses(incoming, price) {
			prices = append(prices, price)
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		if counterSide == domain.OrderSideSell {
			return prices[i] < prices[j] // lowest ask first
		}
		return prices[i] > prices[j] // highest bid first
	})

	for _, price := range prices {
		level, ok := levels[price]
		if !ok {
			continue
		}
		for el := level.queue.Front(); el != nil; {
			next := el.Next()
			cand := el.Value.(*domain.Order)
			if cand.IsExpired(now) {
				level.queue.Remove(el)
				delete(p.elements, cand.OrderID)
				b.mu.Lock()
				delete(b.byID, cand.OrderID)
				b.mu.Unlock()
				expired = append(expired, cand)
				el = next
				continue
			}
			res := fn(cand)
			if res.RemoveCandidate {
				level.queue.Remove(el)
				delete(p.elements, cand.OrderID)
				b.mu.Lock()
				delete(b.byID, cand.OrderID)
				b.mu.Unlock()
			}
			if res.Stop {
				if level.queue.Len() == 0 {
					delete(levels, price)
				}
				return expired
			}
			el = next
		}
		if level.queue.Len() == 0 {
			delete(levels, price)
		}
	}
	return expired
}

func crosses(incoming *domain.Order, counterPrice int64) bool {
	if incoming.Side == domain.OrderSideBuy {
		return counterPrice <= incoming.PriceFils
	}
	return counterPrice >= incoming.PriceFils
}

// DepthLevel is one aggregated price level of the public book view.
type DepthLevel struct {
	Side       string `json:"side"`
	PriceFils  int64  `json:"price_fils"`
	Quantity   int64  `json:"quantity"`
	OrderCount int    `json:"order_count"`
}

// Depth aggregates the partition's resting orders by price level, bids
// descending then asks ascending.
func (b *Book) Depth(key PartitionKey) []DepthLevel {
	p := b.partitionFor(key, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	collect := func(levels map[int64]*priceLevel, side string, asc bool) []DepthLevel {
		prices := make([]int64, 0, len(levels))
		for price := range levels {
			prices = append(prices, price)
		}
		sort.Slice(prices, func(i, j int) bool {
			if asc {
				return prices[i] < prices[j]
			}
			return prices[i] > prices[j]
		})
		out := make([]DepthLevel, 0, len(prices))
		for _, price := range prices {
			level := levels[price]
			var qty int64
			for el := level.queue.Front(); el != nil; el = el.Next() {
				qty += el.Value.(*domain.Order).RemainingQuantity
			}
			out = append(out, DepthLevel{Side: side, PriceFils: price, Quantity: qty, OrderCount: level.queue.Len()})
		}
		return out
	}

	out := collect(p.bids, domain.OrderSideBuy, false)
	return append(out, collect(p.asks, domain.OrderSideSell, true)...)
}

// Expiring returns resting orders whose expiry has passed at `now`, across
// all partitions. Used by the periodic sweeper; the lazy path in
// WalkCandidates catches the rest.
func (b *Book) Expiring(now time.Time) []*domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*domain.Order
	for _, o := range b.byID {
		if o.IsExpired(now) {
			out = append(out, o)
		}
	}
	return out
}
