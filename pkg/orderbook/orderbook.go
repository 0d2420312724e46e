// Package orderbook implements OrderBook (C2): per-pair FIFO queues of
// resting order ids at each price, paired with an OrderedPriceIndex per
// side so the matching engine can find the best price and the API layer
// can walk depth.
//
// The one invariant every operation here must preserve: a price is
// removed from the ordered index in the SAME operation that empties its
// FIFO queue, never unconditionally on any removal. Stripping a price
// from the index while sibling orders are still queued at it would make
// that liquidity invisible to BestBuy/BestSell and to any later order
// resting at the same price.
package orderbook

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/priceindex"
)

// Book holds one pair's bid and ask sides.
type Book struct {
	mu sync.RWMutex

	buyIndex  *priceindex.Index
	sellIndex *priceindex.Index

	buyQueues  map[[32]byte][]uint64
	sellQueues map[[32]byte][]uint64
}

func New() *Book {
	return &Book{
		buyIndex:   priceindex.New(),
		sellIndex:  priceindex.New(),
		buyQueues:  make(map[[32]byte][]uint64),
		sellQueues: make(map[[32]byte][]uint64),
	}
}

func priceKey(p *uint256.Int) [32]byte {
	return p.Bytes32()
}

func (b *Book) sideState(side orderstore.Side) (*priceindex.Index, map[[32]byte][]uint64) {
	if side == orderstore.Buy {
		return b.buyIndex, b.buyQueues
	}
	return b.sellIndex, b.sellQueues
}

// Enqueue appends orderID to the FIFO at price, inserting price into the
// ordered index the first time a queue exists at that price.
func (b *Book) Enqueue(side orderstore.Side, price *uint256.Int, orderID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, queues := b.sideState(side)
	key := priceKey(price)
	if _, exists := queues[key]; !exists {
		idx.Insert(price)
	}
	queues[key] = append(queues[key], orderID)
}

// Head returns the order id at the front of price's FIFO without
// removing it.
func (b *Book) Head(side orderstore.Side, price *uint256.Int) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, queues := b.sideState(side)
	q := queues[priceKey(price)]
	if len(q) == 0 {
		return 0, false
	}
	return q[0], true
}

// PopFront removes and returns the order id at the front of price's
// FIFO. The price is dropped from the ordered index only if this was the
// last order queued there.
func (b *Book) PopFront(side orderstore.Side, price *uint256.Int) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, queues := b.sideState(side)
	key := priceKey(price)
	q := queues[key]
	if len(q) == 0 {
		return 0, false
	}
	id := q[0]
	q = q[1:]
	if len(q) == 0 {
		delete(queues, key)
		idx.Remove(price)
	} else {
		queues[key] = q
	}
	return id, true
}

// Remove deletes orderID from price's FIFO wherever it sits in the
// queue (used for cancellation, since a cancelled order is rarely at the
// front). The price is dropped from the ordered index only if removing
// orderID empties the queue — never unconditionally, which is the
// defect this implementation fixes relative to a naive cancel.
func (b *Book) Remove(side orderstore.Side, price *uint256.Int, orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, queues := b.sideState(side)
	key := priceKey(price)
	q := queues[key]
	for i, id := range q {
		if id != orderID {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(queues, key)
			idx.Remove(price)
		} else {
			queues[key] = q
		}
		return true
	}
	return false
}

// BestBuy returns the highest bid price with resting liquidity, or nil.
func (b *Book) BestBuy() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buyIndex.Max()
}

// BestSell returns the lowest ask price with resting liquidity, or nil.
func (b *Book) BestSell() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sellIndex.Min()
}

// QueueLen reports how many orders are resting at price on side, for
// diagnostics and tests.
func (b *Book) QueueLen(side orderstore.Side, price *uint256.Int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, queues := b.sideState(side)
	return len(queues[priceKey(price)])
}

// Levels returns up to limit price levels on side starting from the best
// price and walking away from it (descending for buy, ascending for
// sell), each paired with the number of orders resting there.
func (b *Book) Levels(side orderstore.Side, limit int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, queues := b.sideState(side)
	var out []PriceLevel
	visit := func(price *uint256.Int) bool {
		out = append(out, PriceLevel{Price: price, OrderCount: len(queues[priceKey(price)])})
		return len(out) < limit
	}
	if side == orderstore.Buy {
		idx.Descend(visit)
	} else {
		idx.Ascend(visit)
	}
	return out
}

type PriceLevel struct {
	Price      *uint256.Int
	OrderCount int
}

// Walk visits price levels on side starting at startPrice (inclusive),
// moving away from the best price the same direction Levels does
// (descending for buy, ascending for sell); a nil or zero startPrice
// starts at the best price. visit receives each level's FIFO queue as a
// fresh slice (safe to read after Walk returns) and stops the walk early
// by returning false.
func (b *Book) Walk(side orderstore.Side, startPrice *uint256.Int, visit func(price *uint256.Int, orderIDs []uint64) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, queues := b.sideState(side)
	fn := func(price *uint256.Int) bool {
		q := queues[priceKey(price)]
		cp := make([]uint64, len(q))
		copy(cp, q)
		return visit(price, cp)
	}

	if side == orderstore.Buy {
		if startPrice == nil || startPrice.IsZero() {
			idx.Descend(fn)
		} else {
			idx.DescendFrom(startPrice, fn)
		}
	} else {
		if startPrice == nil || startPrice.IsZero() {
			idx.Ascend(fn)
		} else {
			idx.AscendFrom(startPrice, fn)
		}
	}
}

// Count reports how many orders rest on side in total, summed across
// every price level. Every order a queue holds is active by construction
// (PopFront/Remove evict an order from its queue in the same step that
// deactivates or cancels it), so this is already the active count §4.6.4
// asks for without a second per-order active check.
func (b *Book) Count(side orderstore.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, queues := b.sideState(side)
	total := 0
	idx.Ascend(func(price *uint256.Int) bool {
		total += len(queues[priceKey(price)])
		return true
	})
	return total
}
