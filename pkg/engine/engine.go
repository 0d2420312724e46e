// Package engine implements MatchingEngine (C6): order placement, the
// match loop, fee computation, cancellation, and snapshot queries. It
// calls into C1 (via orderbook), C2 (orderbook), C3 (orderstore), and C5
// (pair) directly, and reaches C4 (vault) only through the narrow
// VaultCapability interface declared here so this package never imports
// the vault package.
package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/errs"
	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
	"github.com/hyperlicked-labs/clobvault/pkg/orderbook"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
)

// VaultCapability is everything the match loop needs from the vault:
// paying out fills and refunds, reading what an order locked at
// placement, and accumulating fee pools. Passing this interface in at
// construction (rather than a concrete *vault.Vault) keeps this package
// from importing the vault package.
type VaultCapability interface {
	Credit(user, asset common.Address, amount *uint256.Int) error
	LockedAmount(orderID uint64) *uint256.Int
	ClearLocked(orderID uint64) error
	AddTakerFee(asset common.Address, amount *uint256.Int) error
	AddMakerFee(asset common.Address, amount *uint256.Int) error
}

// PairLookup is the read-only slice of PairRegistry the engine needs.
type PairLookup interface {
	Get(id pair.ID) (pair.Pair, bool)
}

const DefaultMaxMatchIterations = 500

// Engine owns the order store and every pair's order book. Its mu
// serializes its own place, match, cancel and fee-rate calls; the single
// process-wide write lock that spans a whole debit+place+match (or
// cancel+refund) transaction is the coordinator's, not this one.
type Engine struct {
	mu sync.Mutex

	store *orderstore.Store
	pairs PairLookup
	vault VaultCapability
	bus   *events.Bus

	booksMu sync.RWMutex
	books   map[pair.ID]*orderbook.Book

	makerFeeBps   uint64
	takerFeeBps   uint64
	maxIterations int
}

func New(store *orderstore.Store, pairs PairLookup, vault VaultCapability, bus *events.Bus, makerFeeBps, takerFeeBps uint64, maxIterations int) *Engine {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxMatchIterations
	}
	return &Engine{
		store:         store,
		pairs:         pairs,
		vault:         vault,
		bus:           bus,
		books:         make(map[pair.ID]*orderbook.Book),
		makerFeeBps:   makerFeeBps,
		takerFeeBps:   takerFeeBps,
		maxIterations: maxIterations,
	}
}

func (e *Engine) bookFor(id pair.ID) *orderbook.Book {
	e.booksMu.RLock()
	b, ok := e.books[id]
	e.booksMu.RUnlock()
	if ok {
		return b
	}

	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	if b, ok := e.books[id]; ok {
		return b
	}
	b = orderbook.New()
	e.books[id] = b
	return b
}

// PlaceOrder implements §4.6.1: validates the amount and pair, allocates
// an order id, enqueues limit orders into the book, and emits
// OrderPlaced. Matching is a separate call so a batch of placements can
// be staged before any of them match.
func (e *Engine) PlaceOrder(user common.Address, pairID pair.ID, side orderstore.Side, amount, price *uint256.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return 0, errs.New(errs.AmountBelowMinimum, "amount must be greater than zero")
	}
	p, ok := e.pairs.Get(pairID)
	if !ok || !p.Active {
		return 0, errs.New(errs.InvalidPair, "pair not registered or inactive")
	}
	if price == nil {
		price = numeric.Zero()
	}

	order := e.store.Create(user, pairID, side, price, amount)

	if !order.IsMarket() {
		e.bookFor(pairID).Enqueue(side, price, order.ID)
	}

	e.bus.EmitOrderPlaced(events.OrderPlacedData{
		OrderID: order.ID,
		User:    user,
		PairID:  pairID,
		Side:    uint8(side),
		Price:   numeric.Clone(price),
		Amount:  numeric.Clone(amount),
	})

	return order.ID, nil
}

// MatchOrder implements §4.6.2: runs the match loop for orderID against
// the opposite side of its pair's book until remaining is exhausted, the
// book no longer crosses, or MAX_MATCH_ITERATIONS is hit.
func (e *Engine) MatchOrder(orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	incoming, err := e.store.Get(orderID)
	if err != nil {
		return err
	}

	p, ok := e.pairs.Get(incoming.PairID)
	if !ok {
		return errs.New(errs.InvalidPair, "pair not registered")
	}
	book := e.bookFor(incoming.PairID)

	remaining := numeric.Clone(incoming.Remaining)
	iterations := 0

	if incoming.Side == orderstore.Buy {
		err = e.matchBuy(incoming, book, p, remaining, &iterations)
	} else {
		err = e.matchSell(incoming, book, p, remaining, &iterations)
	}
	if err != nil {
		return err
	}

	incoming.Remaining = remaining
	incoming.Active = !remaining.IsZero() && !incoming.IsMarket()

	if incoming.IsMarket() && !remaining.IsZero() {
		if err := e.refundMarketResidual(incoming, p, remaining); err != nil {
			return err
		}
	}

	return nil
}

// CancelOrder implements §4.6.3, including the fix for the source's
// unconditional price-removal defect: the price is dropped from the
// ordered index only when removing this order empties its FIFO, via
// orderbook.Book.Remove.
func (e *Engine) CancelOrder(orderID uint64) (orderstore.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.store.Get(orderID)
	if err != nil {
		return orderstore.Order{}, err
	}
	if !order.Active {
		return orderstore.Order{}, errs.New(errs.NotActive, "order %d is not active", orderID)
	}

	if !order.IsMarket() {
		e.bookFor(order.PairID).Remove(order.Side, order.Price, order.ID)
	}
	order.Active = false

	// OrderCancelled is emitted by the coordinator once it knows the
	// refund amount, not here, so the event always carries a complete
	// picture of what the cancellation returned to the user.
	snapshot := *order
	return snapshot, nil
}

// SetFeeRates updates the basis-point rates applied to every subsequent
// fill.
func (e *Engine) SetFeeRates(makerBps, takerBps uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.makerFeeBps = makerBps
	e.takerFeeBps = takerBps
	e.bus.EmitFeeRatesUpdated(events.FeeRatesUpdatedData{MakerBps: makerBps, TakerBps: takerBps})
}

func (e *Engine) FeeRates() (makerBps, takerBps uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.makerFeeBps, e.takerFeeBps
}

// --- read-only snapshot queries (§4.6.4) ---

func (e *Engine) GetOrder(id uint64) (orderstore.Order, bool) {
	return e.store.Snapshot(id)
}

func (e *Engine) BestBuy(pairID pair.ID) *uint256.Int {
	return e.bookFor(pairID).BestBuy()
}

func (e *Engine) BestSell(pairID pair.ID) *uint256.Int {
	return e.bookFor(pairID).BestSell()
}

func (e *Engine) BestOrder(pairID pair.ID, side orderstore.Side) (orderstore.Order, bool) {
	book := e.bookFor(pairID)
	var price *uint256.Int
	if side == orderstore.Buy {
		price = book.BestBuy()
	} else {
		price = book.BestSell()
	}
	if price == nil || price.IsZero() {
		return orderstore.Order{}, false
	}
	id, ok := book.Head(side, price)
	if !ok {
		return orderstore.Order{}, false
	}
	return e.store.Snapshot(id)
}

// GetOrdersPaginated implements §4.6.4's depth-query contract: walk the
// side's ordered price index from startPrice (best price if nil/zero) in
// price-then-FIFO order, yielding only active resting orders, and report
// how many more there were to see via nextStartPrice (nil once the walk
// is exhausted) alongside the side's total active count. A single price
// level holding more orders than limit will resume from that same price
// on the next call, which can re-yield entries already seen on the prior
// page — the cursor this contract names is a price, not a byte offset,
// so that is the one case it cannot express exactly; preferring a
// possible duplicate over silently dropping resting orders.
func (e *Engine) GetOrdersPaginated(pairID pair.ID, side orderstore.Side, startPrice *uint256.Int, limit int) ([]orderstore.Order, *uint256.Int, int) {
	book := e.bookFor(pairID)
	total := book.Count(side)
	if limit <= 0 {
		return nil, nil, total
	}

	var out []orderstore.Order
	var next *uint256.Int
	book.Walk(side, startPrice, func(price *uint256.Int, orderIDs []uint64) bool {
		if len(out) >= limit {
			next = numeric.Clone(price)
			return false
		}
		for _, id := range orderIDs {
			if len(out) >= limit {
				next = numeric.Clone(price)
				return false
			}
			if o, ok := e.store.Snapshot(id); ok && o.Active {
				out = append(out, o)
			}
		}
		return true
	})
	return out, next, total
}

func (e *Engine) GetLockedAmount(orderID uint64) *uint256.Int {
	return e.vault.LockedAmount(orderID)
}

func minU256(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return numeric.Clone(a)
	}
	return numeric.Clone(b)
}
