// Package orderstore implements OrderStore (C3): the append-only map
// from OrderId to Order, with the process-global monotonic id counter.
// Id 0 is reserved as "no order" and is never handed out.
package orderstore

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/errs"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/util"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

// Order is the durable record of one placed order. Price of zero marks a
// market order per the sentinel convention; Remaining is decremented as
// fills consume it and frozen once Active flips false.
type Order struct {
	ID        uint64
	User      common.Address
	PairID    pair.ID
	Side      Side
	Price     *uint256.Int
	Amount    *uint256.Int
	Remaining *uint256.Int
	Active    bool
	CreatedAt int64
}

func (o *Order) IsMarket() bool {
	return o.Price == nil || o.Price.IsZero()
}

// Store is the shared, append-only order table. Every pair's orders live
// in the same map since OrderId is allocated from one global counter.
type Store struct {
	mu     sync.RWMutex
	orders map[uint64]*Order
	nextID uint64
	clock  util.Clock
}

func New() *Store {
	return &Store{orders: make(map[uint64]*Order), nextID: 1, clock: util.RealClock{}}
}

// NewWithClock lets tests substitute a deterministic clock so CreatedAt
// comparisons in FIFO-integrity assertions are reproducible.
func NewWithClock(clock util.Clock) *Store {
	return &Store{orders: make(map[uint64]*Order), nextID: 1, clock: clock}
}

// Create allocates the next id and records the order. The returned
// pointer is the store's live copy; callers that hold the engine's write
// lock may mutate Remaining/Active through it directly.
func (s *Store) Create(user common.Address, pairID pair.ID, side Side, price, amount *uint256.Int) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &Order{
		ID:        s.nextID,
		User:      user,
		PairID:    pairID,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Remaining: new(uint256.Int).Set(amount),
		Active:    true,
		CreatedAt: s.clock.Now().UnixNano(),
	}
	s.orders[o.ID] = o
	s.nextID++
	return o
}

func (s *Store) Get(id uint64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errs.New(errs.UnknownOrder, "order %d not found", id)
	}
	return o, nil
}

// Snapshot returns a value copy of the order, safe to hand to a reader
// goroutine outside the write lock.
func (s *Store) Snapshot(id uint64) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}
