package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/util"
)

type Type string

const (
	OrderPlaced      Type = "order_placed"
	TradeExecuted    Type = "trade_executed"
	OrderCancelled   Type = "order_cancelled"
	Deposited        Type = "deposited"
	Withdrawn        Type = "withdrawn"
	PairAdded        Type = "pair_added"
	PairRemoved      Type = "pair_removed"
	FeeRatesUpdated  Type = "fee_rates_updated"
	FeesWithdrawn    Type = "fees_withdrawn"
)

// Event is the envelope pushed onto the bus for every state change. Data
// is one of the *Data structs below, chosen by Type.
type Event struct {
	Type Type
	At   time.Time
	Data interface{}
}

type OrderPlacedData struct {
	OrderID uint64
	User    common.Address
	PairID  pair.ID
	Side    uint8
	Price   *uint256.Int
	Amount  *uint256.Int
}

type TradeExecutedData struct {
	PairID      pair.ID
	TakerOrder  uint64
	MakerOrder  uint64
	TakerUser   common.Address
	MakerUser   common.Address
	Price       *uint256.Int
	Amount      *uint256.Int
	TakerFee    *uint256.Int
	MakerFee    *uint256.Int
}

type OrderCancelledData struct {
	OrderID uint64
	User    common.Address
	PairID  pair.ID
	Refund  *uint256.Int
}

type BalanceChangedData struct {
	User   common.Address
	Asset  common.Address
	Amount *uint256.Int
}

type PairChangedData struct {
	PairID pair.ID
	Base   common.Address
	Quote  common.Address
}

type FeeRatesUpdatedData struct {
	MakerBps uint64
	TakerBps uint64
}

type FeesWithdrawnData struct {
	Asset common.Address
	Total *uint256.Int
}

// Bus wraps a RingBuffer[Event] with typed emit helpers so call sites in
// engine/coordinator never construct Event literals inline.
type Bus struct {
	ring  *RingBuffer[Event]
	clock util.Clock
}

func NewBus(capacity int) *Bus {
	return &Bus{ring: NewRingBuffer[Event](capacity), clock: util.RealClock{}}
}

// NewBusWithClock lets tests substitute a deterministic clock.
func NewBusWithClock(capacity int, clock util.Clock) *Bus {
	return &Bus{ring: NewRingBuffer[Event](capacity), clock: clock}
}

func (b *Bus) emit(t Type, data interface{}) {
	b.ring.Push(Event{Type: t, At: b.clock.Now(), Data: data})
}

func (b *Bus) EmitOrderPlaced(d OrderPlacedData)     { b.emit(OrderPlaced, d) }
func (b *Bus) EmitTradeExecuted(d TradeExecutedData) { b.emit(TradeExecuted, d) }
func (b *Bus) EmitOrderCancelled(d OrderCancelledData) { b.emit(OrderCancelled, d) }
func (b *Bus) EmitDeposit(d BalanceChangedData)      { b.emit(Deposited, d) }
func (b *Bus) EmitWithdrawal(d BalanceChangedData)   { b.emit(Withdrawn, d) }
func (b *Bus) EmitPairAdded(d PairChangedData)       { b.emit(PairAdded, d) }
func (b *Bus) EmitPairRemoved(d PairChangedData)     { b.emit(PairRemoved, d) }
func (b *Bus) EmitFeeRatesUpdated(d FeeRatesUpdatedData) { b.emit(FeeRatesUpdated, d) }
func (b *Bus) EmitFeesWithdrawn(d FeesWithdrawnData) { b.emit(FeesWithdrawn, d) }

// Next drains the next pending event for the consumer goroutine (the
// WebSocket hub).
func (b *Bus) Next() (Event, bool) {
	return b.ring.Read()
}
