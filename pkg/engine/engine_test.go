package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
)

type fakeVault struct {
	balances map[common.Address]map[common.Address]*uint256.Int
	locked   map[uint64]*uint256.Int
	makerFee map[common.Address]*uint256.Int
	takerFee map[common.Address]*uint256.Int
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		locked:   make(map[uint64]*uint256.Int),
		makerFee: make(map[common.Address]*uint256.Int),
		takerFee: make(map[common.Address]*uint256.Int),
	}
}

func (f *fakeVault) Credit(user, asset common.Address, amount *uint256.Int) error {
	if f.balances[user] == nil {
		f.balances[user] = make(map[common.Address]*uint256.Int)
	}
	cur := f.balances[user][asset]
	if cur == nil {
		cur = numeric.Zero()
	}
	next, err := numeric.Add(cur, amount)
	if err != nil {
		return err
	}
	f.balances[user][asset] = next
	return nil
}

func (f *fakeVault) LockedAmount(orderID uint64) *uint256.Int {
	v, ok := f.locked[orderID]
	if !ok {
		return numeric.Zero()
	}
	return v
}

func (f *fakeVault) ClearLocked(orderID uint64) error {
	delete(f.locked, orderID)
	return nil
}

func (f *fakeVault) AddTakerFee(asset common.Address, amount *uint256.Int) error {
	cur := f.takerFee[asset]
	if cur == nil {
		cur = numeric.Zero()
	}
	next, err := numeric.Add(cur, amount)
	if err != nil {
		return err
	}
	f.takerFee[asset] = next
	return nil
}

func (f *fakeVault) AddMakerFee(asset common.Address, amount *uint256.Int) error {
	cur := f.makerFee[asset]
	if cur == nil {
		cur = numeric.Zero()
	}
	next, err := numeric.Add(cur, amount)
	if err != nil {
		return err
	}
	f.makerFee[asset] = next
	return nil
}

func (f *fakeVault) balanceOf(user, asset common.Address) *uint256.Int {
	if f.balances[user] == nil {
		return numeric.Zero()
	}
	if v := f.balances[user][asset]; v != nil {
		return v
	}
	return numeric.Zero()
}

type fakePairs struct {
	p pair.Pair
}

func (f fakePairs) Get(id pair.ID) (pair.Pair, bool) {
	if id != f.p.ID {
		return pair.Pair{}, false
	}
	return f.p, true
}

var (
	baseAsset  = common.HexToAddress("0x1111111111111111111111111111111111111aaa")
	quoteAsset = common.HexToAddress("0x2222222222222222222222222222222222222bbb")
	alice      = common.HexToAddress("0xaaaa000000000000000000000000000000aaaa0")
	bob        = common.HexToAddress("0xbbbb000000000000000000000000000000bbbb0")
)

func newTestEngine(makerBps, takerBps uint64) (*Engine, pair.ID, *fakeVault) {
	p := pair.Pair{
		ID:            pair.CanonicalID(baseAsset, quoteAsset),
		Base:          baseAsset,
		Quote:         quoteAsset,
		BaseDecimals:  18,
		QuoteDecimals: 6,
		MinAmount:     uint256.NewInt(1),
		Active:        true,
	}
	v := newFakeVault()
	store := orderstore.New()
	bus := events.NewBus(64)
	e := New(store, fakePairs{p: p}, v, bus, makerBps, takerBps, 500)
	return e, p.ID, v
}

func TestPlaceOrderRejectsZeroAmount(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)
	if _, err := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(0), uint256.NewInt(100)); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestPlaceOrderRejectsUnknownPair(t *testing.T) {
	e, _, _ := newTestEngine(0, 0)
	if _, err := e.PlaceOrder(alice, pair.ID{0x99}, orderstore.Buy, uint256.NewInt(1), uint256.NewInt(100)); err == nil {
		t.Error("expected error for unregistered pair")
	}
}

func TestLimitOrderRestsWithoutCounterparty(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)
	id, err := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if err := e.MatchOrder(id); err != nil {
		t.Fatalf("MatchOrder: %v", err)
	}

	order, ok := e.GetOrder(id)
	if !ok || !order.Active {
		t.Fatal("order with no counterparty should remain active and resting")
	}
	if !order.Remaining.Eq(uint256.NewInt(10)) {
		t.Errorf("remaining = %s, want 10", order.Remaining)
	}
	if !e.BestBuy(pairID).Eq(uint256.NewInt(100)) {
		t.Errorf("BestBuy = %s, want 100", e.BestBuy(pairID))
	}
}

func TestFullFillCreditsBothSidesNetOfFees(t *testing.T) {
	e, pairID, v := newTestEngine(10, 15) // 10bps maker, 15bps taker

	sellID, _ := e.PlaceOrder(bob, pairID, orderstore.Sell, uint256.NewInt(1000), uint256.NewInt(10))
	e.MatchOrder(sellID)

	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(1000), uint256.NewInt(10))
	if err := e.MatchOrder(buyID); err != nil {
		t.Fatalf("MatchOrder: %v", err)
	}

	buyOrder, _ := e.GetOrder(buyID)
	if buyOrder.Active {
		t.Error("fully filled taker order should be inactive")
	}
	if !buyOrder.Remaining.IsZero() {
		t.Errorf("remaining = %s, want 0", buyOrder.Remaining)
	}

	sellOrder, _ := e.GetOrder(sellID)
	if sellOrder.Active {
		t.Error("fully filled maker order should be inactive")
	}

	// taker (alice) bought 1000 base; net of its 15bps fee: 1000 - floor(1000*15/10000) = 999
	wantTakerBase := uint256.NewInt(1000 - 1000*15/10000)
	if got := v.balanceOf(alice, baseAsset); !got.Eq(wantTakerBase) {
		t.Errorf("alice base balance = %s, want %s", got, wantTakerBase)
	}

	// maker (bob) receives quote gross = 1000*10 = 10000, net of its 10bps fee: 10000 - floor(10000*10/10000) = 9990
	wantMakerQuote := uint256.NewInt(10000 - 10000*10/10000)
	if got := v.balanceOf(bob, quoteAsset); !got.Eq(wantMakerQuote) {
		t.Errorf("bob quote balance = %s, want %s", got, wantMakerQuote)
	}

	if got := v.takerFee[baseAsset]; got == nil || !got.Eq(uint256.NewInt(1000*15/10000)) {
		t.Errorf("taker fee pool = %v, want %d", got, 1000*15/10000)
	}
	if got := v.makerFee[quoteAsset]; got == nil || !got.Eq(uint256.NewInt(10000*10/10000)) {
		t.Errorf("maker fee pool = %v, want %d", got, 10000*10/10000)
	}
}

// TestFullFillClearsMakerLock is the regression test for ConservationPerAsset:
// a resting maker that is fully consumed by a fill must have its
// locked_amounts entry cleared immediately, not just on cancellation.
func TestFullFillClearsMakerLock(t *testing.T) {
	e, pairID, v := newTestEngine(0, 0)

	sellID, _ := e.PlaceOrder(bob, pairID, orderstore.Sell, uint256.NewInt(100), uint256.NewInt(10))
	v.locked[sellID] = uint256.NewInt(100)
	e.MatchOrder(sellID)

	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(100), uint256.NewInt(10))
	if err := e.MatchOrder(buyID); err != nil {
		t.Fatalf("MatchOrder: %v", err)
	}

	if got := v.LockedAmount(sellID); !got.IsZero() {
		t.Errorf("maker lock = %s, want 0 after full fill", got)
	}
	if _, stillSet := v.locked[sellID]; stillSet {
		t.Error("locked map entry for fully filled maker should be removed, not just zeroed")
	}
}

func TestPartialFillLeavesMakerRestingWithReducedRemaining(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)

	sellID, _ := e.PlaceOrder(bob, pairID, orderstore.Sell, uint256.NewInt(100), uint256.NewInt(10))
	e.MatchOrder(sellID)

	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(40), uint256.NewInt(10))
	e.MatchOrder(buyID)

	sellOrder, _ := e.GetOrder(sellID)
	if !sellOrder.Active {
		t.Error("partially filled maker should remain active")
	}
	if !sellOrder.Remaining.Eq(uint256.NewInt(60)) {
		t.Errorf("maker remaining = %s, want 60", sellOrder.Remaining)
	}

	buyOrder, _ := e.GetOrder(buyID)
	if buyOrder.Active {
		t.Error("fully filled taker should be inactive")
	}
}

func TestMarketBuyRefundsUnfilledResidual(t *testing.T) {
	e, pairID, v := newTestEngine(0, 0)

	sellID, _ := e.PlaceOrder(bob, pairID, orderstore.Sell, uint256.NewInt(10), uint256.NewInt(10))
	e.MatchOrder(sellID)

	// market buy: remaining is quote-denominated; lock 1000 quote for a
	// max of 100 base at price 10, but only 10 base (100 quote) is available
	v.locked[2] = uint256.NewInt(1000)
	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(1000), numeric.Zero())
	if err := e.MatchOrder(buyID); err != nil {
		t.Fatalf("MatchOrder: %v", err)
	}

	buyOrder, _ := e.GetOrder(buyID)
	if buyOrder.Active {
		t.Error("unfilled market order must never remain active/resting")
	}

	// residual = 1000 - 100 (cost of 10 base @ price 10) = 900, refunded pro-rata
	// of the 1000 locked against the 1000 total amount => 900
	got := v.balanceOf(alice, quoteAsset)
	if !got.Eq(uint256.NewInt(900)) {
		t.Errorf("residual refund = %s, want 900", got)
	}
}

func TestMarketBuyWithNoLiquidityRefundsEverything(t *testing.T) {
	e, pairID, v := newTestEngine(0, 0)
	v.locked[1] = uint256.NewInt(500)

	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(500), numeric.Zero())
	if err := e.MatchOrder(buyID); err != nil {
		t.Fatalf("MatchOrder: %v", err)
	}

	order, _ := e.GetOrder(buyID)
	if order.Active {
		t.Error("market order with no fills should be inactive")
	}
	if got := v.balanceOf(alice, quoteAsset); !got.Eq(uint256.NewInt(500)) {
		t.Errorf("refund = %s, want full 500", got)
	}
}

func TestCancelOrderRemovesFromBookAndDeactivates(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)
	id, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id)

	cancelled, err := e.CancelOrder(id)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Active {
		t.Error("returned snapshot should reflect the cancelled state")
	}

	order, _ := e.GetOrder(id)
	if order.Active {
		t.Error("order should be inactive after cancellation")
	}
	if e.BestBuy(pairID) != nil {
		t.Error("price should be dropped from the index once its only order cancels")
	}
}

func TestCancelOrderOfAlreadyInactiveOrderFails(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)
	id, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id)
	e.CancelOrder(id)

	if _, err := e.CancelOrder(id); err == nil {
		t.Error("cancelling an already-inactive order should fail")
	}
}

// TestCancelOneOfManyAtSamePriceKeepsPriceIndexed is the regression test at
// the engine layer: cancelling one of several resting orders at a shared
// price must leave that price visible to later matching.
func TestCancelOneOfManyAtSamePriceKeepsPriceIndexed(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)
	id1, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id1)
	id2, _ := e.PlaceOrder(bob, pairID, orderstore.Buy, uint256.NewInt(20), uint256.NewInt(100))
	e.MatchOrder(id2)

	if _, err := e.CancelOrder(id1); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	if got := e.BestBuy(pairID); got == nil || !got.Eq(uint256.NewInt(100)) {
		t.Errorf("BestBuy = %v, want 100 (order 2 still resting there)", got)
	}

	best, ok := e.BestOrder(pairID, orderstore.Buy)
	if !ok || best.ID != id2 {
		t.Errorf("best resting order = %+v, want order %d", best, id2)
	}
}

// TestGetOrdersPaginatedWalksPriceThenFIFOAndSkipsCancelled exercises §4.6.4's
// depth-query contract: resting buys at two price levels, with one order
// cancelled out of the front of the surviving level's FIFO.
func TestGetOrdersPaginatedWalksPriceThenFIFOAndSkipsCancelled(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)

	// price 100: two orders, id1 then id2, FIFO order
	id1, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id1)
	id2, _ := e.PlaceOrder(bob, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id2)

	// price 90: a lower bid, should come after price 100 when descending
	id3, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(90))
	e.MatchOrder(id3)

	// cancel id1: it must disappear from the walk while price 100 stays
	// indexed for id2, per the same FIFO-integrity invariant orderbook
	// guarantees on cancellation.
	if _, err := e.CancelOrder(id1); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	orders, next, total := e.GetOrdersPaginated(pairID, orderstore.Buy, nil, 10)
	if total != 2 {
		t.Errorf("total = %d, want 2 (id1 cancelled)", total)
	}
	if next != nil {
		t.Errorf("next = %v, want nil (walk exhausted)", next)
	}
	if len(orders) != 2 || orders[0].ID != id2 || orders[1].ID != id3 {
		t.Fatalf("orders = %+v, want [id2@100, id3@90] in price-then-FIFO order", orders)
	}
}

func TestGetOrdersPaginatedLimitReturnsCursorForNextPage(t *testing.T) {
	e, pairID, _ := newTestEngine(0, 0)

	id1, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(100))
	e.MatchOrder(id1)
	id2, _ := e.PlaceOrder(bob, pairID, orderstore.Buy, uint256.NewInt(10), uint256.NewInt(90))
	e.MatchOrder(id2)

	orders, next, total := e.GetOrdersPaginated(pairID, orderstore.Buy, nil, 1)
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(orders) != 1 || orders[0].ID != id1 {
		t.Fatalf("orders = %+v, want only id1 (best price first)", orders)
	}
	if next == nil || !next.Eq(uint256.NewInt(90)) {
		t.Errorf("next = %v, want 90 (the unseen level)", next)
	}
}

func TestSetFeeRatesAppliesToSubsequentFills(t *testing.T) {
	e, pairID, v := newTestEngine(0, 0)
	e.SetFeeRates(100, 200) // 1% maker, 2% taker

	sellID, _ := e.PlaceOrder(bob, pairID, orderstore.Sell, uint256.NewInt(100), uint256.NewInt(10))
	e.MatchOrder(sellID)
	buyID, _ := e.PlaceOrder(alice, pairID, orderstore.Buy, uint256.NewInt(100), uint256.NewInt(10))
	e.MatchOrder(buyID)

	wantTakerFee := uint256.NewInt(100 * 200 / 10000)
	if got := v.takerFee[baseAsset]; got == nil || !got.Eq(wantTakerFee) {
		t.Errorf("taker fee = %v, want %s", got, wantTakerFee)
	}
}
