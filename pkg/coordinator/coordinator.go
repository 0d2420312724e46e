// Package coordinator implements TradeCoordinator (C7): the vault-side
// façade that verifies a request, locks collateral, forwards placement
// and matching to the engine, and handles cancellation refunds. It is
// the sole caller of the engine's mutating methods and the sole holder
// of the system's process-wide write lock.
package coordinator

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	clobcrypto "github.com/hyperlicked-labs/clobvault/pkg/crypto"
	"github.com/hyperlicked-labs/clobvault/pkg/engine"
	"github.com/hyperlicked-labs/clobvault/pkg/errs"
	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/vault"
)

func uint256FromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return numeric.Zero(), nil
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errs.New(errs.Overflow, "value exceeds 256 bits")
	}
	return v, nil
}

const DefaultMinAmount = 1

// Coordinator is the single entry point every write-API handler calls
// through. Its own mutex is the "one process-wide write lock" §5 asks
// for: the whole verify+lock+place+match (or cancel+refund) sequence
// runs under it, even though Vault and Engine each also hold their own
// finer-grained locks for standalone calls.
type Coordinator struct {
	mu sync.Mutex

	vault  *vault.Vault
	engine *engine.Engine
	pairs  *pair.Registry
	signer *clobcrypto.RequestSigner
	bus    *events.Bus

	admin     common.Address
	minAmount *uint256.Int

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(v *vault.Vault, e *engine.Engine, pairs *pair.Registry, signer *clobcrypto.RequestSigner, bus *events.Bus, admin common.Address, minAmount *uint256.Int) *Coordinator {
	if minAmount == nil {
		minAmount = numeric.FromUint64(DefaultMinAmount)
	}
	return &Coordinator{
		vault:     v,
		engine:    e,
		pairs:     pairs,
		signer:    signer,
		bus:       bus,
		admin:     admin,
		minAmount: minAmount,
		seen:      make(map[string]struct{}),
	}
}

// checkReplay records preApprovalID as seen, returning an error if it has
// been used before. This is the fix for the source's unchecked
// pre_approval_id defect: it runs before any lock is taken.
func (c *Coordinator) checkReplay(preApprovalID string) error {
	if preApprovalID == "" {
		return errs.New(errs.InvalidSignature, "pre_approval_id must be non-empty")
	}
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, used := c.seen[preApprovalID]; used {
		return errs.New(errs.ReplayedApprovalID, "pre_approval_id %q already used", preApprovalID)
	}
	c.seen[preApprovalID] = struct{}{}
	return nil
}

// ExecuteTrade implements §4.7's write path: verify, re-validate, lock
// collateral, place, match.
func (c *Coordinator) ExecuteTrade(req *clobcrypto.TradeRequest, signature []byte) (uint64, error) {
	if !c.signer.VerifyTradeRequest(req, signature) {
		return 0, errs.New(errs.InvalidSignature, "signature does not recover to user")
	}
	if err := c.checkReplay(req.PreApprovalID); err != nil {
		return 0, err
	}

	if req.Base == req.Quote {
		return 0, errs.New(errs.InvalidPair, "base and quote must differ")
	}
	pairID, ok := c.pairs.GetPairID(req.Base, req.Quote)
	if !ok {
		return 0, errs.New(errs.InvalidPair, "pair not registered or inactive")
	}
	p, _ := c.pairs.Get(pairID)

	side := orderstore.Buy
	if req.Side == 1 {
		side = orderstore.Sell
	}

	amount, err := uint256FromBig(req.Amount)
	if err != nil {
		return 0, errs.New(errs.AmountBelowMinimum, "invalid amount")
	}
	var price *uint256.Int
	if req.Price != nil {
		price, err = uint256FromBig(req.Price)
		if err != nil {
			return 0, errs.New(errs.AmountBelowMinimum, "invalid price")
		}
	} else {
		price = numeric.Zero()
	}

	if amount.Lt(c.minAmount) {
		return 0, errs.New(errs.AmountBelowMinimum, "amount below minimum")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lockAsset, lockAmount, err := c.computeLock(p, side, price, amount)
	if err != nil {
		return 0, err
	}
	if err := c.vault.Debit(req.User, lockAsset, lockAmount); err != nil {
		return 0, err
	}

	orderID, err := c.engine.PlaceOrder(req.User, pairID, side, amount, price)
	if err != nil {
		// Placement itself failed after the debit succeeded; refund the
		// lock so the failed request leaves no residue.
		_ = c.vault.Credit(req.User, lockAsset, lockAmount)
		return 0, err
	}
	if err := c.vault.SetLocked(orderID, lockAmount); err != nil {
		return 0, err
	}

	if err := c.engine.MatchOrder(orderID); err != nil {
		return orderID, err
	}

	if order, ok := c.engine.GetOrder(orderID); ok && !order.Active {
		_ = c.vault.ClearLocked(orderID)
	}

	return orderID, nil
}

// computeLock implements §4.7 step 3's three lock-accounting branches.
func (c *Coordinator) computeLock(p pair.Pair, side orderstore.Side, price, amount *uint256.Int) (asset common.Address, lockAmount *uint256.Int, err error) {
	switch {
	case side == orderstore.Buy && !price.IsZero():
		quoteNeeded, mulErr := numeric.Mul(amount, price)
		if mulErr != nil {
			return common.Address{}, nil, mulErr
		}
		minQuote, mulErr := numeric.Mul(c.minAmount, numeric.FromUint64(100))
		if mulErr != nil {
			return common.Address{}, nil, mulErr
		}
		if quoteNeeded.Lt(minQuote) {
			return common.Address{}, nil, errs.New(errs.AmountBelowMinimum, "quote amount below minimum")
		}
		return p.Quote, quoteNeeded, nil

	case side == orderstore.Buy && price.IsZero():
		best := c.engine.BestSell(p.ID)
		if best == nil || best.IsZero() {
			return common.Address{}, nil, errs.New(errs.NoLiquidity, "no resting sell liquidity for market buy")
		}
		return p.Quote, numeric.Clone(amount), nil

	default: // Sell, limit or market
		return p.Base, numeric.Clone(amount), nil
	}
}

// CancelOrder implements §4.7's cancellation path: verify the caller's
// signed request (the same opaque verify_request predicate as
// ExecuteTrade, including pre_approval_id replay protection), cancel in
// the engine, then refund the proportional remaining collateral.
func (c *Coordinator) CancelOrder(req *clobcrypto.CancelRequest, signature []byte) error {
	if !c.signer.VerifyCancelRequest(req, signature) {
		return errs.New(errs.InvalidSignature, "signature does not recover to user")
	}
	if err := c.checkReplay(req.PreApprovalID); err != nil {
		return err
	}
	if req.OrderID == nil || !req.OrderID.IsUint64() {
		return errs.New(errs.UnknownOrder, "invalid order id")
	}
	orderID := req.OrderID.Uint64()
	user := req.User

	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.engine.GetOrder(orderID)
	if !ok {
		return errs.New(errs.UnknownOrder, "order %d not found", orderID)
	}
	if order.User != user {
		return errs.New(errs.NotAuthorized, "caller does not own order %d", orderID)
	}

	cancelled, err := c.engine.CancelOrder(orderID)
	if err != nil {
		return err
	}

	p, _ := c.pairs.Get(cancelled.PairID)
	locked := c.vault.LockedAmount(orderID)

	var refund *uint256.Int
	var refundAsset common.Address
	if cancelled.Side == orderstore.Buy {
		refundAsset = p.Quote
		refund, err = numeric.MulDiv(locked, cancelled.Remaining, cancelled.Amount)
		if err != nil {
			return err
		}
	} else {
		refundAsset = p.Base
		refund = numeric.Clone(cancelled.Remaining)
	}

	if err := c.vault.Credit(user, refundAsset, refund); err != nil {
		return err
	}
	if err := c.vault.ClearLocked(orderID); err != nil {
		return err
	}
	c.bus.EmitOrderCancelled(events.OrderCancelledData{
		OrderID: orderID,
		User:    user,
		PairID:  cancelled.PairID,
		Refund:  refund,
	})
	return nil
}

// Deposit and Withdraw are user-initiated and serialize against trade
// execution and cancellation through the same outer lock, since they
// mutate the same balance map ConservationPerAsset is defined over.
func (c *Coordinator) Deposit(user, asset common.Address, amount *uint256.Int, assetDecimals uint8) error {
	if amount == nil || amount.IsZero() {
		return errs.New(errs.AmountBelowMinimum, "amount must be greater than zero")
	}
	if assetDecimals < 6 {
		return errs.New(errs.InsufficientDecimals, "asset requires at least 6 decimals")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.vault.Deposit(user, asset, amount); err != nil {
		return err
	}
	c.bus.EmitDeposit(events.BalanceChangedData{User: user, Asset: asset, Amount: amount})
	return nil
}

func (c *Coordinator) Withdraw(user, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.vault.Withdraw(user, asset, amount); err != nil {
		return err
	}
	c.bus.EmitWithdrawal(events.BalanceChangedData{User: user, Asset: asset, Amount: amount})
	return nil
}

// --- admin operations ---

func (c *Coordinator) requireAdmin(caller common.Address) error {
	if caller != c.admin {
		return errs.New(errs.NotAuthorized, "caller is not the admin principal")
	}
	return nil
}

func (c *Coordinator) AddPair(caller common.Address, base, quote common.Address, minAmount *uint256.Int) (pair.ID, error) {
	if err := c.requireAdmin(caller); err != nil {
		return pair.ID{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.pairs.AddPair(base, quote, minAmount)
	if err != nil {
		return pair.ID{}, err
	}
	c.bus.EmitPairAdded(events.PairChangedData{PairID: p.ID, Base: p.Base, Quote: p.Quote})
	return p.ID, nil
}

func (c *Coordinator) RemovePair(caller common.Address, id pair.ID) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, _ := c.pairs.Get(id)
	if err := c.pairs.RemovePair(id); err != nil {
		return err
	}
	c.bus.EmitPairRemoved(events.PairChangedData{PairID: id, Base: p.Base, Quote: p.Quote})
	return nil
}

func (c *Coordinator) SetFeeRates(caller common.Address, makerBps, takerBps uint64) error {
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine.SetFeeRates(makerBps, takerBps)
	return nil
}

func (c *Coordinator) WithdrawFees(caller, asset common.Address) (*uint256.Int, error) {
	if err := c.requireAdmin(caller); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	total, err := c.vault.WithdrawFees(caller, asset)
	if err != nil {
		return nil, err
	}
	c.bus.EmitFeesWithdrawn(events.FeesWithdrawnData{Asset: asset, Total: total})
	return total, nil
}
