// Package vault implements Vault (C4): the custody ledger of per-(user,
// asset) balances, per-order locked amounts, and maker/taker fee pools.
package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/errs"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
)

type balanceKey struct {
	user, asset common.Address
}

// Vault holds every balance, lock, and fee pool in the system. Its own
// RWMutex guards concurrent reads against the rarer mutating calls;
// TradeCoordinator additionally serializes whole multi-step transactions
// with its own lock, so Vault's lock here is a defensive, fine-grained
// one rather than the system's single writer lock.
type Vault struct {
	mu sync.RWMutex

	balances  map[balanceKey]*uint256.Int
	locked    map[uint64]*uint256.Int
	makerFees map[common.Address]*uint256.Int
	takerFees map[common.Address]*uint256.Int

	store *Store
}

func New(store *Store) (*Vault, error) {
	v := &Vault{
		balances:  make(map[balanceKey]*uint256.Int),
		locked:    make(map[uint64]*uint256.Int),
		makerFees: make(map[common.Address]*uint256.Int),
		takerFees: make(map[common.Address]*uint256.Int),
		store:     store,
	}
	if store != nil {
		balances, locked, maker, taker, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		v.balances = balances
		v.locked = locked
		v.makerFees = maker
		v.takerFees = taker
	}
	return v, nil
}

func (v *Vault) balanceLocked(user, asset common.Address) *uint256.Int {
	b, ok := v.balances[balanceKey{user: user, asset: asset}]
	if !ok {
		return numeric.Zero()
	}
	return b
}

func (v *Vault) persistBalance(user, asset common.Address, amount *uint256.Int) error {
	if v.store == nil {
		return nil
	}
	return v.store.SaveBalance(user, asset, amount)
}

// GetBalance returns user's current balance of asset (zero if never
// deposited).
func (v *Vault) GetBalance(user, asset common.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return numeric.Clone(v.balanceLocked(user, asset))
}

// Deposit credits user's balance of asset by amount. Callable by the
// user themselves, never gated by order state.
func (v *Vault) Deposit(user, asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := numeric.Add(v.balanceLocked(user, asset), amount)
	if err != nil {
		return err
	}
	if err := v.persistBalance(user, asset, next); err != nil {
		return errs.Wrap(errs.Internal, err, "persist deposit")
	}
	v.balances[balanceKey{user: user, asset: asset}] = next
	return nil
}

// Withdraw debits user's balance of asset by amount, failing with
// InsufficientBalance if the balance cannot cover it. Collateral locked
// for open orders was already debited from the balance at placement.
func (v *Vault) Withdraw(user, asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debitLocked(user, asset, amount)
}

func (v *Vault) debitLocked(user, asset common.Address, amount *uint256.Int) error {
	current := v.balanceLocked(user, asset)
	if current.Lt(amount) {
		return errs.New(errs.InsufficientBalance, "balance %s is less than %s", current.Dec(), amount.Dec())
	}
	next, err := numeric.Sub(current, amount)
	if err != nil {
		return err
	}
	if err := v.persistBalance(user, asset, next); err != nil {
		return errs.Wrap(errs.Internal, err, "persist debit")
	}
	v.balances[balanceKey{user: user, asset: asset}] = next
	return nil
}

// Debit deducts amount from user's balance of asset. It is the
// authorized-caller counterpart to Credit, used by TradeCoordinator to
// lock collateral at order placement time.
func (v *Vault) Debit(user, asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debitLocked(user, asset, amount)
}

// Credit adds amount to user's balance of asset. Used by the matching
// engine (via VaultCapability) to pay out fills and refunds, and by
// TradeCoordinator to refund cancelled collateral.
func (v *Vault) Credit(user, asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, err := numeric.Add(v.balanceLocked(user, asset), amount)
	if err != nil {
		return err
	}
	if err := v.persistBalance(user, asset, next); err != nil {
		return errs.Wrap(errs.Internal, err, "persist credit")
	}
	v.balances[balanceKey{user: user, asset: asset}] = next
	return nil
}

// SetLocked records the collateral locked for orderID at placement time.
// The amount is fixed for the order's lifetime; refund and residual
// calculations always derive their ratio from this original figure
// rather than a live-decremented counter, which keeps the accounting
// exact without requiring every fill to touch this map.
func (v *Vault) SetLocked(orderID uint64, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.store != nil {
		if err := v.store.SaveLocked(orderID, amount); err != nil {
			return errs.Wrap(errs.Internal, err, "persist locked amount")
		}
	}
	v.locked[orderID] = numeric.Clone(amount)
	return nil
}

// LockedAmount returns the collateral originally locked for orderID, or
// zero if none is recorded.
func (v *Vault) LockedAmount(orderID uint64) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	amt, ok := v.locked[orderID]
	if !ok {
		return numeric.Zero()
	}
	return numeric.Clone(amt)
}

// ClearLocked drops the locked-amount bookkeeping for orderID once it
// reaches a terminal state (fully filled, cancelled, or a market order's
// residual has been refunded). Idempotent.
func (v *Vault) ClearLocked(orderID uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.store != nil {
		if err := v.store.DeleteLocked(orderID); err != nil {
			return errs.Wrap(errs.Internal, err, "delete locked amount")
		}
	}
	delete(v.locked, orderID)
	return nil
}

// AddMakerFee adds amount to the maker fee pool for asset.
func (v *Vault) AddMakerFee(asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.makerFees[asset]
	if current == nil {
		current = numeric.Zero()
	}
	next, err := numeric.Add(current, amount)
	if err != nil {
		return err
	}
	if v.store != nil {
		if err := v.store.SaveMakerFeePool(asset, next); err != nil {
			return errs.Wrap(errs.Internal, err, "persist maker fee pool")
		}
	}
	v.makerFees[asset] = next
	return nil
}

// AddTakerFee adds amount to the taker fee pool for asset.
func (v *Vault) AddTakerFee(asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := v.takerFees[asset]
	if current == nil {
		current = numeric.Zero()
	}
	next, err := numeric.Add(current, amount)
	if err != nil {
		return err
	}
	if v.store != nil {
		if err := v.store.SaveTakerFeePool(asset, next); err != nil {
			return errs.Wrap(errs.Internal, err, "persist taker fee pool")
		}
	}
	v.takerFees[asset] = next
	return nil
}

// FeePools returns the current maker and taker fee pool totals for
// asset.
func (v *Vault) FeePools(asset common.Address) (maker, taker *uint256.Int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	maker = v.makerFees[asset]
	if maker == nil {
		maker = numeric.Zero()
	}
	taker = v.takerFees[asset]
	if taker == nil {
		taker = numeric.Zero()
	}
	return numeric.Clone(maker), numeric.Clone(taker)
}

// WithdrawFees sweeps both fee pools for asset into admin's own vault
// balance and resets them to zero, returning the total withdrawn.
func (v *Vault) WithdrawFees(admin, asset common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	maker := v.makerFees[asset]
	if maker == nil {
		maker = numeric.Zero()
	}
	taker := v.takerFees[asset]
	if taker == nil {
		taker = numeric.Zero()
	}
	total, err := numeric.Add(maker, taker)
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return total, nil
	}

	next, err := numeric.Add(v.balanceLocked(admin, asset), total)
	if err != nil {
		return nil, err
	}
	if err := v.persistBalance(admin, asset, next); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "persist fee withdrawal credit")
	}
	v.balances[balanceKey{user: admin, asset: asset}] = next

	zero := numeric.Zero()
	if v.store != nil {
		if err := v.store.SaveMakerFeePool(asset, zero); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "reset maker fee pool")
		}
		if err := v.store.SaveTakerFeePool(asset, zero); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "reset taker fee pool")
		}
	}
	v.makerFees[asset] = zero
	v.takerFees[asset] = numeric.Zero()

	return total, nil
}
