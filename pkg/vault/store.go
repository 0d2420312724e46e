package vault

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	balancePrefix   = "bal/"
	lockedPrefix    = "locked/"
	makerFeePrefix  = "feepool/maker/"
	takerFeePrefix  = "feepool/taker/"
)

// Store persists balances, locked amounts, and fee pools to an embedded
// pebble database. Balance-affecting writes use pebble.Sync so a crash
// never loses money; locked-amount bookkeeping uses the same sync level
// since it gates refund correctness on cancellation.
type Store struct {
	db *pebble.DB
}

func OpenStore(db *pebble.DB) *Store {
	return &Store{db: db}
}

func balanceKeyBytes(user, asset common.Address) []byte {
	k := make([]byte, 0, len(balancePrefix)+40)
	k = append(k, balancePrefix...)
	k = append(k, user.Bytes()...)
	k = append(k, asset.Bytes()...)
	return k
}

func lockedKeyBytes(orderID uint64) []byte {
	k := make([]byte, len(lockedPrefix)+8)
	copy(k, lockedPrefix)
	binary.BigEndian.PutUint64(k[len(lockedPrefix):], orderID)
	return k
}

func feeKeyBytes(prefix string, asset common.Address) []byte {
	k := make([]byte, 0, len(prefix)+20)
	k = append(k, prefix...)
	k = append(k, asset.Bytes()...)
	return k
}

func (s *Store) SaveBalance(user, asset common.Address, amount *uint256.Int) error {
	return s.db.Set(balanceKeyBytes(user, asset), []byte(amount.Dec()), pebble.Sync)
}

func (s *Store) SaveLocked(orderID uint64, amount *uint256.Int) error {
	return s.db.Set(lockedKeyBytes(orderID), []byte(amount.Dec()), pebble.Sync)
}

func (s *Store) DeleteLocked(orderID uint64) error {
	return s.db.Delete(lockedKeyBytes(orderID), pebble.Sync)
}

func (s *Store) SaveMakerFeePool(asset common.Address, amount *uint256.Int) error {
	return s.db.Set(feeKeyBytes(makerFeePrefix, asset), []byte(amount.Dec()), pebble.Sync)
}

func (s *Store) SaveTakerFeePool(asset common.Address, amount *uint256.Int) error {
	return s.db.Set(feeKeyBytes(takerFeePrefix, asset), []byte(amount.Dec()), pebble.Sync)
}

// LoadAll rehydrates every balance, locked amount, and fee pool at
// startup.
func (s *Store) LoadAll() (balances map[balanceKey]*uint256.Int, locked map[uint64]*uint256.Int, makerFees, takerFees map[common.Address]*uint256.Int, err error) {
	balances = make(map[balanceKey]*uint256.Int)
	locked = make(map[uint64]*uint256.Int)
	makerFees = make(map[common.Address]*uint256.Int)
	takerFees = make(map[common.Address]*uint256.Int)

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open vault iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		val, parseErr := uint256.FromDecimal(string(iter.Value()))
		if parseErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse stored amount: %w", parseErr)
		}
		switch {
		case hasPrefix(key, balancePrefix):
			rest := key[len(balancePrefix):]
			if len(rest) != 40 {
				continue
			}
			var user, asset common.Address
			copy(user[:], rest[:20])
			copy(asset[:], rest[20:40])
			balances[balanceKey{user: user, asset: asset}] = val
		case hasPrefix(key, lockedPrefix):
			rest := key[len(lockedPrefix):]
			if len(rest) != 8 {
				continue
			}
			locked[binary.BigEndian.Uint64(rest)] = val
		case hasPrefix(key, makerFeePrefix):
			rest := key[len(makerFeePrefix):]
			var asset common.Address
			copy(asset[:], rest)
			makerFees[asset] = val
		case hasPrefix(key, takerFeePrefix):
			rest := key[len(takerFeePrefix):]
			var asset common.Address
			copy(asset[:], rest)
			takerFees[asset] = val
		}
	}
	return balances, locked, makerFees, takerFees, iter.Error()
}

func hasPrefix(key []byte, prefix string) bool {
	if len(key) < len(prefix) {
		return false
	}
	return string(key[:len(prefix)]) == prefix
}
