// Package pair implements PairRegistry (C5): the catalog of tradeable
// (base, quote) pairs, their decimals, and their active/inactive status.
package pair

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ID is the canonical, order-independent identifier for a (base, quote)
// pair: the two addresses are sorted lexicographically before hashing so
// registering (A, B) and (B, A) collide on the same id, matching the
// commutative pair-identity requirement.
type ID [32]byte

func CanonicalID(base, quote common.Address) ID {
	first, second := base, quote
	if bytes.Compare(first.Bytes(), second.Bytes()) > 0 {
		first, second = second, first
	}
	buf := make([]byte, 0, 40)
	buf = append(buf, first.Bytes()...)
	buf = append(buf, second.Bytes()...)
	return ID(crypto.Keccak256Hash(buf))
}

// Pair is a registered trading pair. Base and Quote retain the order they
// were registered in, independent of how ID was derived, since display
// and lock-accounting both care which side is the quote asset.
type Pair struct {
	ID            ID
	Base          common.Address
	Quote         common.Address
	BaseDecimals  uint8
	QuoteDecimals uint8
	MinAmount     *uint256.Int
	Active        bool
}
