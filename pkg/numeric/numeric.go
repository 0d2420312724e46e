// Package numeric centralizes the checked-overflow u256 arithmetic used
// for every balance, price, and amount in clobvault so each call site
// doesn't have to re-derive the AddOverflow/SubOverflow/MulOverflow
// incantations.
package numeric

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/errs"
)

func Zero() *uint256.Int { return new(uint256.Int) }

func FromUint64(v uint64) *uint256.Int { return uint256.NewInt(v) }

func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return new(uint256.Int).Set(v)
}

// Add returns a+b, failing with a Kind=Overflow error on wraparound.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.AddOverflow(a, b); overflow {
		return nil, errs.New(errs.Overflow, "addition overflow")
	}
	return out, nil
}

// Sub returns a-b, failing with a Kind=Overflow error on underflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, underflow := out.SubOverflow(a, b); underflow {
		return nil, errs.New(errs.Overflow, "subtraction underflow")
	}
	return out, nil
}

// Mul returns a*b, failing with a Kind=Overflow error on wraparound.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(a, b); overflow {
		return nil, errs.New(errs.Overflow, "multiplication overflow")
	}
	return out, nil
}

// MulDiv computes floor(a*b/d). uint256.Int has no widening multiply, so
// the intermediate product is formed with math/big (the only place in
// clobvault that touches big.Int) and converted back immediately; the
// result is rejected with Kind=Overflow if it doesn't fit back in 256
// bits. The result always fits when b <= d, which holds for the fee and
// ratio computations this is used for (a remaining amount over its
// original amount, or a bps rate of at most 10000 over 10000).
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errs.New(errs.Overflow, "division by zero")
	}
	product := new(big.Int).Mul(a.ToBig(), b.ToBig())
	quotient := product.Div(product, d.ToBig())
	out, overflow := uint256.FromBig(quotient)
	if overflow {
		return nil, errs.New(errs.Overflow, "mul-div result exceeds 256 bits")
	}
	return out, nil
}
