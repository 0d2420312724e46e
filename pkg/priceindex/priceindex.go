// Package priceindex implements OrderedPriceIndex (C1): the set of
// distinct prices currently carrying resting liquidity on one side of
// one pair's book, ordered so the matching engine can find the best
// price and walk neighbors in O(log n).
//
// It wraps github.com/google/btree the way the pack's perp-dex example
// wraps it for its own order book: btree.Item holds only the price, the
// FIFO queue of order ids at that price lives one layer up in
// pkg/orderbook.
package priceindex

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"
)

const degree = 32

type priceItem struct {
	price *uint256.Int
}

func (p priceItem) Less(than btree.Item) bool {
	return p.price.Lt(than.(priceItem).price)
}

// Index is a per-(pair, side) ordered set of prices.
type Index struct {
	tree *btree.BTree
}

func New() *Index {
	return &Index{tree: btree.New(degree)}
}

func (idx *Index) Insert(price *uint256.Int) {
	idx.tree.ReplaceOrInsert(priceItem{price: price})
}

func (idx *Index) Remove(price *uint256.Int) {
	idx.tree.Delete(priceItem{price: price})
}

func (idx *Index) Contains(price *uint256.Int) bool {
	return idx.tree.Get(priceItem{price: price}) != nil
}

func (idx *Index) Len() int {
	return idx.tree.Len()
}

// Min returns the lowest price in the index, or nil if empty.
func (idx *Index) Min() *uint256.Int {
	item := idx.tree.Min()
	if item == nil {
		return nil
	}
	return item.(priceItem).price
}

// Max returns the highest price in the index, or nil if empty.
func (idx *Index) Max() *uint256.Int {
	item := idx.tree.Max()
	if item == nil {
		return nil
	}
	return item.(priceItem).price
}

// Predecessor returns the largest indexed price strictly less than k, or
// nil if none exists. k itself need not be present in the index.
func (idx *Index) Predecessor(k *uint256.Int) *uint256.Int {
	var result *uint256.Int
	idx.tree.DescendLessOrEqual(priceItem{price: k}, func(i btree.Item) bool {
		p := i.(priceItem).price
		if p.Eq(k) {
			return true
		}
		result = p
		return false
	})
	return result
}

// Successor returns the smallest indexed price strictly greater than k,
// or nil if none exists. k itself need not be present in the index.
func (idx *Index) Successor(k *uint256.Int) *uint256.Int {
	var result *uint256.Int
	idx.tree.AscendGreaterOrEqual(priceItem{price: k}, func(i btree.Item) bool {
		p := i.(priceItem).price
		if p.Eq(k) {
			return true
		}
		result = p
		return false
	})
	return result
}

// DescendFrom visits every price less than or equal to from, highest to
// lowest, until fn returns false.
func (idx *Index) DescendFrom(from *uint256.Int, fn func(price *uint256.Int) bool) {
	idx.tree.DescendLessOrEqual(priceItem{price: from}, func(i btree.Item) bool {
		return fn(i.(priceItem).price)
	})
}

// AscendFrom visits every price greater than or equal to from, lowest to
// highest, until fn returns false.
func (idx *Index) AscendFrom(from *uint256.Int, fn func(price *uint256.Int) bool) {
	idx.tree.AscendGreaterOrEqual(priceItem{price: from}, func(i btree.Item) bool {
		return fn(i.(priceItem).price)
	})
}

// Ascend visits every price from lowest to highest until fn returns
// false.
func (idx *Index) Ascend(fn func(price *uint256.Int) bool) {
	idx.tree.Ascend(func(i btree.Item) bool {
		return fn(i.(priceItem).price)
	})
}

// Descend visits every price from highest to lowest until fn returns
// false.
func (idx *Index) Descend(fn func(price *uint256.Int) bool) {
	idx.tree.Descend(func(i btree.Item) bool {
		return fn(i.(priceItem).price)
	})
}
