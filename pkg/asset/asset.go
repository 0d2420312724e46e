// Package asset holds the per-asset metadata (decimals) that PairRegistry
// and Vault consult when validating amounts and computing fees.
package asset

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ID identifies a fungible asset by its 20-byte address, matching the
// address-like representation named for User and Asset alike.
type ID = common.Address

// Metadata is the decimals collaborator every component that touches a
// raw amount depends on.
type Metadata interface {
	Decimals(asset ID) (uint8, bool)
}

// Registry is the default in-memory Metadata implementation: a simple
// mutex-guarded map, since asset metadata changes rarely and has no
// independent persistence requirement of its own (pairs persist the
// decimals they were registered with).
type Registry struct {
	mu       sync.RWMutex
	decimals map[ID]uint8
}

func NewRegistry() *Registry {
	return &Registry{decimals: make(map[ID]uint8)}
}

func (r *Registry) Set(asset ID, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decimals[asset] = decimals
}

func (r *Registry) Decimals(asset ID) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decimals[asset]
	return d, ok
}
