package pair

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/hyperlicked-labs/clobvault/pkg/asset"
	"github.com/hyperlicked-labs/clobvault/pkg/errs"
)

const minDecimals = 6

// Registry is the in-memory, optionally pebble-backed catalog of
// tradeable pairs. It is read under RLock for every snapshot query and
// write-locked only for add_pair/remove_pair, matching the
// teacher's MarketRegistry split between hot-path reads and rare
// mutation.
type Registry struct {
	mu       sync.RWMutex
	pairs    map[ID]*Pair
	order    []ID
	store    *Store
	metadata asset.Metadata
}

func NewRegistry(store *Store, metadata asset.Metadata) (*Registry, error) {
	r := &Registry{pairs: make(map[ID]*Pair), store: store, metadata: metadata}
	if store != nil {
		loaded, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			r.pairs[p.ID] = p
			r.order = append(r.order, p.ID)
		}
	}
	return r, nil
}

// AddPair registers a new (base, quote) pair. Decimals are not supplied
// by the caller: they are fetched from the asset metadata collaborator,
// matching §4.5's add_pair contract. Re-registering an existing pair id
// is rejected rather than silently overwriting it. RemovePair only
// deactivates, so a pair id stays taken and its configuration is fixed
// once registered.
func (r *Registry) AddPair(base, quote common.Address, minAmount *uint256.Int) (*Pair, error) {
	if base == quote {
		return nil, errs.New(errs.InvalidPair, "base and quote must differ")
	}

	baseDecimals, ok := r.metadata.Decimals(base)
	if !ok {
		return nil, errs.New(errs.InvalidPair, "no decimals registered for base asset")
	}
	quoteDecimals, ok := r.metadata.Decimals(quote)
	if !ok {
		return nil, errs.New(errs.InvalidPair, "no decimals registered for quote asset")
	}
	if baseDecimals < minDecimals || quoteDecimals < minDecimals {
		return nil, errs.New(errs.InsufficientDecimals, "pair requires at least %d decimals on both legs", minDecimals)
	}

	id := CanonicalID(base, quote)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[id]; exists {
		return nil, errs.New(errs.InvalidPair, "pair already registered")
	}

	p := &Pair{
		ID:            id,
		Base:          base,
		Quote:         quote,
		BaseDecimals:  baseDecimals,
		QuoteDecimals: quoteDecimals,
		MinAmount:     minAmount,
		Active:        true,
	}
	if r.store != nil {
		if err := r.store.Save(p); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "persist pair")
		}
	}
	r.pairs[id] = p
	r.order = append(r.order, id)
	return p, nil
}

// RemovePair deactivates a pair rather than deleting its catalog entry
// outright: open orders and historical trades still reference its id, so
// the registry only flips Active to false. A fully inactive pair still
// resolves for read operations but rejects new order placement.
func (r *Registry) RemovePair(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[id]
	if !ok {
		return errs.New(errs.InvalidPair, "unknown pair")
	}
	p.Active = false
	if r.store != nil {
		if err := r.store.Save(p); err != nil {
			return errs.Wrap(errs.Internal, err, "persist pair")
		}
	}
	return nil
}

// GetPairID resolves (base, quote) to its canonical id, failing if the
// pair is either unregistered or registered but inactive — get_pair_id
// is a pre-trade lookup, so a removed pair must resolve the same as one
// that was never added.
func (r *Registry) GetPairID(base, quote common.Address) (ID, bool) {
	id := CanonicalID(base, quote)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[id]
	if !ok || !p.Active {
		return ID{}, false
	}
	return id, true
}

// Get returns a snapshot copy of the pair so callers can't mutate
// registry state through the returned pointer.
func (r *Registry) Get(id ID) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[id]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// ListPaginated returns up to limit pairs starting at offset, plus the
// offset to resume from, per §4.6.4's opaque-cursor pagination contract.
func (r *Registry) ListPaginated(offset, limit int) ([]Pair, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if offset >= len(r.order) {
		return nil, len(r.order)
	}
	end := offset + limit
	if end > len(r.order) {
		end = len(r.order)
	}
	out := make([]Pair, 0, end-offset)
	for _, id := range r.order[offset:end] {
		out = append(out, *r.pairs[id])
	}
	return out, end
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
