package pair

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type fakeMetadata struct {
	decimals map[common.Address]uint8
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{decimals: make(map[common.Address]uint8)}
}

func (m *fakeMetadata) Decimals(asset common.Address) (uint8, bool) {
	d, ok := m.decimals[asset]
	return d, ok
}

var base = common.HexToAddress("0x1111111111111111111111111111111111111aaa")
var quote = common.HexToAddress("0x2222222222222222222222222222222222222bbb")

func TestAddPairFetchesDecimalsFromMetadata(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6

	r, err := NewRegistry(nil, meta)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, err := r.AddPair(base, quote, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	if p.BaseDecimals != 18 || p.QuoteDecimals != 6 {
		t.Errorf("decimals = (%d, %d), want (18, 6)", p.BaseDecimals, p.QuoteDecimals)
	}
	if !p.Active {
		t.Error("newly added pair should be active")
	}
}

func TestAddPairRejectsUnknownAsset(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	// quote decimals deliberately not registered

	r, _ := NewRegistry(nil, meta)
	if _, err := r.AddPair(base, quote, uint256.NewInt(1)); err == nil {
		t.Error("expected an error when quote asset has no registered decimals")
	}
}

func TestAddPairRejectsInsufficientDecimals(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 2 // below minDecimals

	r, _ := NewRegistry(nil, meta)
	if _, err := r.AddPair(base, quote, uint256.NewInt(1)); err == nil {
		t.Error("expected an error when an asset has fewer than the minimum decimals")
	}
}

func TestAddPairSameAssetRejected(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18

	r, _ := NewRegistry(nil, meta)
	if _, err := r.AddPair(base, base, uint256.NewInt(1)); err == nil {
		t.Error("expected an error when base equals quote")
	}
}

func TestAddPairIsCommutative(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6

	r, _ := NewRegistry(nil, meta)
	p, err := r.AddPair(base, quote, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("AddPair: %v", err)
	}

	idReversed := CanonicalID(quote, base)
	if p.ID != idReversed {
		t.Error("pair id must not depend on registration order")
	}
}

func TestAddPairDuplicateRejected(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6

	r, _ := NewRegistry(nil, meta)
	if _, err := r.AddPair(base, quote, uint256.NewInt(1)); err != nil {
		t.Fatalf("first AddPair: %v", err)
	}
	if _, err := r.AddPair(quote, base, uint256.NewInt(1)); err == nil {
		t.Error("re-registering the same pair (even reversed) should fail")
	}
}

func TestRemovePairDeactivatesWithoutDeleting(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6

	r, _ := NewRegistry(nil, meta)
	p, _ := r.AddPair(base, quote, uint256.NewInt(1))

	if err := r.RemovePair(p.ID); err != nil {
		t.Fatalf("RemovePair: %v", err)
	}

	got, ok := r.Get(p.ID)
	if !ok {
		t.Fatal("removed pair should still resolve for reads")
	}
	if got.Active {
		t.Error("removed pair should be inactive")
	}
}

func TestGetPairIDRejectsInactivePair(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6

	r, _ := NewRegistry(nil, meta)
	p, _ := r.AddPair(base, quote, uint256.NewInt(1))

	if _, ok := r.GetPairID(base, quote); !ok {
		t.Fatal("GetPairID should resolve an active pair")
	}

	if err := r.RemovePair(p.ID); err != nil {
		t.Fatalf("RemovePair: %v", err)
	}
	if _, ok := r.GetPairID(base, quote); ok {
		t.Error("GetPairID should fail once the pair is deactivated, same as unregistered")
	}
}

func TestListPaginated(t *testing.T) {
	meta := newFakeMetadata()
	meta.decimals[base] = 18
	meta.decimals[quote] = 6
	third := common.HexToAddress("0x3333333333333333333333333333333333333ccc")
	meta.decimals[third] = 8

	r, _ := NewRegistry(nil, meta)
	r.AddPair(base, quote, uint256.NewInt(1))
	r.AddPair(base, third, uint256.NewInt(1))

	page, next := r.ListPaginated(0, 1)
	if len(page) != 1 {
		t.Fatalf("len(page) = %d, want 1", len(page))
	}
	if next != 1 {
		t.Errorf("next = %d, want 1", next)
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
}
