package pair

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func hexToAddress(h string) common.Address {
	return common.HexToAddress(h)
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}

const keyPrefix = "pair/"

// Store persists the pair catalog to an embedded pebble database so
// registered pairs survive a restart, mirroring the teacher's account
// store's key-prefix convention.
type Store struct {
	db *pebble.DB
}

func OpenStore(db *pebble.DB) *Store {
	return &Store{db: db}
}

type record struct {
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	BaseDecimals  uint8  `json:"base_decimals"`
	QuoteDecimals uint8  `json:"quote_decimals"`
	MinAmount     string `json:"min_amount"`
	Active        bool   `json:"active"`
}

func key(id ID) []byte {
	return append([]byte(keyPrefix), id[:]...)
}

func (s *Store) Save(p *Pair) error {
	rec := record{
		Base:          p.Base.Hex(),
		Quote:         p.Quote.Hex(),
		BaseDecimals:  p.BaseDecimals,
		QuoteDecimals: p.QuoteDecimals,
		MinAmount:     p.MinAmount.String(),
		Active:        p.Active,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pair: %w", err)
	}
	return s.db.Set(key(p.ID), data, pebble.Sync)
}

func (s *Store) Delete(id ID) error {
	return s.db.Delete(key(id), pebble.Sync)
}

// LoadAll reconstructs every persisted pair, used once at startup.
func (s *Store) LoadAll() ([]*Pair, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("open pair iterator: %w", err)
	}
	defer iter.Close()

	var out []*Pair
	for iter.First(); iter.Valid(); iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal pair: %w", err)
		}
		p, err := fromRecord(iter.Key(), rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

func fromRecord(k []byte, rec record) (*Pair, error) {
	var id ID
	copy(id[:], k[len(keyPrefix):])

	amount, err := parseAmount(rec.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("parse min amount: %w", err)
	}

	return &Pair{
		ID:            id,
		Base:          hexToAddress(rec.Base),
		Quote:         hexToAddress(rec.Quote),
		BaseDecimals:  rec.BaseDecimals,
		QuoteDecimals: rec.QuoteDecimals,
		MinAmount:     amount,
		Active:        rec.Active,
	}, nil
}
