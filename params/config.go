package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Fees holds the basis-point rates applied to every fill. Both are
// mutable at runtime via set_fee_rates; these are only the boot default.
type Fees struct {
	MakerBps uint64
	TakerBps uint64
}

type Config struct {
	// ListenAddr is the address the REST+WebSocket server binds.
	ListenAddr string

	// DataDir is the pebble data directory for pair and vault
	// persistence. Empty means in-memory only (no persistence).
	DataDir string

	// Admin is the principal authorized for add_pair/remove_pair/
	// set_fee_rates/withdraw_fees.
	Admin common.Address

	Fees Fees

	// MinAmount is the floor below which an order's amount (or its
	// buy-limit quote_needed, scaled) is rejected.
	MinAmount uint64

	// MaxMatchIterations bounds a single match_order call's
	// individual-order-level comparisons.
	MaxMatchIterations int

	// EventBufferSize is the capacity of the event ring buffer feeding
	// the WebSocket hub.
	EventBufferSize int

	// AssetDecimals seeds the asset metadata registry at boot, since
	// decimals must already be known before a pair referencing an asset
	// can be added. Keyed by asset address.
	AssetDecimals map[common.Address]uint8
}

func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DataDir:            "",
		Admin:              common.Address{},
		Fees:               Fees{MakerBps: 10, TakerBps: 15},
		MinAmount:          1,
		MaxMatchIterations: 500,
		EventBufferSize:    1 << 14,
		AssetDecimals:      make(map[common.Address]uint8),
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ADMIN_ADDRESS"); v != "" {
		cfg.Admin = common.HexToAddress(v)
	}
	if v := os.Getenv("MAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Fees.MakerBps = n
		}
	}
	if v := os.Getenv("TAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Fees.TakerBps = n
		}
	}
	if v := os.Getenv("MIN_AMOUNT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MinAmount = n
		}
	}
	if v := os.Getenv("MAX_MATCH_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMatchIterations = n
		}
	}
	if v := os.Getenv("EVENT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBufferSize = n
		}
	}

	// ASSET_DECIMALS is a comma-separated list of address:decimals pairs,
	// e.g. "0xAAA...:18,0xBBB...:6".
	if v := os.Getenv("ASSET_DECIMALS"); v != "" {
		for _, entry := range strings.Split(v, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) != 2 {
				continue
			}
			n, err := strconv.ParseUint(parts[1], 10, 8)
			if err != nil {
				continue
			}
			cfg.AssetDecimals[common.HexToAddress(parts[0])] = uint8(n)
		}
	}

	return cfg
}
