package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/pebble"

	"github.com/hyperlicked-labs/clobvault/params"
	"github.com/hyperlicked-labs/clobvault/pkg/api"
	"github.com/hyperlicked-labs/clobvault/pkg/asset"
	"github.com/hyperlicked-labs/clobvault/pkg/coordinator"
	clobcrypto "github.com/hyperlicked-labs/clobvault/pkg/crypto"
	"github.com/hyperlicked-labs/clobvault/pkg/engine"
	"github.com/hyperlicked-labs/clobvault/pkg/events"
	"github.com/hyperlicked-labs/clobvault/pkg/numeric"
	"github.com/hyperlicked-labs/clobvault/pkg/orderstore"
	"github.com/hyperlicked-labs/clobvault/pkg/pair"
	"github.com/hyperlicked-labs/clobvault/pkg/util"
	"github.com/hyperlicked-labs/clobvault/pkg/vault"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- persistence ----
	var pairStore *pair.Store
	var vaultStore *vault.Store
	if cfg.DataDir != "" {
		pairDB, err := pebble.Open(filepath.Join(cfg.DataDir, "pairs"), &pebble.Options{})
		if err != nil {
			sugar.Fatalw("pair_store_open_failed", "err", err)
		}
		defer pairDB.Close()
		pairStore = pair.OpenStore(pairDB)

		vaultDB, err := pebble.Open(filepath.Join(cfg.DataDir, "vault"), &pebble.Options{})
		if err != nil {
			sugar.Fatalw("vault_store_open_failed", "err", err)
		}
		defer vaultDB.Close()
		vaultStore = vault.OpenStore(vaultDB)
	}

	// ---- domain wiring ----
	assets := asset.NewRegistry()
	for addr, decimals := range cfg.AssetDecimals {
		assets.Set(addr, decimals)
	}

	pairs, err := pair.NewRegistry(pairStore, assets)
	if err != nil {
		sugar.Fatalw("pair_registry_load_failed", "err", err)
	}

	v, err := vault.New(vaultStore)
	if err != nil {
		sugar.Fatalw("vault_load_failed", "err", err)
	}

	bus := events.NewBus(cfg.EventBufferSize)
	store := orderstore.New()
	eng := engine.New(store, pairs, v, bus, cfg.Fees.MakerBps, cfg.Fees.TakerBps, cfg.MaxMatchIterations)

	signer := clobcrypto.NewRequestSigner(clobcrypto.DefaultDomain())
	coord := coordinator.New(v, eng, pairs, signer, bus, cfg.Admin, numeric.FromUint64(cfg.MinAmount))

	// ---- API server ----
	server := api.NewServer(coord, eng, v, pairs, bus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.ListenAddr)
		if err := server.Start(cfg.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
