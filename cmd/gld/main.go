package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"greenledger/config"
	"greenledger/core/events"
	"greenledger/crypto"
	"greenledger/gateway"
	"greenledger/native/bridge"
	"greenledger/native/collateral"
	"greenledger/native/oracle"
	"greenledger/native/stable"
	"greenledger/native/system"
	"greenledger/observability/logging"
	"greenledger/state"
	"greenledger/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	pauses := system.NewPauses(manager)
	roles := system.NewRoles(manager)

	custody, err := crypto.DecodeAddress(cfg.Stable.CustodyAddress)
	if err != nil {
		logger.Error("invalid custody address", slog.Any("error", err))
		os.Exit(1)
	}
	escrow, err := crypto.DecodeAddress(cfg.Bridge.EscrowAddress)
	if err != nil {
		logger.Error("invalid escrow address", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := events.NewLogEmitter(logger.With(slog.String("component", "events")))

	registry := collateral.NewRegistry(manager)
	registry.SetEmitter(emitter)

	feed := oracle.NewSignedFeed(cfg.Stable.MaxQuoteAge(), cfg.Stable.OracleMaxDeviationBps)
	for _, signer := range cfg.Stable.OracleSigners {
		raw, err := hex.DecodeString(strings.TrimPrefix(signer.Address, "0x"))
		if err != nil || len(raw) != 20 {
			logger.Error("invalid oracle signer address", slog.String("source", signer.Source))
			os.Exit(1)
		}
		var addr [20]byte
		copy(addr[:], raw)
		feed.RegisterSigner(signer.Source, addr)
	}

	stableEngine := stable.NewEngine(custody, stable.Params{
		StabilityFeeBps:       cfg.Stable.StabilityFeeBps,
		LiquidationPenaltyBps: cfg.Stable.LiquidationPenaltyBps,
		MaxQuoteAge:           cfg.Stable.MaxQuoteAge(),
	})
	stableEngine.SetState(manager)
	stableEngine.SetRegistry(registry)
	stableEngine.SetOracle(feed)
	stableEngine.SetPauses(pauses)
	stableEngine.SetEmitter(emitter)

	bridgeEngine := bridge.NewEngine(manager, escrow, bridge.Params{
		MinAmount:       cfg.Bridge.MinAmountInt(),
		MaxAmount:       cfg.Bridge.MaxAmountInt(),
		DailyCap:        cfg.Bridge.DailyCapInt(),
		SettlementDelay: cfg.Bridge.SettlementDelay(),
	})
	bridgeEngine.SetAccounts(manager)
	bridgeEngine.SetPauses(pauses)
	bridgeEngine.SetEmitter(emitter)

	if err := seedRoles(roles, cfg); err != nil {
		logger.Error("failed to seed roles", slog.Any("error", err))
		os.Exit(1)
	}
	if err := seedValidators(bridgeEngine, cfg); err != nil {
		logger.Error("failed to seed validator set", slog.Any("error", err))
		os.Exit(1)
	}
	if err := seedAssets(registry, cfg); err != nil {
		logger.Error("failed to seed collateral assets", slog.Any("error", err))
		os.Exit(1)
	}

	server := gateway.NewServer(gateway.Options{
		StableEngine: stableEngine,
		BridgeEngine: bridgeEngine,
		Registry:     registry,
		Feed:         feed,
		Roles:        roles,
		Pauses:       pauses,
		JWTSecret:    []byte(cfg.Gateway.JWTSecret),
		RateLimitRPS: cfg.Gateway.RateLimitRPS,
		RateBurst:    cfg.Gateway.RateBurst,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.Gateway.ListenAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway failed", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

func seedRoles(roles *system.Roles, cfg *config.Config) error {
	for _, raw := range cfg.Admins {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("admin %q: %w", raw, err)
		}
		if err := roles.Grant(system.RoleAdmin, addr); err != nil {
			return err
		}
	}
	for _, raw := range cfg.Guardians {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("guardian %q: %w", raw, err)
		}
		if err := roles.Grant(system.RoleGuardian, addr); err != nil {
			return err
		}
	}
	return nil
}

func seedValidators(engine *bridge.Engine, cfg *config.Config) error {
	set := engine.Validators()
	for _, raw := range cfg.Bridge.Validators {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("validator %q: %w", raw, err)
		}
		if err := set.Add(addr); err != nil && !errors.Is(err, bridge.ErrValidatorExists) {
			return err
		}
	}
	if len(cfg.Bridge.Validators) > 0 {
		if err := set.SetThreshold(cfg.Bridge.Threshold); err != nil {
			return err
		}
	}
	return nil
}

func seedAssets(registry *collateral.Registry, cfg *config.Config) error {
	for _, seed := range cfg.Assets {
		assetType, err := collateral.ParseAssetType(seed.Type)
		if err != nil {
			return err
		}
		asset := &collateral.Asset{
			ID:                      seed.ID,
			Type:                    assetType,
			CollateralRatioBps:      seed.CollateralRatioBps,
			LiquidationThresholdBps: seed.LiquidationThresholdBps,
			PriceSource:             seed.PriceSource,
		}
		if err := registry.Register("genesis", asset); err != nil && !errors.Is(err, collateral.ErrAssetExists) {
			return err
		}
	}
	return nil
}
