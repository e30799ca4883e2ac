package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/params"
	"github.com/uhyunpark/polymaker/pkg/api"
	"github.com/uhyunpark/polymaker/pkg/engine"
	"github.com/uhyunpark/polymaker/pkg/gateway"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/metrics"
	"github.com/uhyunpark/polymaker/pkg/risk"
	"github.com/uhyunpark/polymaker/pkg/storage"
	"github.com/uhyunpark/polymaker/pkg/stream"
	"github.com/uhyunpark/polymaker/pkg/trader"
	"github.com/uhyunpark/polymaker/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default: ./.env)")
	flag.Parse()

	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv(*envPath)

	logger, err := util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "level", cfg.LogLevel)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("maker_failed", "err", err)
	}
	sugar.Info("maker_stopped")
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Markets ----
	mf, err := params.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		return err
	}
	reg := market.NewRegistry()
	for name, p := range mf.ParamSets {
		reg.SetParams(name, p)
	}
	for i := range mf.Markets {
		if err := reg.Register(&mf.Markets[i]); err != nil {
			return err
		}
	}
	sugar.Infow("markets_loaded", "file", cfg.MarketsFile, "markets", reg.Count(), "param_sets", len(mf.ParamSets))

	// ---- Gateway ----
	wallet := common.HexToAddress(cfg.Account.Wallet)
	var gw gateway.Gateway
	if cfg.Gateway.DryRun {
		gw = gateway.NewPaper(reg)
		sugar.Warn("dry_run_enabled - commands go to the paper gateway")
	} else {
		gw = gateway.NewRelay(gateway.RelayConfig{
			RelayURL:   cfg.Gateway.RelayURL,
			DataAPIURL: cfg.Gateway.DataAPIURL,
			Wallet:     wallet,
			APIKey:     cfg.Account.APIKey,
			Timeout:    cfg.Gateway.Timeout,
		})
	}

	// ---- Cooldown storage ----
	var (
		cooldowns risk.CooldownStore
		journal   *storage.PebbleStore
	)
	switch cfg.Storage.CooldownBackend {
	case "pebble":
		journal, err = storage.NewPebbleStore(cfg.Storage.PebblePath)
		if err != nil {
			return err
		}
		defer journal.Close()
		cooldowns = journal
	default:
		fs, err := risk.NewFileStore(cfg.Storage.CooldownDir)
		if err != nil {
			return err
		}
		cooldowns = fs
	}
	sugar.Infow("cooldown_store_ready", "backend", cfg.Storage.CooldownBackend)

	// ---- Engine ----
	m := metrics.New("maker")

	// The API server is built after the engine; decisions reach it through
	// this indirection.
	var apiServer *api.Server
	onDecision := func(d trader.Decision) {
		if journal != nil {
			if err := journal.SaveDecision(d); err != nil {
				sugar.Warnw("journal_write_failed", "decision", d.ID, "err", err)
			}
		}
		if apiServer != nil {
			apiServer.BroadcastDecision(d)
		}
	}

	eng, err := engine.New(engine.Options{
		Config:     cfg.Engine,
		Registry:   reg,
		Gateway:    gw,
		Cooldowns:  cooldowns,
		Wallet:     wallet,
		Clock:      util.RealClock{},
		Log:        sugar,
		Metrics:    m,
		OnDecision: onDecision,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Bootstrap(ctx); err != nil {
		return err
	}

	// ---- API Server ----
	apiOpts := api.Options{Metrics: m, Log: sugar.Named("api")}
	if journal != nil {
		apiOpts.Journal = journal
	}
	apiServer = api.NewServer(eng, apiOpts)

	// ---- Streams ----
	marketStream := &stream.Supervisor{
		Name:           "market",
		URL:            cfg.Stream.MarketURL,
		Subscribe:      stream.MarketSubscription{AssetIDs: reg.SubscriptionAssets()},
		Handler:        eng.Dispatcher.HandleMarketFrame,
		PingInterval:   cfg.Stream.PingInterval,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		OnConnect:      eng.OnMarketConnect,
		Log:            sugar.Named("stream"),
		Metrics:        m,
	}
	userStream := &stream.Supervisor{
		Name:           "user",
		URL:            cfg.Stream.UserURL,
		Subscribe:      stream.NewUserSubscription(cfg.Account.APIKey, cfg.Account.APISecret, cfg.Account.Passphrase),
		Handler:        eng.Dispatcher.HandleUserFrame,
		PingInterval:   cfg.Stream.PingInterval,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		OnConnect:      eng.OnUserConnect,
		Log:            sugar.Named("stream"),
		Metrics:        m,
	}

	sugar.Infow("maker_starting",
		"markets", reg.Count(),
		"assets", len(reg.SubscriptionAssets()),
		"dry_run", cfg.Gateway.DryRun,
		"api_addr", cfg.APIAddr,
	)

	return eng.Run(ctx,
		marketStream.Run,
		userStream.Run,
		func(ctx context.Context) error { return apiServer.Start(ctx, cfg.APIAddr) },
	)
}
