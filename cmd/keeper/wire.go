package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/config"
	"VaultKeeper/internal/executor"
	"VaultKeeper/internal/fanout"
	"VaultKeeper/internal/keeper"
	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/policy"
	"VaultKeeper/internal/price"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/registry"
	"VaultKeeper/internal/report"
	"VaultKeeper/internal/scheduler"
)

// app is the wired process.
type app struct {
	Runner    *keeper.Runner
	Scheduler *scheduler.Scheduler
	Store     scheduler.Store
	Sink      report.Sink
	Metrics   *metrics.Registry
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func ringSource(cfg *config.Config) registry.Source {
	return registry.Source{
		AddressPrefix:    cfg.Accounts.AddressPrefix,
		CredentialPrefix: cfg.Accounts.CredentialPrefix,
		Lookup:           registry.EnvLookup,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (scheduler.Store, func(), error) {
	if cfg.Schedule.Store == "redis" {
		rs, err := scheduler.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	}
	return scheduler.NewFileStore(cfg.Schedule.StateFile), func() {}, nil
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{Metrics: metrics.New()}

	accounts, err := registry.BuildRing(cfg.Accounts.Count, ringSource(cfg))
	if err != nil {
		return nil, err
	}
	if err := registry.VerifyRing(accounts); err != nil {
		return nil, err
	}

	client := ledger.NewRelayerClient(cfg.Ledger.Endpoint, cfg.Ledger.APIKey, cfg.Proxy, cfg.Ledger.RateLimit, cfg.Ledger.Burst)
	client.PollInterval = cfg.Ledger.PollInterval
	ops := ledger.NewOperations(client, cfg.Ledger.ExplorerURL)
	ops.Confirmations = cfg.Ledger.Confirmations

	selector, err := policy.NewSelector(cfg.Policy, ops)
	if err != nil {
		return nil, err
	}

	exec := executor.New(cfg.MaxAttempts(), cfg.BudgetPolicy())
	exec.Pause = cfg.Retry.Pause
	exec.OnAttempt = a.Metrics.ObserveAttempt
	log.Info().Dur("worst_case", exec.Budgets.Ceiling(cfg.MaxAttempts())).Msg("per-operation time bound")

	var lookup report.PriceLookup
	if cfg.Report.PriceURL != "" {
		lookup = price.NewHTTPLookup(cfg.Report.PriceURL, cfg.Report.PriceSymbol, cfg.Report.PriceAPIKey, cfg.Proxy)
	}
	agg := report.New(cfg.Report.Title, cfg.Report.Target, lookup)
	agg.PriceTimeout = cfg.Report.PriceTimeout

	if cfg.Telegram.BotToken != "" {
		tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		tn.ExplorerURL = cfg.Ledger.ExplorerURL
		a.Sink = tn
	} else {
		log.Warn().Msg("telegram not configured, reports go to the log")
		a.Sink = notifier.LogSink{}
	}

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Database.DSN != "" {
		sr, err := recorder.NewSQLRecorder(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("init sql recorder failed, using noop")
		} else {
			rec = sr
			a.closers = append(a.closers, func() { sr.Close() })
		}
	}

	a.Runner = &keeper.Runner{
		Accounts:    accounts,
		Selector:    selector,
		Coordinator: fanout.New(exec, ops, cfg.Concurrency),
		Aggregator:  agg,
		Sink:        a.Sink,
		Recorder:    rec,
		Metrics:     a.Metrics,
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open schedule store: %w", err)
	}
	a.closers = append(a.closers, closeStore)
	a.Store = store

	a.Scheduler = scheduler.New(store, cfg.Schedule.Interval, a.Runner.Run)
	a.Scheduler.Metrics = a.Metrics
	return a, nil
}
