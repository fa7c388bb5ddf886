package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"MediVault/internal/collector"
	"MediVault/internal/config"
	"MediVault/internal/event"
	"MediVault/internal/ledger"
	"MediVault/internal/lottery"
	"MediVault/internal/metrics"
	"MediVault/internal/model"
	"MediVault/internal/notifier"
	"MediVault/internal/pricing"
	"MediVault/internal/recorder"
	"MediVault/internal/repayment"
	"MediVault/internal/snapshot"
	"MediVault/internal/vault"
)

// app is one wired set of core components sharing a bus, clock and state file.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  model.Clock

	bus       *event.Bus
	ledger    *ledger.Ledger
	pricing   *pricing.Service
	vaults    *vault.Manager
	repayment *repayment.Scheduler
	lottery   *lottery.Service
	collector *collector.Collector
	// barrier keeps checkpoints from interleaving with API and keeper mutations.
	barrier snapshot.Barrier

	recorder recorder.Recorder
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	format   notifier.Formatter
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		clock:    model.SystemClock{},
		bus:      event.NewBus(logger),
		registry: prometheus.NewRegistry(),
		format:   notifier.Formatter{Symbol: cfg.Currency.Symbol, Decimals: cfg.Currency.Decimals},
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.ledger = ledger.New(a.clock)
	var err error
	a.pricing, err = pricing.NewService(cfg.Band(), a.clock, a.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("init pricing: %w", err)
	}
	a.vaults = vault.NewManager(a.ledger, a.pricing, a.clock, a.bus, logger)
	a.repayment, err = repayment.NewScheduler(cfg.Repayment.Period, a.vaults, a.ledger, a.clock, a.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("init repayment: %w", err)
	}
	a.lottery = lottery.NewService(cfg.EntryFee(), a.vaults, a.ledger, a.clock, a.bus, logger)

	var fetcher collector.Fetcher
	if cfg.PriceFeed.BaseURL != "" {
		fetcher = collector.NewFeedFetcher(cfg.PriceFeed.BaseURL, cfg.PriceFeed.APIKey, cfg.Proxy)
	} else {
		fetcher = collector.NewYahooFetcher(cfg.Proxy)
	}
	logger.Info("price source", zap.String("fetcher", fetcher.Name()))
	a.collector = collector.NewCollector(fetcher, cfg.PriceFeed.Symbol, cfg.Pricing.Decimals, a.pricing, logger)

	a.recorder = recorder.NoopRecorder{}
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logger)
		if err != nil {
			logger.Warn("init sqlite recorder failed, using noop", zap.Error(err))
		} else {
			a.recorder = sr
		}
	}
	a.metrics = metrics.New(a.registry)
	a.bus.Attach(a.recorder)
	a.bus.Attach(a.metrics)
	return a, nil
}

func (a *app) components() snapshot.Components {
	return snapshot.Components{
		Ledger:    a.ledger,
		Vaults:    a.vaults,
		Schedules: a.repayment,
		Lottery:   a.lottery,
		Pricing:   a.pricing,
	}
}

// restore loads the state file, if any, and seeds the gauges from it.
func (a *app) restore() error {
	if a.cfg.StateFile == "" {
		return nil
	}
	st, err := snapshot.Load(a.cfg.StateFile)
	if err != nil {
		return err
	}
	if st == nil {
		a.logger.Info("no state file, starting empty", zap.String("path", a.cfg.StateFile))
		return nil
	}
	if err := a.components().Restore(st); err != nil {
		return err
	}
	if err := a.ledger.Verify(); err != nil {
		return fmt.Errorf("verify restored ledger: %w", err)
	}
	a.metrics.Seed(a.vaults.List(), len(a.repayment.ActiveSchedules()), a.pricing.Status())
	a.logger.Info("state restored",
		zap.String("path", a.cfg.StateFile),
		zap.Time("saved_at", st.SavedAt),
		zap.Int("vaults", len(st.Vaults.Vaults)))
	return nil
}

// checkpoint writes the state file. It is a no-op without one.
func (a *app) checkpoint() error {
	if a.cfg.StateFile == "" {
		return nil
	}
	return snapshot.Save(a.cfg.StateFile, a.barrier.Capture(a.components(), a.clock.Now()))
}

func (a *app) close() {
	if err := a.recorder.Close(); err != nil {
		a.logger.Warn("close recorder", zap.Error(err))
	}
}
