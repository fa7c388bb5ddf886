package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"MediVault/internal/api"
	"MediVault/internal/notifier"
	"MediVault/internal/scheduler"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the in-process keeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			return serveRun(a)
		},
	}
}

func serveRun(a *app) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("medivault starting",
		zap.String("network", cfg.Network.Name),
		zap.Duration("period", cfg.Repayment.Period))

	if err := a.restore(); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sink := notifier.NewEventSink(tn, a.format, 128, logger)
		a.bus.Attach(sink)
		go sink.Run(ctx)
	}

	sched := scheduler.NewScheduler(ctx, scheduler.Deps{
		Repayment:  a.repayment,
		Vaults:     a.vaults,
		Ledger:     a.ledger,
		Lottery:    a.lottery,
		Pricing:    a.pricing,
		Collector:  a.collector,
		Metrics:    a.metrics,
		Checkpoint: a.checkpoint,
		Barrier:    &a.barrier,
		Format:     a.format,
		Clock:      a.clock,
	}, cfg.Keeper.Workers, logger)
	if err := sched.RegisterAll(cfg.Keeper.UpkeepCron, cfg.Keeper.PriceCron, cfg.Keeper.CheckpointCron); err != nil {
		return err
	}
	sched.Start()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.New(api.Config{
			Vaults:        a.vaults,
			Ledger:        a.ledger,
			Repayment:     a.repayment,
			Lottery:       a.lottery,
			Pricing:       a.pricing,
			Metrics:       a.metrics,
			Gatherer:      a.registry,
			Clock:         a.clock,
			Barrier:       &a.barrier,
			Oracle:        cfg.OracleAddress(),
			Operator:      cfg.OperatorAddress(),
			DefaultMonths: cfg.Repayment.DefaultMonths,
		}, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sigCh:
		logger.Info("shutdown signal received, stopping")
	case runErr = <-errCh:
		logger.Error("http server failed", zap.Error(runErr))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	cancel()

	if err := a.checkpoint(); err != nil {
		logger.Error("final checkpoint failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("medivault stopped")
	return runErr
}

func upkeepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upkeep",
		Short: "Run checkUpkeep once, perform any due repayments and save state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.restore(); err != nil {
				return fmt.Errorf("restore state: %w", err)
			}

			sched := scheduler.NewScheduler(cmd.Context(), scheduler.Deps{
				Repayment: a.repayment,
				Vaults:    a.vaults,
				Ledger:    a.ledger,
				Lottery:   a.lottery,
				Pricing:   a.pricing,
				Metrics:   a.metrics,
				Barrier:   &a.barrier,
				Format:    a.format,
				Clock:     a.clock,
			}, cfg.Keeper.Workers, logger)
			defer sched.Stop()

			n, err := sched.RunUpkeep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d installment(s)\n", n)
			return a.checkpoint()
		},
	}
}

// recentLimit is how many journaled events the status command prints.
const recentLimit = 10

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print vaults, schedules, the lottery and the price from saved state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.restore(); err != nil {
				return fmt.Errorf("restore state: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, v := range a.vaults.List() {
				investors, err := a.ledger.Investors(v.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, a.format.Vault(v, investors))
				if prize, err := a.ledger.Prizes(v.ID); err == nil && prize > 0 {
					fmt.Fprintf(out, "Unclaimed prize: %s\n\n", a.format.Amount(prize))
				}
			}
			fmt.Fprintln(out, a.format.Schedules(a.repayment.Schedules(), a.clock.Now()))
			if round, ok := a.lottery.Current(); ok {
				fmt.Fprintln(out, a.format.Round(round, a.lottery.EntryFee()))
			}
			if escrow := a.ledger.Escrow(); escrow > 0 {
				fmt.Fprintf(out, "Lottery escrow: %s\n", a.format.Amount(escrow))
			}
			st := a.pricing.Status()
			fmt.Fprintln(out, a.format.Price(st, st.Stale))

			recent, err := a.recorder.Recent(recentLimit)
			if err != nil {
				logger.Warn("read recorded activity", zap.Error(err))
				return nil
			}
			fmt.Fprintln(out, a.format.Activity(recent))
			return nil
		},
	}
}
