package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"MediVault/internal/collector"
	"MediVault/internal/ledger"
	"MediVault/internal/lottery"
	"MediVault/internal/metrics"
	"MediVault/internal/model"
	"MediVault/internal/notifier"
	"MediVault/internal/pricing"
	"MediVault/internal/repayment"
	"MediVault/internal/snapshot"
	"MediVault/internal/vault"
)

// Deps are the services the scheduler drives. Collector, Metrics, Checkpoint and
// Barrier may be nil.
type Deps struct {
	Repayment  *repayment.Scheduler
	Vaults     *vault.Manager
	Ledger     *ledger.Ledger
	Lottery    *lottery.Service
	Pricing    *pricing.Service
	Collector  *collector.Collector
	Metrics    *metrics.Metrics
	Checkpoint func() error
	Barrier    *snapshot.Barrier
	Format     notifier.Formatter
	Clock      model.Clock
}

// Scheduler is the in-process keeper: it polls checkUpkeep on a cron cadence,
// performs due upkeeps on a worker pool, refreshes the price and checkpoints state.
type Scheduler struct {
	Cron *cron.Cron
	Deps
	pool   pond.Pool
	ctx    context.Context
	logger *zap.Logger
}

// NewScheduler creates a new Scheduler with workers concurrent performers.
func NewScheduler(ctx context.Context, deps Deps, workers int, logger *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Deps:   deps,
		pool:   pond.NewPool(workers, pond.WithQueueSize(workers*16)),
		ctx:    ctx,
		logger: logger.Named("keeper"),
	}
}

// RegisterAll registers the upkeep, price and checkpoint jobs.
func (s *Scheduler) RegisterAll(upkeepCron, priceCron, checkpointCron string) error {
	if _, err := s.Cron.AddFunc(upkeepCron, s.upkeepTask); err != nil {
		return fmt.Errorf("register upkeep task: %w", err)
	}
	if s.Collector != nil {
		if _, err := s.Cron.AddFunc(priceCron, s.priceTask); err != nil {
			return fmt.Errorf("register price task: %w", err)
		}
	}
	if s.Checkpoint != nil {
		if _, err := s.Cron.AddFunc(checkpointCron, s.checkpointTask); err != nil {
			return fmt.Errorf("register checkpoint task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop waits for running jobs, then drains the worker pool.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.pool.StopAndWait()
	s.logger.Info("scheduler stopped")
}

// RunUpkeep polls CheckUpkeep once and performs every due vault on the pool,
// one hint per vault, so a slow vault does not delay the others. It returns the
// number of installments processed.
func (s *Scheduler) RunUpkeep(ctx context.Context) (int, error) {
	needed, data := s.Repayment.CheckUpkeep()
	if !needed {
		s.observe(false, 0)
		return 0, nil
	}
	ids, err := repayment.DecodePerformData(data)
	if err != nil {
		// The hint is advisory; let one performer scan everything.
		ids = []uint64{0}
	}

	var processed atomic.Int32
	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, id := range ids {
		var hint []byte
		if id != 0 {
			if hint, err = repayment.EncodePerformData([]uint64{id}); err != nil {
				return 0, fmt.Errorf("encode hint for vault %d: %w", id, err)
			}
		}
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			release := s.Barrier.Hold()
			defer release()
			processed.Add(int32(len(s.Repayment.PerformUpkeep(hint))))
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return int(processed.Load()), fmt.Errorf("perform upkeep: %w", err)
	}

	n := int(processed.Load())
	s.observe(true, n)
	return n, nil
}

func (s *Scheduler) observe(needed bool, processed int) {
	if s.Metrics != nil {
		s.Metrics.ObserveUpkeep(needed, processed)
	}
}

func (s *Scheduler) upkeepTask() {
	n, err := s.RunUpkeep(s.ctx)
	if err != nil {
		s.logger.Error("upkeep", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("upkeep performed", zap.Int("processed", n))
	}
}

func (s *Scheduler) priceTask() {
	if _, err := s.Collector.Collect(s.ctx); err != nil {
		s.logger.Warn("price collect", zap.Error(err))
	}
}

func (s *Scheduler) checkpointTask() {
	if err := s.Checkpoint(); err != nil {
		s.logger.Error("checkpoint", zap.Error(err))
	}
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return usage
	}
	switch fields[0] {
	case "/vault":
		if len(fields) < 2 {
			return "usage: /vault <id>"
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return "vault id must be a number"
		}
		v, err := s.Vaults.Get(id)
		if err != nil {
			return err.Error()
		}
		investors, _ := s.Ledger.Investors(id)
		return s.Format.Vault(v, investors)
	case "/schedules":
		var active []model.RepaymentSchedule
		for _, sched := range s.Repayment.Schedules() {
			if sched.IsActive {
				active = append(active, sched)
			}
		}
		return s.Format.Schedules(active, s.Clock.Now())
	case "/lottery":
		r, ok := s.Lottery.Current()
		if !ok {
			return "No lottery round yet."
		}
		return s.Format.Round(r, s.Lottery.EntryFee())
	case "/price":
		st := s.Pricing.Status()
		return s.Format.Price(st, st.Stale)
	case "/upkeep":
		n, err := s.RunUpkeep(s.ctx)
		if err != nil {
			return "upkeep failed: " + err.Error()
		}
		return fmt.Sprintf("Upkeep processed %d installment(s).", n)
	default:
		return usage
	}
}

const usage = "Commands:\n• /vault <id>\n• /schedules\n• /lottery\n• /price\n• /upkeep"
