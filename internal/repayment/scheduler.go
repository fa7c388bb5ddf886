package repayment

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"MediVault/internal/calculator"
	"MediVault/internal/event"
	"MediVault/internal/model"
)

// Vaults is the lifecycle surface the scheduler drives.
type Vaults interface {
	Get(vaultID uint64) (model.Vault, error)
	Activate(vaultID uint64) (model.Vault, error)
	Complete(vaultID uint64) (model.Vault, error)
}

// Distributor credits a processed installment to a vault's investors.
type Distributor interface {
	CreditRepayment(vaultID uint64, amount model.Amount) ([]model.InvestorPosition, error)
}

type entry struct {
	mu       sync.Mutex
	schedule model.RepaymentSchedule
	payments []model.Payment
}

// Scheduler owns repayment schedules and the checkUpkeep/performUpkeep poll.
// Each schedule is advanced under its own lock, so concurrent performers of the
// same period serialize and all but one find the period already paid.
type Scheduler struct {
	mu      sync.RWMutex
	entries map[uint64]*entry

	period time.Duration
	vaults Vaults
	ledger Distributor
	clock  model.Clock
	events event.Emitter
	logger *zap.Logger
}

// NewScheduler creates a Scheduler whose installments fall due every period.
func NewScheduler(period time.Duration, vaults Vaults, ledger Distributor, clock model.Clock, events event.Emitter, logger *zap.Logger) (*Scheduler, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: repayment period must be positive", model.ErrInvalidInput)
	}
	return &Scheduler{
		entries: make(map[uint64]*entry),
		period:  period,
		vaults:  vaults,
		ledger:  ledger,
		clock:   clock,
		events:  events,
		logger:  logger.Named("repayment"),
	}, nil
}

// Period returns the configured installment period.
func (s *Scheduler) Period() time.Duration { return s.period }

// CreateSchedule derives the amortization plan for a funded vault and activates it.
func (s *Scheduler) CreateSchedule(vaultID uint64, totalMonths uint32) (model.RepaymentSchedule, error) {
	if totalMonths == 0 {
		return model.RepaymentSchedule{}, model.ErrInvalidTerm
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[vaultID]; ok {
		return model.RepaymentSchedule{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrAlreadyScheduled)
	}
	v, err := s.vaults.Get(vaultID)
	if err != nil {
		return model.RepaymentSchedule{}, err
	}
	switch v.Status {
	case model.VaultFunded:
	case model.VaultActive:
		return model.RepaymentSchedule{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrAlreadyScheduled)
	case model.VaultClosed:
		return model.RepaymentSchedule{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrVaultClosed)
	default:
		return model.RepaymentSchedule{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrNotYetFunded)
	}

	monthly, err := calculator.CeilDiv(v.TotalDeposited, uint64(totalMonths))
	if err != nil {
		return model.RepaymentSchedule{}, fmt.Errorf("%w: %v", model.ErrInvalidTerm, err)
	}
	if _, err := s.vaults.Activate(vaultID); err != nil {
		return model.RepaymentSchedule{}, err
	}

	now := s.clock.Now()
	e := &entry{schedule: model.RepaymentSchedule{
		VaultID:        vaultID,
		MonthlyAmount:  monthly,
		TotalMonths:    totalMonths,
		Period:         s.period,
		NextPaymentDue: now.Add(s.period),
		TotalOwed:      v.TotalDeposited,
		IsActive:       true,
		CreatedAt:      now,
	}}
	s.entries[vaultID] = e

	s.logger.Info("schedule created",
		zap.Uint64("vault_id", vaultID),
		zap.Uint64("monthly", uint64(monthly)),
		zap.Uint32("months", totalMonths),
		zap.Time("next_due", e.schedule.NextPaymentDue))

	evt := model.NewEvent(model.EventScheduleCreated, now)
	evt.VaultID = vaultID
	evt.Amount = v.TotalDeposited
	sched := e.schedule
	evt.Schedule = &sched
	s.events.Emit(evt)

	return e.schedule, nil
}

// CheckUpkeep reports whether any schedule is due and, if so, the due vault ids
// as ABI-encoded performData. It never mutates state.
func (s *Scheduler) CheckUpkeep() (bool, []byte) {
	ids := s.DueVaults()
	if len(ids) == 0 {
		return false, nil
	}
	data, err := EncodePerformData(ids)
	if err != nil {
		s.logger.Error("encode perform data", zap.Error(err))
		return true, nil
	}
	return true, data
}

// DueVaults returns the ids of every schedule due now, ascending.
func (s *Scheduler) DueVaults() []uint64 {
	now := s.clock.Now()
	var ids []uint64
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		due := e.schedule.Due(now)
		id := e.schedule.VaultID
		e.mu.Unlock()
		if due {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PerformUpkeep advances every hinted schedule that is still due by exactly one
// period and returns the payments it processed. performData is only a hint: an
// undecodable or empty hint means every schedule is considered, and a schedule
// that is no longer due is skipped without error.
func (s *Scheduler) PerformUpkeep(performData []byte) []model.Payment {
	ids, err := DecodePerformData(performData)
	if err != nil || len(ids) == 0 {
		if len(performData) > 0 {
			s.logger.Debug("ignoring perform data hint", zap.Error(err))
		}
		ids = s.allIDs()
	}

	var payments []model.Payment
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := s.performOne(id); ok {
			payments = append(payments, p)
		}
	}
	return payments
}

func (s *Scheduler) performOne(vaultID uint64) (model.Payment, bool) {
	s.mu.RLock()
	e, ok := s.entries[vaultID]
	s.mu.RUnlock()
	if !ok {
		return model.Payment{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock.Now()
	if !e.schedule.Due(now) {
		return model.Payment{}, false
	}

	amount := e.schedule.NextInstallment()
	credited, err := s.ledger.CreditRepayment(vaultID, amount)
	if err != nil {
		s.logger.Error("credit repayment", zap.Uint64("vault_id", vaultID), zap.Error(err))
		return model.Payment{}, false
	}

	sched := &e.schedule
	payment := model.Payment{
		VaultID: vaultID,
		Month:   sched.PaidMonths + 1,
		Amount:  amount,
		DueAt:   sched.NextPaymentDue,
		PaidAt:  now,
	}
	sched.PaidMonths++
	sched.TotalPaid += amount
	sched.NextPaymentDue = sched.NextPaymentDue.Add(sched.Period)
	sched.LastPaymentAt = now
	exhausted := sched.PaidMonths >= sched.TotalMonths || sched.TotalPaid >= sched.TotalOwed
	if exhausted {
		sched.IsActive = false
	}
	e.payments = append(e.payments, payment)

	s.logger.Info("repayment processed",
		zap.Uint64("vault_id", vaultID),
		zap.Uint32("month", payment.Month),
		zap.Uint64("amount", uint64(amount)),
		zap.Bool("exhausted", exhausted))

	evt := model.NewEvent(model.EventPaymentProcessed, now)
	evt.VaultID = vaultID
	evt.Amount = amount
	snap := *sched
	evt.Schedule = &snap
	p := payment
	evt.Payment = &p
	evt.Positions = credited
	s.events.Emit(evt)

	if exhausted {
		if _, err := s.vaults.Complete(vaultID); err != nil {
			s.logger.Error("close repaid vault", zap.Uint64("vault_id", vaultID), zap.Error(err))
		}
	}
	return payment, true
}

// GetSchedule returns the schedule of a vault.
func (s *Scheduler) GetSchedule(vaultID uint64) (model.RepaymentSchedule, error) {
	s.mu.RLock()
	e, ok := s.entries[vaultID]
	s.mu.RUnlock()
	if !ok {
		return model.RepaymentSchedule{}, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownSchedule)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule, nil
}

// Payments returns the processed installments of a vault in month order.
func (s *Scheduler) Payments(vaultID uint64) ([]model.Payment, error) {
	s.mu.RLock()
	e, ok := s.entries[vaultID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vault %d: %w", vaultID, model.ErrUnknownSchedule)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Payment(nil), e.payments...), nil
}

// ActiveSchedules returns the vault ids whose schedules are still active, ascending.
func (s *Scheduler) ActiveSchedules() []uint64 {
	var ids []uint64
	for _, sched := range s.Schedules() {
		if sched.IsActive {
			ids = append(ids, sched.VaultID)
		}
	}
	return ids
}

// Schedules returns every schedule ordered by vault id.
func (s *Scheduler) Schedules() []model.RepaymentSchedule {
	entries := s.snapshotEntries()
	out := make([]model.RepaymentSchedule, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.schedule)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VaultID < out[j].VaultID })
	return out
}

func (s *Scheduler) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func (s *Scheduler) allIDs() []uint64 {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
