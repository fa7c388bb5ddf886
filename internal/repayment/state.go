package repayment

import (
	"fmt"

	"MediVault/internal/model"
)

// ScheduleState is one persisted schedule with its payment history.
type ScheduleState struct {
	Schedule model.RepaymentSchedule `json:"schedule"`
	Payments []model.Payment         `json:"payments,omitempty"`
}

// State is the persisted form of the Scheduler.
type State struct {
	Schedules []ScheduleState `json:"schedules"`
}

// Export returns every schedule and its history ordered by vault id.
func (s *Scheduler) Export() State {
	var st State
	for _, sched := range s.Schedules() {
		payments, _ := s.Payments(sched.VaultID)
		st.Schedules = append(st.Schedules, ScheduleState{Schedule: sched, Payments: payments})
	}
	return st
}

// Restore replaces all schedules.
func (s *Scheduler) Restore(st State) error {
	entries := make(map[uint64]*entry, len(st.Schedules))
	for _, ss := range st.Schedules {
		sched := ss.Schedule
		if _, dup := entries[sched.VaultID]; dup {
			return fmt.Errorf("%w: duplicate schedule for vault %d", model.ErrInvalidInput, sched.VaultID)
		}
		if sched.TotalMonths == 0 || sched.PaidMonths > sched.TotalMonths || sched.TotalPaid > sched.TotalOwed {
			return fmt.Errorf("%w: schedule for vault %d is inconsistent", model.ErrInvalidInput, sched.VaultID)
		}
		if int(sched.PaidMonths) != len(ss.Payments) {
			return fmt.Errorf("%w: vault %d has %d paid months and %d payments",
				model.ErrInvalidInput, sched.VaultID, sched.PaidMonths, len(ss.Payments))
		}
		if sched.Period <= 0 {
			sched.Period = s.period
		}
		entries[sched.VaultID] = &entry{
			schedule: sched,
			payments: append([]model.Payment(nil), ss.Payments...),
		}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}
