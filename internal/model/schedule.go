package model

import "time"

// ScheduleStatus describes where a repayment schedule stands relative to now.
type ScheduleStatus string

const (
	ScheduleCurrent   ScheduleStatus = "CURRENT"
	ScheduleDue       ScheduleStatus = "DUE"
	ScheduleOverdue   ScheduleStatus = "OVERDUE"
	ScheduleExhausted ScheduleStatus = "EXHAUSTED"
)

// RepaymentSchedule is the amortization plan created once per funded vault.
// It runs for at most TotalMonths installments and stops early, marking the
// schedule inactive, as soon as TotalPaid reaches TotalOwed. The last
// installment is capped at RemainingOwed so TotalPaid never exceeds TotalOwed.
type RepaymentSchedule struct {
	VaultID        uint64        `json:"vault_id"`
	MonthlyAmount  Amount        `json:"monthly_amount"`
	TotalMonths    uint32        `json:"total_months"`
	PaidMonths     uint32        `json:"paid_months"`
	Period         time.Duration `json:"period"`
	NextPaymentDue time.Time     `json:"next_payment_due"`
	TotalOwed      Amount        `json:"total_owed"`
	TotalPaid      Amount        `json:"total_paid"`
	IsActive       bool          `json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	LastPaymentAt  time.Time     `json:"last_payment_at"`
}

// Due reports whether an installment may be processed at now.
func (s RepaymentSchedule) Due(now time.Time) bool {
	return s.IsActive && !now.Before(s.NextPaymentDue)
}

// RemainingOwed is what the beneficiary still has to repay.
func (s RepaymentSchedule) RemainingOwed() Amount {
	r, _ := s.TotalOwed.Sub(s.TotalPaid)
	return r
}

// NextInstallment is the amount the next processed period transfers.
func (s RepaymentSchedule) NextInstallment() Amount {
	return Min(s.MonthlyAmount, s.RemainingOwed())
}

// Status reports CURRENT before the due date, DUE within the due period and
// OVERDUE once a whole period has passed without processing.
func (s RepaymentSchedule) Status(now time.Time) ScheduleStatus {
	switch {
	case !s.IsActive:
		return ScheduleExhausted
	case now.Before(s.NextPaymentDue):
		return ScheduleCurrent
	case now.Before(s.NextPaymentDue.Add(s.Period)):
		return ScheduleDue
	default:
		return ScheduleOverdue
	}
}

// Payment records one processed installment.
type Payment struct {
	VaultID uint64    `json:"vault_id"`
	Month   uint32    `json:"month"`
	Amount  Amount    `json:"amount"`
	DueAt   time.Time `json:"due_at"`
	PaidAt  time.Time `json:"paid_at"`
}
