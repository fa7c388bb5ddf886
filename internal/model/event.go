package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle fact.
type EventType string

const (
	EventVaultCreated        EventType = "vault.created"
	EventVaultFunding        EventType = "vault.funding"
	EventVaultDeposited      EventType = "vault.deposited"
	EventVaultFunded         EventType = "vault.funded"
	EventVaultActive         EventType = "vault.active"
	EventVaultClosed         EventType = "vault.closed"
	EventReturnsClaimed      EventType = "vault.returns_claimed"
	EventPrizeClaimed        EventType = "vault.prize_claimed"
	EventScheduleCreated     EventType = "schedule.created"
	EventPaymentProcessed    EventType = "schedule.payment_processed"
	EventRoundStarted        EventType = "round.started"
	EventRoundEntered        EventType = "round.entered"
	EventRandomnessRequested EventType = "round.randomness_requested"
	EventRoundResolved       EventType = "round.resolved"
	EventPriceUpdated        EventType = "price.updated"
	EventMultiplierAdjusted  EventType = "price.multiplier_adjusted"
)

// Event is emitted exactly once per causing transition. The entity fields carry
// a copy of the entity as it was right after the transition.
type Event struct {
	ID       uuid.UUID         `json:"id"`
	Type     EventType         `json:"type"`
	At       time.Time         `json:"at"`
	VaultID  uint64            `json:"vault_id,omitempty"`
	RoundID  uint64            `json:"round_id,omitempty"`
	Amount   Amount            `json:"amount,omitempty"`
	Vault    *Vault            `json:"vault,omitempty"`
	Position *InvestorPosition `json:"position,omitempty"`
	// Positions lists every position a repayment credited, in first-deposit order.
	Positions []InvestorPosition `json:"positions,omitempty"`
	Schedule  *RepaymentSchedule `json:"schedule,omitempty"`
	Payment   *Payment           `json:"payment,omitempty"`
	Round     *LotteryRound      `json:"round,omitempty"`
	Price     *PriceState        `json:"price,omitempty"`
}

// NewEvent stamps a fresh event of the given type.
func NewEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, At: at}
}
