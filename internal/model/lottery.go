package model

import "time"

// RoundStatus is the lifecycle state of a lottery round.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "OPEN"
	RoundResolving RoundStatus = "RESOLVING"
	RoundResolved  RoundStatus = "RESOLVED"
)

// LotteryRound is one selection round over paid entrants.
// Participants keep insertion order; Winner is zero until resolution.
type LotteryRound struct {
	ID           uint64      `json:"id"`
	Status       RoundStatus `json:"status"`
	Participants []uint64    `json:"participants"`
	PrizePool    Amount      `json:"prize_pool"`
	IsActive     bool        `json:"is_active"`
	Winner       uint64      `json:"winner,omitempty"`
	RequestID    uint64      `json:"request_id,omitempty"`
	RandomValue  string      `json:"random_value,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	ResolvedAt   time.Time   `json:"resolved_at"`
}

// HasParticipant reports whether vaultID already entered the round.
func (r LotteryRound) HasParticipant(vaultID uint64) bool {
	for _, id := range r.Participants {
		if id == vaultID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with r.
func (r LotteryRound) Clone() LotteryRound {
	r.Participants = append([]uint64(nil), r.Participants...)
	return r
}
