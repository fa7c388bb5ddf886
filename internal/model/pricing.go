package model

import "time"

// NeutralMultiplier leaves amounts unchanged.
const NeutralMultiplier uint64 = 100

// StabilityStatus compares the last observed price with the peg.
type StabilityStatus string

const (
	StatusAbovePeg StabilityStatus = "ABOVE_PEG"
	StatusBelowPeg StabilityStatus = "BELOW_PEG"
	StatusStable   StabilityStatus = "STABLE"
	StatusNoData   StabilityStatus = "NO_DATA"
)

// PriceState is the consistent snapshot of the multiplier service.
type PriceState struct {
	Price      int64           `json:"price"`
	Decimals   uint8           `json:"decimals"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Multiplier uint64          `json:"multiplier"`
	Observed   bool            `json:"observed"`
	Status     StabilityStatus `json:"status"`
	Stale      bool            `json:"stale"`
}
