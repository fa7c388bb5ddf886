package pricing

import (
	"fmt"
	"math"
	"time"

	"MediVault/internal/model"
)

// Band configures how a price deviation from the peg becomes a multiplier.
type Band struct {
	Peg           int64         // reference price in feed units
	Decimals      uint8         // feed decimals
	MinMultiplier uint64        // lower clamp, percent
	MaxMultiplier uint64        // upper clamp, percent
	DeadbandBps   int64         // deviations smaller than this snap to neutral
	Sensitivity   int64         // multiplier points per 1% of deviation
	MaxStaleness  time.Duration // zero disables the stale flag
}

// DefaultBand is a USDC/USD feed with 8 decimals and an 80-120 band.
var DefaultBand = Band{
	Peg:           100_000000,
	Decimals:      8,
	MinMultiplier: 80,
	MaxMultiplier: 120,
	DeadbandBps:   50,
	Sensitivity:   10,
	MaxStaleness:  24 * time.Hour,
}

// Validate rejects bands that could not produce a neutral multiplier.
func (b Band) Validate() error {
	if b.Peg <= 0 {
		return fmt.Errorf("%w: peg must be positive", model.ErrInvalidInput)
	}
	if b.MinMultiplier == 0 || b.MinMultiplier > model.NeutralMultiplier {
		return fmt.Errorf("%w: min multiplier must be in (0, 100]", model.ErrInvalidInput)
	}
	if b.MaxMultiplier < model.NeutralMultiplier {
		return fmt.Errorf("%w: max multiplier must be >= 100", model.ErrInvalidInput)
	}
	if b.DeadbandBps < 0 || b.Sensitivity < 0 {
		return fmt.Errorf("%w: deadband and sensitivity must not be negative", model.ErrInvalidInput)
	}
	return nil
}

// DeviationBps is (price - peg) / peg in basis points, truncated toward zero.
func DeviationBps(price int64, b Band) int64 {
	diff := price - b.Peg
	if diff > math.MaxInt64/10_000 {
		return math.MaxInt64 / 10_000
	}
	if diff < -math.MaxInt64/10_000 {
		return -math.MaxInt64 / 10_000
	}
	return diff * 10_000 / b.Peg
}

// Multiplier maps a price to a percentage in [MinMultiplier, MaxMultiplier].
// The result depends only on price and b.
func Multiplier(price int64, b Band) uint64 {
	dev := DeviationBps(price, b)
	if abs(dev) < b.DeadbandBps {
		return model.NeutralMultiplier
	}

	var adj int64
	if b.Sensitivity != 0 && abs(dev) > math.MaxInt64/b.Sensitivity {
		adj = int64(b.MaxMultiplier) * sign(dev)
	} else {
		adj = dev * b.Sensitivity / 100
	}

	m := int64(model.NeutralMultiplier) + adj
	switch {
	case m < int64(b.MinMultiplier):
		return b.MinMultiplier
	case m > int64(b.MaxMultiplier):
		return b.MaxMultiplier
	default:
		return uint64(m)
	}
}

// Classify labels a price relative to the peg using the deadband.
func Classify(price int64, b Band) model.StabilityStatus {
	dev := DeviationBps(price, b)
	switch {
	case dev >= b.DeadbandBps && dev != 0:
		return model.StatusAbovePeg
	case dev <= -b.DeadbandBps && dev != 0:
		return model.StatusBelowPeg
	default:
		return model.StatusStable
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}
