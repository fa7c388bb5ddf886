package pricing

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"MediVault/internal/calculator"
	"MediVault/internal/event"
	"MediVault/internal/model"
)

// Service holds the one shared piece of pricing state and scales investment amounts.
// It knows nothing about vaults.
type Service struct {
	mu     sync.RWMutex
	band   Band
	state  model.PriceState
	clock  model.Clock
	events event.Emitter
	logger *zap.Logger
}

// Simulation is what an investment of Base would be credited as right now.
type Simulation struct {
	Base       model.Amount          `json:"base"`
	Adjusted   model.Amount          `json:"adjusted"`
	Multiplier uint64                `json:"multiplier"`
	Status     model.StabilityStatus `json:"status"`
}

// NewService creates a Service that reports a neutral multiplier until the first observation.
func NewService(band Band, clock model.Clock, events event.Emitter, logger *zap.Logger) (*Service, error) {
	if err := band.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		band: band,
		state: model.PriceState{
			Decimals:   band.Decimals,
			Multiplier: model.NeutralMultiplier,
			Status:     model.StatusNoData,
		},
		clock:  clock,
		events: events,
		logger: logger.Named("pricing"),
	}, nil
}

// Observe records a price reported at observedAt (zero means now). Observations not
// newer than the last applied one are ignored, so replays and reordering are harmless.
func (s *Service) Observe(price int64, observedAt time.Time) (bool, error) {
	if price <= 0 {
		return false, model.ErrInvalidPrice
	}
	if observedAt.IsZero() {
		observedAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Observed && !observedAt.After(s.state.UpdatedAt) {
		s.logger.Debug("ignoring stale observation",
			zap.Int64("price", price),
			zap.Time("observed_at", observedAt),
			zap.Time("last_update", s.state.UpdatedAt))
		return false, nil
	}

	prev := s.state.Multiplier
	s.state = model.PriceState{
		Price:      price,
		Decimals:   s.band.Decimals,
		UpdatedAt:  observedAt,
		Multiplier: Multiplier(price, s.band),
		Observed:   true,
		Status:     Classify(price, s.band),
	}

	snap := s.state
	evt := model.NewEvent(model.EventPriceUpdated, s.clock.Now())
	evt.Price = &snap
	s.events.Emit(evt)

	if snap.Multiplier != prev {
		s.logger.Info("multiplier adjusted",
			zap.Uint64("from", prev),
			zap.Uint64("to", snap.Multiplier),
			zap.Int64("price", price))
		adj := model.NewEvent(model.EventMultiplierAdjusted, s.clock.Now())
		adj.Price = &snap
		s.events.Emit(adj)
	}
	return true, nil
}

// Multiplier returns the current multiplier, 100 before any observation.
func (s *Service) Multiplier() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Multiplier
}

// Scale applies the current multiplier to base, rounding down, and returns the
// adjusted amount and the multiplier used.
func (s *Service) Scale(base model.Amount) (model.Amount, uint64, error) {
	m := s.Multiplier()
	if m == model.NeutralMultiplier {
		return base, m, nil
	}
	adjusted, err := calculator.MulDivFloor(base, m, 100)
	if err != nil {
		return 0, m, fmt.Errorf("scale %d by %d%%: %w", base, m, model.ErrAmountOverflow)
	}
	return adjusted, m, nil
}

// Status returns a consistent snapshot of price, multiplier and timestamp.
func (s *Service) Status() model.PriceState {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	if st.Observed && s.band.MaxStaleness > 0 {
		st.Stale = s.clock.Now().Sub(st.UpdatedAt) > s.band.MaxStaleness
	}
	return st
}

// Simulate reports what base would be credited as without recording anything.
func (s *Service) Simulate(base model.Amount) (Simulation, error) {
	st := s.Status()
	adjusted := base
	if st.Multiplier != model.NeutralMultiplier {
		var err error
		adjusted, err = calculator.MulDivFloor(base, st.Multiplier, 100)
		if err != nil {
			return Simulation{}, fmt.Errorf("simulate %d: %w", base, model.ErrAmountOverflow)
		}
	}
	return Simulation{Base: base, Adjusted: adjusted, Multiplier: st.Multiplier, Status: st.Status}, nil
}

// Band returns the configured band.
func (s *Service) Band() Band { return s.band }

// Export returns the state for persistence.
func (s *Service) Export() model.PriceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Restore reloads a persisted state, recomputing the multiplier from the price.
func (s *Service) Restore(st model.PriceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.Observed || st.Price <= 0 {
		return
	}
	s.state = model.PriceState{
		Price:      st.Price,
		Decimals:   s.band.Decimals,
		UpdatedAt:  st.UpdatedAt,
		Multiplier: Multiplier(st.Price, s.band),
		Observed:   true,
		Status:     Classify(st.Price, s.band),
	}
}
