package pricing

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"MediVault/internal/event"
	"MediVault/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *event.Collector, *model.ManualClock) {
	t.Helper()
	clock := model.NewManualClock(t0)
	events := &event.Collector{}
	svc, err := NewService(DefaultBand, clock, events, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc, events, clock
}

func TestMultiplier_AllBoundaries(t *testing.T) {
	tests := []struct {
		price int64
		want  uint64
	}{
		{100_000000, 100},
		{100_400000, 100}, // inside deadband
		{99_600000, 100},
		{100_500000, 105},
		{99_500000, 95},
		{101_000000, 110},
		{99_000000, 90},
		{102_000000, 120},
		{150_000000, 120},
		{97_000000, 80},
		{1, 80},
		{math.MaxInt64, 120},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Multiplier(tt.price, DefaultBand), "price %d", tt.price)
		assert.Equal(t, Multiplier(tt.price, DefaultBand), Multiplier(tt.price, DefaultBand))
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.StatusStable, Classify(100_000000, DefaultBand))
	assert.Equal(t, model.StatusStable, Classify(100_400000, DefaultBand))
	assert.Equal(t, model.StatusAbovePeg, Classify(100_500000, DefaultBand))
	assert.Equal(t, model.StatusBelowPeg, Classify(99_000000, DefaultBand))
}

func TestBand_Validate(t *testing.T) {
	assert.NoError(t, DefaultBand.Validate())

	b := DefaultBand
	b.Peg = 0
	assert.ErrorIs(t, b.Validate(), model.ErrInvalidInput)

	b = DefaultBand
	b.MinMultiplier = 110
	assert.Error(t, b.Validate())

	b = DefaultBand
	b.MaxMultiplier = 90
	assert.Error(t, b.Validate())
}

func TestScale_NeutralOnSilence(t *testing.T) {
	svc, _, _ := newService(t)
	for _, x := range []model.Amount{0, 1, 3, 1_000000, 30_000_000000, math.MaxUint64} {
		got, m, err := svc.Scale(x)
		require.NoError(t, err)
		assert.Equal(t, x, got)
		assert.Equal(t, model.NeutralMultiplier, m)
	}
	assert.Equal(t, model.StatusNoData, svc.Status().Status)
}

func TestScale_AppliesMultiplier(t *testing.T) {
	svc, _, _ := newService(t)
	applied, err := svc.Observe(101_000000, t0)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, uint64(110), svc.Multiplier())

	got, m, err := svc.Scale(1_000000)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(1_100000), got)
	assert.Equal(t, uint64(110), m)

	// Fractions are dropped so investors are never over-credited.
	for base, want := range map[model.Amount]model.Amount{5: 5, 6: 6, 9: 9, 19: 20} {
		got, _, err = svc.Scale(base)
		require.NoError(t, err)
		assert.Equal(t, want, got, "scale %d", base)
	}

	_, _, err = svc.Scale(math.MaxUint64)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestObserve_LatestWins(t *testing.T) {
	svc, events, _ := newService(t)

	_, err := svc.Observe(0, t0)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	applied, err := svc.Observe(101_000000, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, applied)

	// Older and duplicate timestamps are ignored.
	applied, err = svc.Observe(99_000000, t0)
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = svc.Observe(99_000000, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)

	st := svc.Status()
	assert.Equal(t, int64(101_000000), st.Price)
	assert.Equal(t, uint64(110), st.Multiplier)
	assert.Equal(t, model.StatusAbovePeg, st.Status)

	assert.Equal(t, 1, events.Count(model.EventPriceUpdated))
	assert.Equal(t, 1, events.Count(model.EventMultiplierAdjusted))

	// Same multiplier from a newer price: update only.
	_, err = svc.Observe(101_000000, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, events.Count(model.EventPriceUpdated))
	assert.Equal(t, 1, events.Count(model.EventMultiplierAdjusted))
}

func TestStatus_StaleFlag(t *testing.T) {
	svc, _, clock := newService(t)
	_, err := svc.Observe(100_000000, t0)
	require.NoError(t, err)
	assert.False(t, svc.Status().Stale)

	clock.Advance(25 * time.Hour)
	st := svc.Status()
	assert.True(t, st.Stale)
	assert.Equal(t, model.NeutralMultiplier, st.Multiplier)
}

func TestSimulate(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Observe(99_000000, t0)
	require.NoError(t, err)

	sim, err := svc.Simulate(1_000000)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(900000), sim.Adjusted)
	assert.Equal(t, uint64(90), sim.Multiplier)
	assert.Equal(t, model.StatusBelowPeg, sim.Status)
}

func TestStatus_ConsistentUnderConcurrency(t *testing.T) {
	svc, _, _ := newService(t)
	prices := []int64{97_000000, 99_000000, 100_000000, 101_000000, 103_000000}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Observe(prices[i%len(prices)], t0.Add(time.Duration(i+1)*time.Second))
		}(i)
		go func() {
			defer wg.Done()
			st := svc.Status()
			if st.Observed {
				assert.Equal(t, Multiplier(st.Price, DefaultBand), st.Multiplier)
			}
		}()
	}
	wg.Wait()
}

func TestRestore_RecomputesMultiplier(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Restore(model.PriceState{Price: 101_000000, UpdatedAt: t0, Multiplier: 42, Observed: true})
	assert.Equal(t, uint64(110), svc.Multiplier())
}
