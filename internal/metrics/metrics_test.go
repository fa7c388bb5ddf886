package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MediVault/internal/model"
)

func vaultEvent(t model.EventType, id uint64, status model.VaultStatus, amount model.Amount) model.Event {
	evt := model.NewEvent(t, time.Now())
	evt.VaultID = id
	evt.Amount = amount
	evt.Vault = &model.Vault{ID: id, Status: status}
	return evt
}

func TestMetrics_TracksLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	require.NoError(t, m.Handle(vaultEvent(model.EventVaultCreated, 1, model.VaultCreated, 0)))
	require.NoError(t, m.Handle(vaultEvent(model.EventVaultCreated, 2, model.VaultCreated, 0)))
	require.NoError(t, m.Handle(vaultEvent(model.EventVaultFunding, 1, model.VaultFunding, 0)))
	require.NoError(t, m.Handle(vaultEvent(model.EventVaultDeposited, 1, model.VaultFunding, 600)))
	require.NoError(t, m.Handle(vaultEvent(model.EventVaultDeposited, 1, model.VaultFunding, 400)))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.vaults.WithLabelValues("CREATED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.vaults.WithLabelValues("FUNDING")))
	assert.Equal(t, float64(1000), testutil.ToFloat64(m.deposited))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues(string(model.EventVaultDeposited))))

	sched := model.RepaymentSchedule{VaultID: 1, IsActive: true}
	created := model.NewEvent(model.EventScheduleCreated, time.Now())
	created.Schedule = &sched
	require.NoError(t, m.Handle(created))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSchedules))

	done := sched
	done.IsActive = false
	paid := model.NewEvent(model.EventPaymentProcessed, time.Now())
	paid.Amount = 250
	paid.Schedule = &done
	require.NoError(t, m.Handle(paid))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.activeSchedules))
	assert.Equal(t, float64(250), testutil.ToFloat64(m.repaid))
}

func TestMetrics_PriceAndUpkeep(t *testing.T) {
	m := New(prometheus.NewRegistry())
	assert.Equal(t, float64(100), testutil.ToFloat64(m.multiplier))

	evt := model.NewEvent(model.EventPriceUpdated, time.Now())
	evt.Price = &model.PriceState{Price: 101_000000, Multiplier: 110, Observed: true}
	require.NoError(t, m.Handle(evt))
	assert.Equal(t, float64(110), testutil.ToFloat64(m.multiplier))

	m.ObserveUpkeep(false, 0)
	m.ObserveUpkeep(true, 0)
	m.ObserveUpkeep(true, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.upkeepRuns.WithLabelValues("idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.upkeepRuns.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.upkeepRuns.WithLabelValues("performed")))
}
