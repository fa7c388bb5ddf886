package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"MediVault/internal/event"
	"MediVault/internal/ledger"
	"MediVault/internal/lottery"
	"MediVault/internal/metrics"
	"MediVault/internal/model"
	"MediVault/internal/notifier"
	"MediVault/internal/pricing"
	"MediVault/internal/repayment"
	"MediVault/internal/snapshot"
	"MediVault/internal/vault"
)

const period = time.Hour

var (
	beneficiary = common.HexToAddress("0xbe11")
	alice       = common.HexToAddress("0xa11ce")
)

type fixture struct {
	clock *model.ManualClock
	s     *Scheduler
}

func newFixture(t *testing.T, vaults int) *fixture {
	t.Helper()
	clock := model.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)
	l := ledger.New(clock)
	price, err := pricing.NewService(pricing.DefaultBand, clock, event.Discard{}, logger)
	require.NoError(t, err)
	m := vault.NewManager(l, price, clock, event.Discard{}, logger)
	rs, err := repayment.NewScheduler(period, m, l, clock, event.Discard{}, logger)
	require.NoError(t, err)

	for i := 0; i < vaults; i++ {
		v, err := m.CreateVault(beneficiary, 1200, "Medicine")
		require.NoError(t, err)
		_, err = m.Invest(v.ID, alice, 1200)
		require.NoError(t, err)
		_, err = rs.CreateSchedule(v.ID, 12)
		require.NoError(t, err)
	}

	s := NewScheduler(context.Background(), Deps{
		Repayment: rs,
		Vaults:    m,
		Ledger:    l,
		Lottery:   lottery.NewService(5, m, l, clock, event.Discard{}, logger),
		Pricing:   price,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Barrier:   &snapshot.Barrier{},
		Format:    notifier.Formatter{Symbol: "USDC", Decimals: 6},
		Clock:     clock,
	}, 4, logger)
	t.Cleanup(s.Stop)
	return &fixture{clock: clock, s: s}
}

func TestRunUpkeep_FansOutDueVaults(t *testing.T) {
	f := newFixture(t, 5)

	n, err := f.s.RunUpkeep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(period)
	n, err = f.s.RunUpkeep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.s.RunUpkeep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second poll in the same period finds nothing due")

	for _, sched := range f.s.Repayment.Schedules() {
		assert.Equal(t, uint32(1), sched.PaidMonths)
	}
}

func TestRegisterAll_RejectsBadCron(t *testing.T) {
	f := newFixture(t, 0)
	assert.Error(t, f.s.RegisterAll("not a cron", "0 * * * * *", "0 * * * * *"))
	require.NoError(t, f.s.RegisterAll("0 */5 * * * *", "0 * * * * *", "0 * * * * *"))
	assert.Len(t, f.s.Cron.Entries(), 1, "price and checkpoint jobs need a collector and a checkpoint func")
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t, 1)

	assert.Contains(t, f.s.HandleCommand("/vault 1"), "Vault #1")
	assert.Contains(t, f.s.HandleCommand("/vault 1"), "Investors: 1")
	assert.Contains(t, f.s.HandleCommand("/vault 9"), "not found")
	assert.Contains(t, f.s.HandleCommand("/vault x"), "must be a number")
	assert.Contains(t, f.s.HandleCommand("/schedules"), "#1 CURRENT")
	assert.Equal(t, "No lottery round yet.", f.s.HandleCommand("/lottery"))
	assert.Contains(t, f.s.HandleCommand("/price"), "No price observed")
	assert.Contains(t, f.s.HandleCommand("hello"), "/upkeep")

	f.clock.Advance(period)
	assert.Equal(t, "Upkeep processed 1 installment(s).", f.s.HandleCommand("/upkeep"))
}
