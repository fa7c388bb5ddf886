package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
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
	"MediVault/internal/pricing"
	"MediVault/internal/repayment"
	"MediVault/internal/snapshot"
	"MediVault/internal/vault"
)

const period = time.Hour

var (
	beneficiary = common.HexToAddress("0xbe11")
	alice       = common.HexToAddress("0xa11ce")
	bob         = common.HexToAddress("0xb0b")
	oracle      = common.HexToAddress("0x0dac1e")
	operator    = common.HexToAddress("0x0be5a7")
)

type fixture struct {
	clock      *model.ManualClock
	handler    http.Handler
	metrics    *metrics.Metrics
	components snapshot.Components
	barrier    *snapshot.Barrier
}

func buildComponents(t *testing.T, clock model.Clock) snapshot.Components {
	t.Helper()
	logger := zaptest.NewLogger(t)
	l := ledger.New(clock)
	price, err := pricing.NewService(pricing.DefaultBand, clock, event.Discard{}, logger)
	require.NoError(t, err)
	m := vault.NewManager(l, price, clock, event.Discard{}, logger)
	rs, err := repayment.NewScheduler(period, m, l, clock, event.Discard{}, logger)
	require.NoError(t, err)
	return snapshot.Components{
		Ledger:    l,
		Vaults:    m,
		Schedules: rs,
		Lottery:   lottery.NewService(5, m, l, clock, event.Discard{}, logger),
		Pricing:   price,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := model.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := buildComponents(t, clock)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	barrier := &snapshot.Barrier{}

	srv := New(Config{
		Vaults:        c.Vaults,
		Ledger:        c.Ledger,
		Repayment:     c.Schedules,
		Lottery:       c.Lottery,
		Pricing:       c.Pricing,
		Metrics:       met,
		Gatherer:      reg,
		Clock:         clock,
		Barrier:       barrier,
		Oracle:        oracle,
		Operator:      operator,
		DefaultMonths: 12,
	}, zaptest.NewLogger(t))
	return &fixture{clock: clock, handler: srv.Handler(), metrics: met, components: c, barrier: barrier}
}

func (f *fixture) do(t *testing.T, method, path string, principal common.Address, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if principal != (common.Address{}) {
		req.Header.Set(PrincipalHeader, principal.Hex())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestVaultFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":1000,"education_track":"Medicine"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decodeBody[model.Vault](t, rec)
	assert.Equal(t, uint64(1), v.ID)
	assert.Equal(t, model.VaultCreated, v.Status)
	assert.Equal(t, beneficiary, v.Beneficiary)

	rec = f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":600}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv := decodeBody[vault.Investment](t, rec)
	assert.Equal(t, model.Amount(600), inv.Credited)
	assert.Equal(t, model.VaultFunding, inv.Vault.Status)

	rec = f.do(t, http.MethodPost, "/vaults/1/invest", bob, `{"amount":500}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAPACITY_EXCEEDED", decodeBody[map[string]string](t, rec)["kind"])

	rec = f.do(t, http.MethodPost, "/vaults/1/invest", bob, `{"amount":400}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv = decodeBody[vault.Investment](t, rec)
	assert.Equal(t, model.Amount(400), inv.Credited)
	assert.Equal(t, model.VaultFunded, inv.Vault.Status)

	rec = f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/vaults/1/investors", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decodeBody[[]model.InvestorPosition](t, rec)
	require.Len(t, positions, 2)
	assert.Equal(t, alice, positions[0].Investor)

	rec = f.do(t, http.MethodGet, "/vaults/1/investors/"+bob.Hex(), common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Amount(400), decodeBody[model.InvestorPosition](t, rec).AmountDeposited)

	rec = f.do(t, http.MethodGet, "/vaults", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]model.Vault](t, rec), 1)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/vaults", common.Address{}, `{"target_amount":1000}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody[map[string]string](t, rec)["kind"])

	rec = f.do(t, http.MethodGet, "/vaults/9", common.Address{}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/vaults/abc", common.Address{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/vaults/1/schedule", beneficiary, `{"total_months":12}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decodeBody[map[string]string](t, rec)["kind"])

	rec = f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleAndUpkeep(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":1200}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":1200}`).Code)

	rec := f.do(t, http.MethodPost, "/vaults/1/schedule", beneficiary, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sched := decodeBody[model.RepaymentSchedule](t, rec)
	assert.Equal(t, uint32(12), sched.TotalMonths)
	assert.Equal(t, model.Amount(100), sched.MonthlyAmount)

	rec = f.do(t, http.MethodGet, "/upkeep", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[upkeepCheck](t, rec)
	assert.False(t, check.UpkeepNeeded)

	f.clock.Advance(period)
	rec = f.do(t, http.MethodGet, "/upkeep", common.Address{}, "")
	check = decodeBody[upkeepCheck](t, rec)
	require.True(t, check.UpkeepNeeded)
	assert.Equal(t, []uint64{1}, check.VaultIDs)

	body, err := json.Marshal(map[string]any{"perform_data": check.PerformData})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/upkeep", common.Address{}, string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, rec)["processed"])

	// Replaying the same hint is a no-op.
	rec = f.do(t, http.MethodPost, "/upkeep", common.Address{}, string(body))
	assert.Equal(t, float64(0), decodeBody[map[string]any](t, rec)["processed"])

	rec = f.do(t, http.MethodGet, "/vaults/1/schedule", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[scheduleView](t, rec)
	assert.Equal(t, uint32(1), view.PaidMonths)
	assert.Equal(t, model.ScheduleCurrent, view.Status)
	require.Len(t, view.Payments, 1)

	rec = f.do(t, http.MethodGet, "/schedules/active", common.Address{}, "")
	assert.JSONEq(t, `{"vault_ids":[1]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/vaults/1/close", beneficiary, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPriceEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/price", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusNoData, decodeBody[model.PriceState](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/price", oracle, `{"price":101000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/price/simulate?amount=1000", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sim := decodeBody[pricing.Simulation](t, rec)
	assert.Equal(t, model.Amount(1100), sim.Adjusted)
	assert.Equal(t, uint64(110), sim.Multiplier)
	assert.Equal(t, model.StatusAbovePeg, sim.Status)

	rec = f.do(t, http.MethodGet, "/price/simulate?amount=0", common.Address{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/price", oracle, `{"price":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLotteryEndpoints(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":100}`).Code)
	}

	rec := f.do(t, http.MethodGet, "/lottery/current", common.Address{}, "")
	assert.JSONEq(t, `{"round":null,"entry_fee":5,"total_prize_pool":0,"escrow":0}`, rec.Body.String())

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/lottery/rounds", operator, "").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/lottery/rounds", operator, "").Code)

	for _, id := range []string{"1", "2", "3"} {
		rec = f.do(t, http.MethodPost, "/lottery/enter", alice, `{"vault_id":`+id+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/lottery/enter", alice, `{"vault_id":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/lottery/enter", alice, `{"vault_id":42}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/lottery/randomness", operator, "")
	require.Equal(t, http.StatusOK, rec.Code)
	reqID := decodeBody[map[string]uint64](t, rec)["request_id"]
	require.NotZero(t, reqID)

	rec = f.do(t, http.MethodPost, "/lottery/resolve", operator, `{"request_id":999,"random_value":"7"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/lottery/resolve", operator, `{"random_value":"oops"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, err := json.Marshal(map[string]any{"request_id": reqID, "random_value": "7"})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/lottery/resolve", operator, string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	round := decodeBody[model.LotteryRound](t, rec)
	assert.Equal(t, model.RoundResolved, round.Status)
	assert.Equal(t, uint64(2), round.Winner)
	assert.Equal(t, model.Amount(15), round.PrizePool)

	rec = f.do(t, http.MethodGet, "/lottery/current", common.Address{}, "")
	assert.Equal(t, float64(0), decodeBody[map[string]any](t, rec)["escrow"])

	rec = f.do(t, http.MethodPost, "/vaults/2/claim", beneficiary, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.Amount(15), decodeBody[vault.Claim](t, rec).Prize)
	rec = f.do(t, http.MethodPost, "/vaults/2/claim", beneficiary, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[vault.Claim](t, rec).Total())

	rec = f.do(t, http.MethodGet, "/lottery/rounds/1", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{1, 2, 3}, decodeBody[model.LotteryRound](t, rec).Participants)

	rec = f.do(t, http.MethodGet, "/lottery/rounds/9", common.Address{}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", common.Address{}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	f.do(t, http.MethodPost, "/upkeep", common.Address{}, "")
	rec = f.do(t, http.MethodGet, "/metrics", common.Address{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "medivault_upkeep_runs_total")
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":100}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":100}`).Code)

	cases := []struct {
		name      string
		method    string
		path      string
		principal common.Address
		body      string
		want      int
	}{
		{"schedule without identity", http.MethodPost, "/vaults/1/schedule", common.Address{}, "", http.StatusUnauthorized},
		{"schedule by investor", http.MethodPost, "/vaults/1/schedule", alice, "", http.StatusForbidden},
		{"close without identity", http.MethodPost, "/vaults/1/close", common.Address{}, "", http.StatusUnauthorized},
		{"close by stranger", http.MethodPost, "/vaults/1/close", bob, "", http.StatusForbidden},
		{"close unknown vault", http.MethodPost, "/vaults/9/close", beneficiary, "", http.StatusNotFound},
		{"price without identity", http.MethodPost, "/price", common.Address{}, `{"price":101000000}`, http.StatusUnauthorized},
		{"price by investor", http.MethodPost, "/price", alice, `{"price":101000000}`, http.StatusForbidden},
		{"round by investor", http.MethodPost, "/lottery/rounds", alice, "", http.StatusForbidden},
		{"randomness by oracle", http.MethodPost, "/lottery/randomness", oracle, "", http.StatusForbidden},
		{"resolve without identity", http.MethodPost, "/lottery/resolve", common.Address{}, `{"random_value":"7"}`, http.StatusUnauthorized},
		{"claim without identity", http.MethodPost, "/vaults/1/claim", common.Address{}, "", http.StatusUnauthorized},
		{"claim by stranger", http.MethodPost, "/vaults/1/claim", bob, "", http.StatusForbidden},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := f.do(t, c.method, c.path, c.principal, c.body)
			assert.Equal(t, c.want, rec.Code, rec.Body.String())
			if c.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", decodeBody[map[string]string](t, rec)["kind"])
			}
		})
	}

	rec := f.do(t, http.MethodGet, "/price", common.Address{}, "")
	assert.Equal(t, model.StatusNoData, decodeBody[model.PriceState](t, rec).Status)
	rec = f.do(t, http.MethodGet, "/vaults/1", common.Address{}, "")
	assert.Equal(t, model.VaultFunded, decodeBody[model.Vault](t, rec).Status)
	rec = f.do(t, http.MethodGet, "/lottery/current", common.Address{}, "")
	assert.Contains(t, rec.Body.String(), `"round":null`)
}

func TestUnsetRoleDisablesRoute(t *testing.T) {
	clock := model.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := buildComponents(t, clock)
	srv := New(Config{Vaults: c.Vaults, Ledger: c.Ledger, Repayment: c.Schedules, Lottery: c.Lottery, Pricing: c.Pricing, Clock: clock}, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/price", strings.NewReader(`{"price":101000000}`))
	req.Header.Set(PrincipalHeader, alice.Hex())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClaimReturnsAfterRepayment(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":1200}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/vaults/1/invest", alice, `{"amount":900}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/vaults/1/invest", bob, `{"amount":300}`).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/vaults/1/schedule", beneficiary, "").Code)

	f.clock.Advance(period)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/upkeep", common.Address{}, "").Code)

	rec := f.do(t, http.MethodPost, "/vaults/1/claim", alice, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decodeBody[vault.Claim](t, rec)
	assert.Equal(t, model.Amount(75), claim.Returns)
	require.NotNil(t, claim.Position)
	assert.Equal(t, model.Amount(75), claim.Position.Claimed)

	rec = f.do(t, http.MethodPost, "/vaults/1/claim", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[vault.Claim](t, rec).Total())

	rec = f.do(t, http.MethodGet, "/vaults/1/investors/"+alice.Hex(), common.Address{}, "")
	pos := decodeBody[model.InvestorPosition](t, rec)
	assert.Equal(t, model.Amount(75), pos.Repaid)
	assert.Zero(t, pos.Claimable())
}

func TestCheckpointUnderRequestTraffic(t *testing.T) {
	f := newFixture(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rec := f.do(t, http.MethodPost, "/vaults", beneficiary, `{"target_amount":20}`)
				if rec.Code != http.StatusCreated {
					continue
				}
				var v model.Vault
				if json.Unmarshal(rec.Body.Bytes(), &v) != nil {
					continue
				}
				path := "/vaults/" + strconv.FormatUint(v.ID, 10)
				f.do(t, http.MethodPost, path+"/invest", alice, `{"amount":20}`)
				f.do(t, http.MethodPost, path+"/schedule", beneficiary, `{"total_months":2}`)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		st := f.barrier.Capture(f.components, f.clock.Now())
		restored := buildComponents(t, f.clock)
		require.NoError(t, restored.Restore(st), "capture %d", i)
	}
	close(stop)
	wg.Wait()
}
