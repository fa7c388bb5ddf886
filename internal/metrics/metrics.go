package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MediVault/internal/model"
)

// Metrics turns the lifecycle event stream into Prometheus series.
type Metrics struct {
	events          *prometheus.CounterVec
	deposited       prometheus.Counter
	repaid          prometheus.Counter
	vaults          *prometheus.GaugeVec
	activeSchedules prometheus.Gauge
	multiplier      prometheus.Gauge
	price           prometheus.Gauge
	prizePool       prometheus.Gauge
	upkeepRuns      *prometheus.CounterVec

	mu       sync.Mutex
	statuses map[uint64]model.VaultStatus
}

// New registers the series with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	m := &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medivault_events_total",
			Help: "Lifecycle events emitted, by type",
		}, []string{"type"}),
		deposited: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivault_deposited_amount_total",
			Help: "Raw currency units recorded as deposits",
		}),
		repaid: factory.NewCounter(prometheus.CounterOpts{
			Name: "medivault_repaid_amount_total",
			Help: "Raw currency units transferred by processed installments",
		}),
		vaults: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medivault_vaults",
			Help: "Vaults by lifecycle status",
		}, []string{"status"}),
		activeSchedules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivault_active_schedules",
			Help: "Repayment schedules still active",
		}),
		multiplier: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivault_price_multiplier_percent",
			Help: "Current investment multiplier, 100 is neutral",
		}),
		price: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivault_price_feed_answer",
			Help: "Last accepted price in feed units",
		}),
		prizePool: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medivault_lottery_prize_pool",
			Help: "Prize pool of the current lottery round",
		}),
		upkeepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medivault_upkeep_runs_total",
			Help: "Keeper polls, by outcome",
		}, []string{"result"}),
		statuses: make(map[uint64]model.VaultStatus),
	}
	m.multiplier.Set(float64(model.NeutralMultiplier))
	return m
}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Handle(evt model.Event) error {
	m.events.WithLabelValues(string(evt.Type)).Inc()

	switch evt.Type {
	case model.EventVaultDeposited:
		m.deposited.Add(float64(evt.Amount))
	case model.EventPaymentProcessed:
		m.repaid.Add(float64(evt.Amount))
		if evt.Schedule != nil && !evt.Schedule.IsActive {
			m.activeSchedules.Dec()
		}
	case model.EventScheduleCreated:
		m.activeSchedules.Inc()
	case model.EventPriceUpdated:
		if evt.Price != nil {
			m.price.Set(float64(evt.Price.Price))
			m.multiplier.Set(float64(evt.Price.Multiplier))
		}
	case model.EventRoundStarted, model.EventRoundEntered:
		m.prizePool.Set(float64(evt.Amount))
	case model.EventRoundResolved:
		m.prizePool.Set(0)
	}

	if evt.Vault != nil {
		m.trackStatus(evt.Vault.ID, evt.Vault.Status)
	}
	return nil
}

func (m *Metrics) trackStatus(id uint64, status model.VaultStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.statuses[id]
	if ok && prev == status {
		return
	}
	if ok {
		m.vaults.WithLabelValues(string(prev)).Dec()
	}
	m.vaults.WithLabelValues(string(status)).Inc()
	m.statuses[id] = status
}

// ObserveUpkeep counts one keeper poll.
func (m *Metrics) ObserveUpkeep(needed bool, processed int) {
	switch {
	case !needed:
		m.upkeepRuns.WithLabelValues("idle").Inc()
	case processed == 0:
		m.upkeepRuns.WithLabelValues("skipped").Inc()
	default:
		m.upkeepRuns.WithLabelValues("performed").Inc()
	}
}

// Seed sets the gauges from restored state, which produced no events.
func (m *Metrics) Seed(vaults []model.Vault, activeSchedules int, price model.PriceState) {
	for _, v := range vaults {
		m.trackStatus(v.ID, v.Status)
	}
	m.activeSchedules.Set(float64(activeSchedules))
	if price.Observed {
		m.price.Set(float64(price.Price))
	}
	if price.Multiplier != 0 {
		m.multiplier.Set(float64(price.Multiplier))
	}
}
