package collector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MockFetcher returns a controllable fixed quote for development and testing.
type MockFetcher struct {
	Price decimal.Decimal
	At    time.Time
	Err   error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchQuote(context.Context, string) (Quote, error) {
	if m.Err != nil {
		return Quote{}, m.Err
	}
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	return Quote{Price: m.Price, At: at}, nil
}

// Observer accepts fixed-point price observations.
type Observer interface {
	Observe(price int64, observedAt time.Time) (bool, error)
}

// Collector pulls a quote from its Fetcher and hands it to the price service.
type Collector struct {
	Fetcher  Fetcher
	Symbol   string
	Decimals uint8
	observer Observer
	logger   *zap.Logger
}

// NewCollector creates a new Collector that scales quotes to decimals places.
func NewCollector(fetcher Fetcher, symbol string, decimals uint8, observer Observer, logger *zap.Logger) *Collector {
	return &Collector{
		Fetcher:  fetcher,
		Symbol:   symbol,
		Decimals: decimals,
		observer: observer,
		logger:   logger.Named("collector"),
	}
}

// Collect fetches one quote and records it. It reports whether the observation
// replaced the current price.
func (c *Collector) Collect(ctx context.Context) (bool, error) {
	q, err := c.Fetcher.FetchQuote(ctx, c.Symbol)
	if err != nil {
		return false, fmt.Errorf("fetch %s from %s: %w", c.Symbol, c.Fetcher.Name(), err)
	}
	price, err := ToFixed(q.Price, c.Decimals)
	if err != nil {
		return false, err
	}
	accepted, err := c.observer.Observe(price, q.At)
	if err != nil {
		return false, fmt.Errorf("observe %s: %w", q.Price, err)
	}
	c.logger.Debug("price collected",
		zap.String("source", c.Fetcher.Name()),
		zap.String("price", q.Price.String()),
		zap.Int64("fixed", price),
		zap.Time("at", q.At),
		zap.Bool("accepted", accepted))
	return accepted, nil
}

// ToFixed converts p to an integer with decimals implied places, rounding half away from zero.
func ToFixed(p decimal.Decimal, decimals uint8) (int64, error) {
	scaled := p.Shift(int32(decimals)).Round(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("price %s does not fit %d decimals", p, decimals)
	}
	return scaled.IntPart(), nil
}
