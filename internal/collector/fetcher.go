package collector

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation from an external feed.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
}

// Fetcher defines the interface for fetching the reference price.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	Name() string
}

func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}
