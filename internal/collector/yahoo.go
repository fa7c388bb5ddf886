package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// YahooFetcher reads the last close of a Yahoo Finance chart. Used as a
// fallback feed when no gateway is configured.
type YahooFetcher struct {
	BaseURL   string
	Client    *http.Client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string) *YahooFetcher {
	return &YahooFetcher{
		BaseURL: "https://query1.finance.yahoo.com",
		Client:  newHTTPClient(proxyURL),
		SymbolMap: map[string]string{
			"USDC":     "USDC-USD",
			"USDC/USD": "USDC-USD",
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the part of the chart API response we read.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d",
		f.BaseURL, url.PathEscape(f.yahooSymbol(symbol)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return Quote{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return Quote{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return Quote{}, fmt.Errorf("yahoo: no data returned")
	}

	result := chart.Chart.Result[0]
	closes := result.Indicators.Quote[0].Close
	// Walk back past null bars.
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		return Quote{
			Price: decimal.NewFromFloat(*closes[i]),
			At:    time.Unix(result.Timestamp[i], 0),
		}, nil
	}
	return Quote{}, fmt.Errorf("yahoo: no price data")
}
