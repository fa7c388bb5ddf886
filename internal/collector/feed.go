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

// FeedFetcher reads the latest answer of a price-feed REST gateway.
type FeedFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewFeedFetcher creates a new fetcher with optional proxy support.
func NewFeedFetcher(baseURL, apiKey, proxyURL string) *FeedFetcher {
	return &FeedFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  newHTTPClient(proxyURL),
	}
}

func (f *FeedFetcher) Name() string { return "feed" }

// feedAnswer is the JSON shape of /api/v1/latest. Answer is scaled by 10^decimals.
type feedAnswer struct {
	Answer    json.Number `json:"answer"`
	Decimals  int32       `json:"decimals"`
	UpdatedAt int64       `json:"updated_at"`
}

func (f *FeedFetcher) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/api/v1/latest?symbol=%s", f.BaseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch latest answer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Quote{}, fmt.Errorf("fetch latest answer: status %d, body: %s", resp.StatusCode, string(body))
	}

	var ans feedAnswer
	if err := json.NewDecoder(resp.Body).Decode(&ans); err != nil {
		return Quote{}, fmt.Errorf("decode answer: %w", err)
	}
	raw, err := decimal.NewFromString(ans.Answer.String())
	if err != nil {
		return Quote{}, fmt.Errorf("parse answer %q: %w", ans.Answer, err)
	}
	if ans.UpdatedAt <= 0 {
		return Quote{}, fmt.Errorf("answer has no timestamp")
	}
	return Quote{
		Price: raw.Shift(-ans.Decimals),
		At:    time.Unix(ans.UpdatedAt, 0),
	}, nil
}
