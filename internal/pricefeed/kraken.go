// Package pricefeed reads spot prices from a Kraken-compatible public
// ticker endpoint.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kimpers/betchya/internal/domain"
)

// DefaultBaseURL is Kraken's public REST root.
const DefaultBaseURL = "https://api.kraken.com"

// Client fetches last-trade prices.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a ticker client. baseURL is the API root, e.g.
// "https://api.kraken.com".
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithRateLimiter makes every request wait for a slot on the shared
// "pricefeed" key.
func (c *Client) WithRateLimiter(rl domain.RateLimiter) *Client {
	c.limiter = rl
	return c
}

type tickerResponse struct {
	Error  []string                `json:"error"`
	Result map[string]tickerResult `json:"result"`
}

type tickerResult struct {
	// c is [price, lot volume] of the last trade.
	Last []string `json:"c"`
}

// Ticker returns the last trade price for pair, e.g. "ETHUSD".
func (c *Client) Ticker(ctx context.Context, pair string) (decimal.Decimal, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "pricefeed"); err != nil {
			return decimal.Decimal{}, fmt.Errorf("pricefeed: rate limit: %w", err)
		}
	}

	params := url.Values{}
	params.Set("pair", pair)
	body, err := c.doGet(ctx, "/0/public/Ticker?"+params.Encode())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: ticker %s: %w", pair, err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: decode ticker: %w", err)
	}
	if len(resp.Error) > 0 {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: ticker %s: %s", pair, strings.Join(resp.Error, "; "))
	}

	// Kraken renames pairs (ETHUSD becomes XETHZUSD); a single-pair query
	// has exactly one result.
	for _, r := range resp.Result {
		if len(r.Last) == 0 {
			break
		}
		price, err := decimal.NewFromString(r.Last[0])
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("pricefeed: parse price %q: %w", r.Last[0], err)
		}
		if !price.IsPositive() {
			return decimal.Decimal{}, fmt.Errorf("pricefeed: non-positive price %s", price)
		}
		return price, nil
	}
	return decimal.Decimal{}, fmt.Errorf("pricefeed: ticker %s: %w", pair, domain.ErrNotFound)
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
