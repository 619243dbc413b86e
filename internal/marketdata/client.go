package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chainflow/internal/domain"
	"chainflow/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://api.binance.com/api/v3"
	DefaultPageLimit   = 1000
	DefaultMaxAttempts = 5

	rateLimitBaseDelay = 1500 * time.Millisecond
	rateLimitMaxDelay  = 6 * time.Second
)

// Client fetches aggregated trades over the exchange REST API.
type Client struct {
	baseURL     string
	client      *http.Client
	pageLimit   int
	maxAttempts int
	logger      *log.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithPageLimit sets the per-request trade limit.
func WithPageLimit(n int) ClientOption {
	return func(c *Client) {
		c.pageLimit = n
	}
}

// WithMaxAttempts sets the ceiling for transient network retries.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new aggTrades REST client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		pageLimit:   DefaultPageLimit,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// aggTradeRaw is the wire shape of an aggregated trade. Price and quantity
// arrive as decimal strings.
type aggTradeRaw struct {
	TradeID     int64  `json:"a"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
	EventTimeMs int64  `json:"T"`
	IsSellMaker bool   `json:"m"`
}

// FetchWindow retrieves all trades for a chain's symbol with event time in
// [startMs, endMs]. The first page is time-bounded; subsequent pages walk
// forward by trade ID until the window is exhausted. Trades past endMs are
// discarded. Malformed rows are skipped and counted, never fatal.
func (c *Client) FetchWindow(ctx context.Context, chain string, startMs, endMs int64) ([]*domain.Trade, error) {
	symbol, ok := domain.SymbolByChain[chain]
	if !ok {
		return nil, fmt.Errorf("no symbol for chain %q", chain)
	}

	var trades []*domain.Trade
	skipped := 0

	// First page: time-bounded to locate the window start.
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))
	params.Set("limit", strconv.Itoa(c.pageLimit))

	for {
		page, err := c.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		done := false
		var lastID int64
		for _, raw := range page {
			lastID = raw.TradeID
			if raw.EventTimeMs > endMs {
				done = true
				break
			}
			t, err := rawToTrade(chain, raw)
			if err != nil {
				skipped++
				continue
			}
			trades = append(trades, t)
		}

		if done || len(page) < c.pageLimit {
			break
		}

		// Subsequent pages walk forward by trade ID.
		params = url.Values{}
		params.Set("symbol", symbol)
		params.Set("fromId", strconv.FormatInt(lastID+1, 10))
		params.Set("limit", strconv.Itoa(c.pageLimit))
	}

	if skipped > 0 {
		c.logger.Printf("[marketdata] chain=%s window=[%d,%d] skipped %d malformed trades", chain, startMs, endMs, skipped)
	}

	return trades, nil
}

// fetchPage performs one GET with retries. Rate limiting (429) waits with a
// capped linear delay and does not count toward the transient-attempt
// ceiling; the only unbounded wait is under sustained rate limiting, and
// context cancellation still interrupts it.
func (c *Client) fetchPage(ctx context.Context, params url.Values) ([]aggTradeRaw, error) {
	endpoint := c.baseURL + "/aggTrades?" + params.Encode()

	attempt := 0
	rlAttempt := 0
	var lastErr error

	for attempt < c.maxAttempts {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempt++
			lastErr = fmt.Errorf("http request: %w", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil, err
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			attempt++
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			observability.RecordRateLimitHit()
			delay := time.Duration(rlAttempt+1) * rateLimitBaseDelay
			if delay > rateLimitMaxDelay {
				delay = rateLimitMaxDelay
			}
			rlAttempt++
			c.logger.Printf("[marketdata] rate limited, waiting %s", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			attempt++
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			if err := sleepCtx(ctx, time.Second); err != nil {
				return nil, err
			}
			continue
		}

		var page []aggTradeRaw
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("unmarshal trades: %w", err)
		}
		return page, nil
	}

	return nil, fmt.Errorf("max attempts exceeded: %w", lastErr)
}

// rawToTrade converts a wire trade into the domain shape.
func rawToTrade(chain string, raw aggTradeRaw) (*domain.Trade, error) {
	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", raw.Price, err)
	}
	qty, err := strconv.ParseFloat(raw.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quantity %q: %w", raw.Quantity, err)
	}

	return &domain.Trade{
		Chain:       chain,
		TradeID:     raw.TradeID,
		EventTimeMs: raw.EventTimeMs,
		BucketMs:    domain.FloorToBucket(raw.EventTimeMs),
		Price:       price,
		Quantity:    qty,
		IsSellMaker: raw.IsSellMaker,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
