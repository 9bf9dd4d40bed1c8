// Package pulse is a client for the Pulse price-comparison service, which
// lists items priced on two marketplaces side by side.
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform"
)

const (
	DefaultBaseURL = "https://api-pulse.tradeon.space"

	// TokensPerCompare is what one compare-tables call costs.
	TokensPerCompare = 2
	// DefaultPageSize is the number of rows requested per compare call.
	DefaultPageSize = 20

	budgetKey = "pulse:tokens"
)

// Config configures the client.
type Config struct {
	BaseURL           string
	APIKey            string
	Game              string
	Currency          string
	RequestsPerSecond float64
	// TokenBudget caps tokens spent per BudgetWindow when a shared budget
	// is attached. Zero disables the cap.
	TokenBudget  int
	BudgetWindow time.Duration
	Timeout      time.Duration
	RetryPause   time.Duration
}

// Client calls the Pulse public API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	budget     domain.RateLimiter
	clock      clock.Clock
	logger     *slog.Logger
	tokens     atomic.Int64
}

// NewClient creates a Pulse client.
func NewClient(cfg Config, clk clock.Clock, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Game == "" {
		cfg.Game = domain.GameRust
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 2 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		clock:      clk,
		logger:     logger.With(slog.String("component", "pulse")),
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetBudget attaches a shared token budget. Calls beyond the budget fail
// with domain.ErrQuotaExhausted without reaching the service.
func (c *Client) SetBudget(rl domain.RateLimiter) {
	c.budget = rl
}

// TokensUsed returns the tokens consumed since the client was created.
func (c *Client) TokensUsed() int64 {
	return c.tokens.Load()
}

// Compare returns one page of items priced on both markets of q. Rows with
// a missing side keep that side nil; callers decide what to drop.
func (c *Client) Compare(ctx context.Context, q domain.CompareQuery) ([]domain.PricePair, error) {
	if err := c.checkBudget(ctx); err != nil {
		return nil, err
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	reqBody := compareRequest{
		Game:         c.cfg.Game,
		Currency:     c.cfg.Currency,
		FirstMarket:  q.FirstMarket,
		SecondMarket: q.SecondMarket,
		FirstMarketOptions: firstMarketOptions{
			PriceType:   priceTypeSell,
			PriceFilter: priceFilter{MinValue: q.Range.Min, MaxValue: q.Range.Max},
		},
		SecondMarketOptions: secondMarketOptions{PriceType: priceTypeBuy},
		PaginationRequest: paginationRequest{
			SkipCount: q.Skip,
			TakeCount: pageSize,
			OrderParameters: orderParameters{
				Key:       "profitPercent",
				SortOrder: "Descending",
			},
		},
	}
	if q.ExcludeOverstock {
		no := false
		reqBody.IsOverstock = &no
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/public-api/item/compare-tables", reqBody, TokensPerCompare)
	if err != nil {
		return nil, fmt.Errorf("pulse: compare %s->%s: %w", q.FirstMarket, q.SecondMarket, err)
	}

	var rows []*compareRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("pulse: decode compare: %w", err)
	}

	pairs := make([]domain.PricePair, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := platform.Validate(row); err != nil {
			c.logger.DebugContext(ctx, "skipping malformed row", slog.String("error", err.Error()))
			continue
		}
		pairs = append(pairs, domain.PricePair{
			ItemName: row.MarketHashName,
			First:    toQuote(q.FirstMarket, row.MarketHashName, row.FirstMarketInfo),
			Second:   toQuote(q.SecondMarket, row.MarketHashName, row.SecondMarketInfo),
		})
	}

	c.logger.DebugContext(ctx, "compare fetched",
		slog.String("first", q.FirstMarket),
		slog.String("second", q.SecondMarket),
		slog.Int("rows", len(pairs)),
	)
	return pairs, nil
}

// SupportedMarkets lists the market names the service knows about.
func (c *Client) SupportedMarkets(ctx context.Context) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/public-api/info/supported-markets", nil, 0)
	if err != nil {
		return nil, fmt.Errorf("pulse: supported markets: %w", err)
	}
	var resp supportedMarketsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("pulse: decode supported markets: %w", err)
	}
	return resp.Markets, nil
}

func toQuote(market, item string, info *marketInfo) *domain.MarketQuote {
	if info == nil {
		return nil
	}
	return &domain.MarketQuote{
		Market:         market,
		ItemName:       item,
		PriceUSD:       info.PriceUSD,
		AvailableCount: info.BestOfferCount,
		Overstocked:    info.OverstockInfo.overstocked(),
	}
}

func (c *Client) checkBudget(ctx context.Context) error {
	if c.budget == nil || c.cfg.TokenBudget <= 0 {
		return nil
	}
	calls := c.cfg.TokenBudget / TokensPerCompare
	window := c.cfg.BudgetWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	ok, err := c.budget.Allow(ctx, budgetKey, calls, window)
	if err != nil {
		c.logger.WarnContext(ctx, "token budget unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("pulse: token budget of %d per %s spent: %w", c.cfg.TokenBudget, window, domain.ErrQuotaExhausted)
	}
	return nil
}

// doRequest performs an authenticated call, retrying once on 429 when the
// body does not indicate an exhausted quota. cost tokens are charged once
// per answered request; a throttled attempt that is retried is free.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, cost int64) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Api-Key", c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("http request: %v: %w", err, domain.ErrTransientNetwork)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.tokens.Add(cost)
			return nil, fmt.Errorf("read response: %v: %w", err, domain.ErrTransientNetwork)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 && !quotaBody(respBody) {
			if err := c.clock.Sleep(ctx, c.cfg.RetryPause); err != nil {
				return nil, err
			}
			continue
		}
		c.tokens.Add(cost)
		if err := checkStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	}
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(bytes.TrimSpace(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("pulse: HTTP %d: %s: %w", statusCode, msg, domain.ErrUnauthorized)
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("pulse: HTTP 402: %s: %w", msg, domain.ErrQuotaExhausted)
	case statusCode == http.StatusTooManyRequests && quotaBody(body):
		return fmt.Errorf("pulse: HTTP 429: %s: %w", msg, domain.ErrQuotaExhausted)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("pulse: HTTP 429: %w: %w", domain.ErrRateLimited, domain.ErrTransientNetwork)
	case statusCode >= 500:
		return fmt.Errorf("pulse: HTTP %d: %s: %w", statusCode, msg, domain.ErrTransientNetwork)
	default:
		return fmt.Errorf("pulse: HTTP %d: %s", statusCode, msg)
	}
}

func quotaBody(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "token") || strings.Contains(s, "quota") || strings.Contains(s, "limit exceeded")
}

var _ domain.PriceService = (*Client)(nil)
