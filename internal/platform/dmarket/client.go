// Package dmarket implements domain.MarketAdapter for the DMarket trading
// API using Ed25519 request signing.
package dmarket

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform"
)

const (
	DefaultBaseURL = "https://api.dmarket.com"
	// GameRust is the DMarket game identifier for Rust.
	GameRust = "rust"

	searchLimit   = 10
	maxPriceCents = 100000
)

// Config configures the client.
type Config struct {
	BaseURL    string
	PublicKey  string
	PrivateKey string // hex; only the first 32 bytes (the seed) are used
	GameID     string
	// RequestsPerSecond limits outgoing calls. Zero means 2/s.
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryPause        time.Duration
}

// Client is the DMarket REST client.
type Client struct {
	cfg        Config
	key        ed25519.PrivateKey
	httpClient *http.Client
	limiter    *rate.Limiter
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a DMarket client. It fails with domain.ErrInvalidSecret
// when the private key is not hex or shorter than an Ed25519 seed.
func NewClient(cfg Config, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.GameID == "" {
		cfg.GameID = GameRust
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

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		key:        key,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		clock:      clk,
		logger:     logger.With(slog.String("component", "dmarket")),
	}, nil
}

func parsePrivateKey(hexKey string) (ed25519.PrivateKey, error) {
	if len(hexKey) < ed25519.SeedSize*2 {
		return nil, fmt.Errorf("dmarket: private key too short: %w", domain.ErrInvalidSecret)
	}
	seed, err := hex.DecodeString(hexKey[:ed25519.SeedSize*2])
	if err != nil {
		return nil, fmt.Errorf("dmarket: private key: %v: %w", err, domain.ErrInvalidSecret)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Name returns the market name used by the price service.
func (c *Client) Name() string { return domain.MarketDmarket }

// Balance returns the wallet balance in dollars.
func (c *Client) Balance(ctx context.Context) (domain.Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/account/v1/balance", nil, nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("dmarket: balance: %w", err)
	}
	var resp balanceResponse
	if err := decode(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("dmarket: decode balance: %w", err)
	}
	return domain.Balance{USD: fromCents(resp.USD), DMC: fromCents(resp.DMC)}, nil
}

// Inventory lists the items held on DMarket for gameID, including
// purchases not yet withdrawn.
func (c *Client) Inventory(ctx context.Context, gameID string) ([]domain.Item, error) {
	if gameID == "" {
		gameID = c.cfg.GameID
	}
	q := url.Values{
		"gameId":   {gameID},
		"currency": {"USD"},
		"limit":    {"100"},
	}
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/exchange/v1/user/items", q, nil)
	if err != nil {
		return nil, fmt.Errorf("dmarket: inventory: %w", err)
	}
	var resp itemsResponse
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("dmarket: decode inventory: %w", err)
	}

	items := make([]domain.Item, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		items = append(items, domain.Item{
			ID:       o.ItemID,
			Title:    o.Title,
			PriceUSD: fromCents(o.Price.USD),
			Tradable: o.Extra.Tradable,
			LinkID:   o.Extra.LinkID,
		})
	}
	return items, nil
}

// MarketItems lists market offers for title priced between fromUSD and
// toUSD, cheapest first.
func (c *Client) MarketItems(ctx context.Context, title string, fromUSD, toUSD float64, limit int) ([]domain.Offer, error) {
	q := url.Values{
		"gameId":    {c.cfg.GameID},
		"limit":     {strconv.Itoa(limit)},
		"currency":  {"USD"},
		"priceFrom": {toCents(fromUSD)},
		"priceTo":   {toCents(toUSD)},
		"orderBy":   {"price"},
		"orderDir":  {"asc"},
	}
	if title != "" {
		q.Set("title", title)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/exchange/v1/market/items", q, nil)
	if err != nil {
		return nil, fmt.Errorf("dmarket: market items: %w", err)
	}
	var resp itemsResponse
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("dmarket: decode market items: %w", err)
	}

	offers := make([]domain.Offer, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		if o.Extra.OfferID == "" {
			continue
		}
		offers = append(offers, domain.Offer{
			ID:       o.Extra.OfferID,
			Title:    o.Title,
			PriceUSD: fromCents(o.Price.USD),
		})
	}
	return offers, nil
}

// SearchByName lists offers for an exact item name, cheapest first.
func (c *Client) SearchByName(ctx context.Context, name string) ([]domain.Offer, error) {
	return c.MarketItems(ctx, name, 0, maxPriceCents/100, searchLimit)
}

// Buy purchases offerID at price and returns the transaction ID.
func (c *Client) Buy(ctx context.Context, offerID string, price float64) (string, error) {
	req := buyRequest{Offers: []buyOffer{{
		OfferID: offerID,
		Price:   buyPrice{Amount: toCents(price), Currency: "USD"},
	}}}
	body, err := c.doSignedRequest(ctx, http.MethodPatch, "/exchange/v1/offers-buy", nil, req)
	if err != nil {
		return "", fmt.Errorf("dmarket: buy %s: %w", offerID, err)
	}
	var resp buyResponse
	if err := decode(body, &resp); err != nil {
		return "", fmt.Errorf("dmarket: decode buy: %w", err)
	}

	c.logger.InfoContext(ctx, "offer bought",
		slog.String("offer_id", offerID),
		slog.Float64("price", price),
		slog.String("tx_id", resp.TxID),
		slog.String("status", resp.Status),
	)
	return resp.TxID, nil
}

// Sell lists assetID for sale at price and returns the new offer ID.
func (c *Client) Sell(ctx context.Context, assetID string, price float64) (string, error) {
	req := createOffersRequest{Offers: []createOffer{{
		AssetID: assetID,
		Price:   offerPrice{Currency: "USD", Amount: toCents(price)},
	}}}
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/marketplace-api/v1/user-offers/create", nil, req)
	if err != nil {
		return "", fmt.Errorf("dmarket: sell %s: %w", assetID, err)
	}
	var resp createOffersResponse
	if err := decode(body, &resp); err != nil {
		return "", fmt.Errorf("dmarket: decode sell: %w", err)
	}
	if len(resp.Result) == 0 {
		return "", nil
	}
	offerID := resp.Result[0].CreateOffer.OfferID
	if offerID == "" {
		offerID = resp.Result[0].OfferID
	}

	c.logger.InfoContext(ctx, "sell offer created",
		slog.String("asset_id", assetID),
		slog.Float64("price", price),
		slog.String("offer_id", offerID),
	)
	return offerID, nil
}

// UserOffers lists the account's active sell offers.
func (c *Client) UserOffers(ctx context.Context) ([]domain.Offer, error) {
	q := url.Values{
		"GameID": {c.cfg.GameID},
		"Status": {"OfferStatusActive"},
	}
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/marketplace-api/v1/user-offers", q, nil)
	if err != nil {
		return nil, fmt.Errorf("dmarket: user offers: %w", err)
	}
	var resp userOffersResponse
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("dmarket: decode user offers: %w", err)
	}

	offers := make([]domain.Offer, 0, len(resp.Items))
	for _, it := range resp.Items {
		offers = append(offers, domain.Offer{ID: it.OfferID, Title: it.Title, PriceUSD: fromCents(it.Price.USD)})
	}
	return offers, nil
}

// CancelOffer withdraws one of the account's sell offers.
func (c *Client) CancelOffer(ctx context.Context, offerID string) error {
	_, err := c.doSignedRequest(ctx, http.MethodDelete, "/marketplace-api/v1/user-offers", nil,
		cancelOffersRequest{OfferID: []string{offerID}})
	if err != nil {
		return fmt.Errorf("dmarket: cancel offer %s: %w", offerID, err)
	}
	return nil
}

// Withdraw moves items to the linked Steam inventory and returns the
// transfer ID.
func (c *Client) Withdraw(ctx context.Context, itemIDs []string) (string, error) {
	req := withdrawRequest{RequestID: uuid.New().String()}
	for _, id := range itemIDs {
		req.Assets = append(req.Assets, withdrawAsset{ID: id})
	}
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/exchange/v1/withdraw-assets", nil, req)
	if err != nil {
		return "", fmt.Errorf("dmarket: withdraw: %w", err)
	}
	var resp withdrawResponse
	if err := decode(body, &resp); err != nil {
		return "", fmt.Errorf("dmarket: decode withdraw: %w", err)
	}
	return resp.TransferID, nil
}

// Deposit moves Steam assets onto DMarket and returns the operation ID.
func (c *Client) Deposit(ctx context.Context, steamAssetIDs []string) (string, error) {
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/marketplace-api/v1/deposit-assets", nil,
		depositRequest{AssetID: steamAssetIDs})
	if err != nil {
		return "", fmt.Errorf("dmarket: deposit: %w", err)
	}
	var resp depositResponse
	if err := decode(body, &resp); err != nil {
		return "", fmt.Errorf("dmarket: decode deposit: %w", err)
	}
	return resp.OperationID, nil
}

// doSignedRequest executes a signed call, retrying once on 429.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, query url.Values, reqBody any) ([]byte, error) {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	pathQuery := path
	if len(query) > 0 {
		pathQuery += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+pathQuery, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		c.signRequest(req, method, pathQuery, payload)

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
			return nil, fmt.Errorf("read response: %v: %w", err, domain.ErrTransientNetwork)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			if err := c.clock.Sleep(ctx, c.cfg.RetryPause); err != nil {
				return nil, err
			}
			continue
		}
		if err := checkStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	}
}

// signRequest adds the Ed25519 authentication headers. The signed message
// is method + path?query + body + unix timestamp.
func (c *Client) signRequest(req *http.Request, method, pathQuery string, body []byte) {
	ts := strconv.FormatInt(c.clock.Now().Unix(), 10)
	message := method + pathQuery + string(body) + ts
	sig := ed25519.Sign(c.key, []byte(message))

	req.Header.Set("X-Api-Key", c.cfg.PublicKey)
	req.Header.Set("X-Request-Sign", "dmar ed25519 "+hex.EncodeToString(sig))
	req.Header.Set("X-Sign-Date", ts)
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
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("dmarket: HTTP 404: %s: %w", msg, domain.ErrNotFound)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("dmarket: HTTP %d: %s: %w", statusCode, msg, domain.ErrUnauthorized)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("dmarket: HTTP 429: %w: %w", domain.ErrRateLimited, domain.ErrTransientNetwork)
	case statusCode >= 500:
		return fmt.Errorf("dmarket: HTTP %d: %s: %w", statusCode, msg, domain.ErrTransientNetwork)
	default:
		return fmt.Errorf("dmarket: HTTP %d: %s", statusCode, msg)
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	return platform.Validate(v)
}

// toCents renders a dollar amount as an integer cent string.
func toCents(usd float64) string {
	return decimal.NewFromFloat(usd).Shift(2).Round(0).String()
}

// fromCents parses a cent string into dollars. Unparseable input is zero.
func fromCents(cents string) float64 {
	if cents == "" {
		return 0
	}
	d, err := decimal.NewFromString(cents)
	if err != nil {
		return 0
	}
	return d.Shift(-2).InexactFloat64()
}

var _ domain.MarketAdapter = (*Client)(nil)
