package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// DefaultQuoteTTL keeps a quote for a few scan cycles.
const DefaultQuoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache with one hash per (market, item) at
// "quote:{market}:{item}".
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. A non-positive ttl uses DefaultQuoteTTL.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(market, item string) string {
	return "quote:" + market + ":" + item
}

// SetQuote stores the quote and refreshes its TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.MarketQuote) error {
	key := quoteKey(q.Market, q.ItemName)
	fields := map[string]any{
		"price":       strconv.FormatFloat(q.PriceUSD, 'f', -1, 64),
		"count":       strconv.Itoa(q.AvailableCount),
		"overstocked": strconv.FormatBool(q.Overstocked),
	}
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, market, itemName string) (domain.MarketQuote, error) {
	key := quoteKey(market, itemName)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", key, domain.ErrNotFound)
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: parse quote price %s: %w", key, err)
	}
	count, _ := strconv.Atoi(vals["count"])
	over, _ := strconv.ParseBool(vals["overstocked"])

	return domain.MarketQuote{
		Market:         market,
		ItemName:       itemName,
		PriceUSD:       price,
		AvailableCount: count,
		Overstocked:    over,
	}, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
