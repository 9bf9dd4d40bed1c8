package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const (
	waitPollInterval = 50 * time.Millisecond
	// Wait admits one request per second per key.
	waitLimit  = 1
	waitWindow = time.Second
)

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one Lua script. It meters the price-service token
// budget and the HTTP API.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	clock         clock.Clock
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		clock:         clk,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow records one request for key and reports whether it fits in limit per
// window. Rejected requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := rl.clock.Now().UnixMicro()
	result, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Count returns the number of requests currently inside the window for key.
func (rl *RateLimiter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	lk := rateLimitKey(key)
	minScore := fmt.Sprint(rl.clock.Now().UnixMicro() - window.Microseconds())
	n, err := rl.rdb.ZCount(ctx, lk, "("+minScore, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis: rate limit count %s: %w", key, err)
	}
	return n, nil
}

// Wait blocks until one request per second is admitted for key.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, waitLimit, waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := rl.clock.Sleep(ctx, waitPollInterval); err != nil {
			return fmt.Errorf("redis: rate limit wait %s: %w", key, err)
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
