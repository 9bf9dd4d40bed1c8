package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// StatsTracker accumulates engine counters. All counters move together under
// one mutex, so TotalTrades always equals SuccessCount + FailCount in any
// snapshot.
type StatsTracker struct {
	mu    sync.Mutex
	stats domain.EngineStats
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Record folds one execution result into the counters.
func (t *StatsTracker) Record(res domain.DealResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TotalTrades++
	if res.Success {
		t.stats.SuccessCount++
		t.stats.TotalProfit += res.Profit
		t.stats.TotalVolume += res.Deal.BuyPrice
		t.stats.LastTradeAt = res.CompletedAt
		return
	}
	t.stats.FailCount++
}

// SetTokens stores the latest price-service token consumption.
func (t *StatsTracker) SetTokens(n int64) {
	t.mu.Lock()
	t.stats.TokensConsumed = n
	t.mu.Unlock()
}

// MarkStarted stamps the start time once.
func (t *StatsTracker) MarkStarted(now time.Time) {
	t.mu.Lock()
	if t.stats.StartedAt.IsZero() {
		t.stats.StartedAt = now
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (t *StatsTracker) Snapshot() domain.EngineStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
