package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

// pollJitter spreads inventory polls so they do not align with other loops.
const pollJitter = 0.1

// inventoryWaiter polls a marketplace inventory until a bought item appears.
type inventoryWaiter struct {
	clock    clock.Clock
	attempts int
	interval time.Duration
}

// find returns the reference of the first inventory item titled title, or ""
// when it did not appear within the attempt budget. The first lookup happens
// immediately. Transport errors count as a miss; fatal errors and context
// cancellation are returned.
func (w inventoryWaiter) find(ctx context.Context, adapter domain.MarketAdapter, gameID, title string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.interval
	b.RandomizationFactor = pollJitter
	b.Multiplier = 1
	b.MaxInterval = w.interval
	b.Reset()

	attempts := max(w.attempts, 1)
	for i := range attempts {
		if i > 0 {
			if err := w.clock.Sleep(ctx, b.NextBackOff()); err != nil {
				return "", err
			}
		}
		items, err := adapter.Inventory(ctx, gameID)
		if err != nil {
			if domain.IsFatal(err) || ctx.Err() != nil {
				return "", err
			}
			continue
		}
		for _, it := range items {
			if it.Title != title {
				continue
			}
			if it.LinkID != "" {
				return it.LinkID, nil
			}
			return it.ID, nil
		}
	}
	return "", nil
}

// quotaBackoff doubles the pause after each exhausted scan, starting from
// twice the check interval and capped at maxInterval.
type quotaBackoff struct {
	b      *backoff.ExponentialBackOff
	active bool
}

func newQuotaBackoff(checkInterval, maxInterval time.Duration) *quotaBackoff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * checkInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	b.Reset()
	return &quotaBackoff{b: b}
}

// next returns the pause to apply after an exhausted scan.
func (q *quotaBackoff) next() time.Duration {
	q.active = true
	return q.b.NextBackOff()
}

// reset restores the initial pause after a successful scan.
func (q *quotaBackoff) reset() {
	if q.active {
		q.b.Reset()
		q.active = false
	}
}

func isQuota(err error) bool {
	return errors.Is(err, domain.ErrQuotaExhausted)
}
