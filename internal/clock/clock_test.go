package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/clock"
)

func TestMockClock_SleepAdvancesTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewMockClock(start)

	require.NoError(t, c.Sleep(context.Background(), 30*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 5*time.Second))

	assert.Equal(t, start.Add(35*time.Second), c.Now())
	assert.Equal(t, []time.Duration{30 * time.Second, 5 * time.Second}, c.Sleeps())
	assert.Equal(t, 35*time.Second, c.Slept())
}

func TestMockClock_SleepHonoursCancelledContext(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewMockClock(start)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, start, c.Now())
}

func TestRealClock_SleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := clock.NewRealClock().Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
