package steam_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
)

func TestDedup(t *testing.T) {
	clk := clock.NewMockClock(testStart)
	d := steam.NewDedup(time.Minute, clk)

	assert.False(t, d.Seen("a"))
	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.Seen("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))

	clk.Advance(time.Minute)
	assert.False(t, d.IsDuplicate("a"), "expired entries are recorded again")

	d.Forget("a")
	assert.False(t, d.IsDuplicate("a"))

	clk.Advance(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
}
