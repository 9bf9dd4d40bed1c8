package steam

import (
	"sync"
	"time"

	"github.com/alanyoungcy/skinarb/internal/clock"
)

// Dedup remembers confirmation IDs that were resolved recently so a second
// resolve inside the TTL window never reaches Steam. It is safe for
// concurrent use.
type Dedup struct {
	seen  map[string]time.Time // confirmation ID -> resolved at
	ttl   time.Duration
	clock clock.Clock
	mu    sync.Mutex
}

// NewDedup creates a Dedup that treats an ID as resolved for ttl.
func NewDedup(ttl time.Duration, clk clock.Clock) *Dedup {
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clk,
	}
}

// IsDuplicate returns true if id was recorded within the TTL window.
// Otherwise it records id and returns false.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Seen reports whether id was recorded within the TTL window without
// recording it.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	lastSeen, ok := d.seen[id]
	return ok && d.clock.Now().Sub(lastSeen) < d.ttl
}

// Forget drops id, used when a resolve attempt failed and may be retried.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

// Cleanup removes entries that have expired beyond the TTL.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
