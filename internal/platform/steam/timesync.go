package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/platform"
)

// TimeSource reports Steam server time. The offset between the local clock
// and Steam is queried once and cached; if Steam is unreachable the local
// clock is used unchanged.
type TimeSource struct {
	apiURL string
	tr     *transport
	clock  clock.Clock
	logger *slog.Logger

	once   sync.Once
	mu     sync.RWMutex
	offset time.Duration
}

// NewTimeSource creates a TimeSource querying apiURL (DefaultAPIURL when
// empty).
func NewTimeSource(apiURL string, hc *http.Client, clk clock.Clock, logger *slog.Logger) *TimeSource {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &TimeSource{
		apiURL: apiURL,
		tr:     newTransport(hc, clk, 2*time.Second),
		clock:  clk,
		logger: logger.With(slog.String("component", "steam_time")),
	}
}

// Now returns the current Steam server time.
func (t *TimeSource) Now(ctx context.Context) time.Time {
	t.once.Do(func() { t.sync(ctx) })
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clock.Now().Add(t.offset)
}

// Offset returns the cached server-minus-local offset.
func (t *TimeSource) Offset() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset
}

// Resync discards the cached offset and queries Steam again.
func (t *TimeSource) Resync(ctx context.Context) {
	t.sync(ctx)
}

func (t *TimeSource) sync(ctx context.Context) {
	serverTime, err := t.queryServerTime(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "server time unavailable, using local clock", slog.String("error", err.Error()))
		return
	}
	offset := time.Unix(serverTime, 0).Sub(t.clock.Now()).Round(time.Second)

	t.mu.Lock()
	t.offset = offset
	t.mu.Unlock()

	t.logger.DebugContext(ctx, "server time synced", slog.Duration("offset", offset))
}

func (t *TimeSource) queryServerTime(ctx context.Context) (int64, error) {
	resp, err := t.tr.do(ctx, request{
		method: http.MethodPost,
		url:    t.apiURL + "/ITwoFactorService/QueryTime/v1/",
		form:   url.Values{"steamid": {"0"}},
	})
	if err != nil {
		return 0, fmt.Errorf("steam: query time: %w", err)
	}

	var body queryTimeResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return 0, fmt.Errorf("steam: decode query time: %w", err)
	}
	if err := platform.Validate(body); err != nil {
		return 0, fmt.Errorf("steam: query time: %w", err)
	}
	return strconv.ParseInt(body.Response.ServerTime, 10, 64)
}
