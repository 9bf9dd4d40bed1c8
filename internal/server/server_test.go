package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/server/handler"
	"github.com/alanyoungcy/skinarb/internal/server/ws"
)

type fakeEngine struct {
	mu       sync.Mutex
	stats    domain.EngineStats
	state    domain.EngineState
	startErr error
	actions  []string
}

func (f *fakeEngine) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.stats.Running = true
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "stop")
	f.stats.Running = false
}

func (f *fakeEngine) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "pause")
	f.stats.Paused = true
}

func (f *fakeEngine) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "resume")
	f.stats.Paused = false
}

func (f *fakeEngine) Stats() domain.EngineStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeEngine) State() domain.EngineState { return f.state }
func (f *fakeEngine) LastError() string         { return "" }

type fakeDeals struct {
	results []domain.DealResult
	opts    domain.ListOpts
}

func (f *fakeDeals) Create(context.Context, domain.DealResult) error { return nil }

func (f *fakeDeals) GetByID(_ context.Context, id string) (domain.DealResult, error) {
	for _, r := range f.results {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.DealResult{}, domain.ErrNotFound
}

func (f *fakeDeals) List(_ context.Context, opts domain.ListOpts) ([]domain.DealResult, error) {
	f.opts = opts
	return f.results, nil
}

func (f *fakeDeals) ListBefore(context.Context, time.Time) ([]domain.DealResult, error) {
	return nil, nil
}

func (f *fakeDeals) SumProfit(context.Context, time.Time) (float64, error) { return 0, nil }

type fakeBalances struct {
	err error
}

func (f fakeBalances) Balances(context.Context) (map[string]domain.Balance, error) {
	return map[string]domain.Balance{
		domain.MarketDmarket: {USD: 12.5},
		"total":              {USD: 12.5},
	}, f.err
}

type fakeConfirmations struct {
	pending  []domain.ConfirmationRequest
	err      error
	resolved int
	denied   int
}

func (f *fakeConfirmations) FetchPending(context.Context) ([]domain.ConfirmationRequest, error) {
	return f.pending, f.err
}

func (f *fakeConfirmations) ResolveAll(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.resolved++
	return len(f.pending), nil
}

func (f *fakeConfirmations) DenyAll(context.Context) (int, error) {
	f.denied++
	return len(f.pending), nil
}

type fakeCodes struct{}

func (fakeCodes) CurrentCode(context.Context) (domain.RotatingCode, time.Time, error) {
	from := time.Unix(1_700_000_010, 0)
	return domain.RotatingCode{Value: "2BC4D", ValidFrom: from, ValidFor: 30 * time.Second},
		from.Add(12500 * time.Millisecond), nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func (f *fakeLimiter) Wait(context.Context, string) error { return nil }

type fakeRecorder struct {
	mu     sync.Mutex
	routes []string
	codes  []int
}

func (f *fakeRecorder) RecordRequest(_, route string, status int, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route)
	f.codes = append(f.codes, status)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type harness struct {
	engine        *fakeEngine
	deals         *fakeDeals
	confirmations *fakeConfirmations
	server        *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config, opts Options, checks map[string]handler.Pinger) *harness {
	t.Helper()
	logger := discardLogger()
	h := &harness{
		engine: &fakeEngine{state: domain.StateIdle},
		deals: &fakeDeals{results: []domain.DealResult{
			{ID: "r1", Success: true, Profit: 0.3},
			{ID: "r2", Error: "SellFailed: rejected", FailedStep: domain.StateSelling},
		}},
		confirmations: &fakeConfirmations{pending: []domain.ConfirmationRequest{{ID: "c1", KindName: "trade"}}},
	}
	handlers := Handlers{
		Health:        handler.NewHealthHandler(checks, logger),
		Engine:        handler.NewEngineHandler(h.engine, logger),
		Deals:         handler.NewDealHandler(h.deals, logger),
		Balances:      handler.NewBalanceHandler(fakeBalances{}, logger),
		Confirmations: handler.NewConfirmationHandler(h.confirmations, logger),
		Guard:         handler.NewGuardHandler(fakeCodes{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	}
	h.server = httptest.NewServer(newHandler(cfg, handlers, opts, logger))
	t.Cleanup(h.server.Close)
	return h
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)
	resp, body := do(t, http.MethodGet, h.server.URL+"/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	h = newTestServer(t, Config{}, Options{}, map[string]handler.Pinger{"redis": failingPinger{}})
	resp, body = do(t, http.MethodGet, h.server.URL+"/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "connection refused", deps["redis"])
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "s3cret"}, Options{}, nil)

	resp, body := do(t, http.MethodGet, h.server.URL+"/api/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing authentication token", body["error"])

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/stats", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/stats", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/state", "", map[string]string{"X-API-Key": "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/api/health", "/metrics"} {
		resp, _ = do(t, http.MethodGet, h.server.URL+path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestEngineControl(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)

	resp, body := do(t, http.MethodPost, h.server.URL+"/api/engine/start", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "idle", body["state"])

	resp, body = do(t, http.MethodPost, h.server.URL+"/api/engine/pause", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["paused"])

	do(t, http.MethodPost, h.server.URL+"/api/engine/resume", "", nil)
	do(t, http.MethodPost, h.server.URL+"/api/engine/stop", "", nil)
	assert.Equal(t, []string{"start", "pause", "resume", "stop"}, h.engine.actions)

	resp, _ = do(t, http.MethodPost, h.server.URL+"/api/engine/explode", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/engine/start", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	h.engine.startErr = errors.New("identity not loaded")
	resp, body = do(t, http.MethodPost, h.server.URL+"/api/engine/start", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "identity not loaded", body["error"])
}

func TestStats(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)
	h.engine.stats = domain.EngineStats{TotalTrades: 4, SuccessCount: 3, FailCount: 1, TotalProfit: 0.9}

	resp, body := do(t, http.MethodGet, h.server.URL+"/api/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["total_trades"])
	assert.InDelta(t, 75.0, body["success_rate"], 1e-9)
	assert.InDelta(t, 0.3, body["avg_profit"], 1e-9)
	assert.EqualValues(t, 0, body["uptime_seconds"])
}

func TestDeals(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)

	resp, body := do(t, http.MethodGet, h.server.URL+"/api/deals?limit=1000&offset=5&since=2026-01-01T00:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["deals"], 2)
	assert.Equal(t, 500, h.deals.opts.Limit)
	assert.Equal(t, 5, h.deals.opts.Offset)
	require.NotNil(t, h.deals.opts.Since)
	assert.Nil(t, h.deals.opts.Until)

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/deals?until=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, h.server.URL+"/api/deals/r2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "selling", body["failed_step"])

	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/deals/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDealsWithoutStore(t *testing.T) {
	logger := discardLogger()
	srv := httptest.NewServer(newHandler(Config{}, Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Engine: handler.NewEngineHandler(&fakeEngine{}, logger),
		Deals:  handler.NewDealHandler(nil, logger),
	}, Options{}, logger))
	defer srv.Close()

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/deals", "", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/balances", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBalances(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)
	resp, body := do(t, http.MethodGet, h.server.URL+"/api/balances", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balances := body["balances"].(map[string]any)
	assert.Contains(t, balances, "total")
	assert.NotContains(t, body, "errors")
}

func TestConfirmations(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)

	resp, body := do(t, http.MethodGet, h.server.URL+"/api/confirmations", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["confirmations"], 1)

	resp, body = do(t, http.MethodPost, h.server.URL+"/api/confirmations/resolve", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["resolved"])
	assert.Equal(t, true, body["approve"])
	assert.Equal(t, 1, h.confirmations.resolved)

	resp, body = do(t, http.MethodPost, h.server.URL+"/api/confirmations/resolve", `{"approve":false}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["approve"])
	assert.Equal(t, 1, h.confirmations.denied)

	resp, _ = do(t, http.MethodPost, h.server.URL+"/api/confirmations/resolve", `{"approve":"yes"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.confirmations.err = domain.ErrAuthExpired
	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/confirmations", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGuardCode(t *testing.T) {
	h := newTestServer(t, Config{}, Options{}, nil)
	resp, body := do(t, http.MethodGet, h.server.URL+"/api/guard/code", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2BC4D", body["code"])
	assert.EqualValues(t, 18, body["seconds_left"])
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	h := newTestServer(t, Config{RateLimit: 10}, Options{Limiter: limiter}, nil)

	resp, body := do(t, http.MethodGet, h.server.URL+"/api/stats", "", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "6", resp.Header.Get("Retry-After"))
	assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, []string{"api:203.0.113.7"}, limiter.keys)

	limiter.err = errors.New("redis down")
	resp, _ = do(t, http.MethodGet, h.server.URL+"/api/stats", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "limiter errors fail open")
}

func TestMetricsAndCORS(t *testing.T) {
	rec := &fakeRecorder{}
	h := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example"}}, Options{Recorder: rec}, nil)

	resp, _ := do(t, http.MethodGet, h.server.URL+"/api/deals/r1", "", map[string]string{"Origin": "https://dash.example"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))

	assert.Equal(t, "Origin", resp.Header.Get("Vary"))

	resp, _ = do(t, http.MethodOptions, h.server.URL+"/api/engine/start", "", map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.routes)
	assert.Equal(t, "GET /api/deals/{id}", rec.routes[0])
	assert.Equal(t, http.StatusOK, rec.codes[0])
}

type chanBus struct {
	channels map[string]chan []byte
}

func newChanBus(names ...string) *chanBus {
	b := &chanBus{channels: make(map[string]chan []byte)}
	for _, n := range names {
		b.channels[n] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.channels[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch, ok := b.channels[channel]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestWebSocketBridgesBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus(domain.ChannelDeal, domain.ChannelDealResult, domain.ChannelConfirmation, domain.ChannelStatus)
	engine := &fakeEngine{state: domain.StateSearching, stats: domain.EngineStats{Running: true}}
	hub := ws.NewHub(bus, engine, discardLogger(), ws.Config{Mode: "server"})
	go func() { _ = hub.Run(ctx) }()

	h := newTestServer(t, Config{APIKey: "k"}, Options{Hub: hub}, nil)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?api_key=k"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var status struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "bot_status", status.Type)
	assert.Equal(t, "searching", status.Payload["state"])
	assert.Equal(t, "server", status.Payload["mode"])

	require.NoError(t, bus.Publish(ctx, domain.ChannelDeal, []byte(`{"id":"d1","item_name":"Tempered AK47"}`)))

	var frame struct {
		Type    string         `json:"type"`
		Channel string         `json:"channel"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "deal", frame.Type)
	assert.Equal(t, domain.ChannelDeal, frame.Channel)
	assert.Equal(t, "Tempered AK47", frame.Payload["item_name"])
}

func TestWebSocketRequiresKey(t *testing.T) {
	hub := ws.NewHub(newChanBus(), nil, discardLogger(), ws.Config{})
	h := newTestServer(t, Config{APIKey: "k"}, Options{Hub: hub}, nil)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
