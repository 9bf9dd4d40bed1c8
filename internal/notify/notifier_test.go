package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventDealCompleted, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventDealFound, "found", ""))
	require.NoError(t, n.Notify(context.Background(), EventDealCompleted, "done", ""))
	require.NoError(t, n.NotifyAll(context.Background(), "always", ""))

	assert.Equal(t, []string{"done", "always"}, s.titles)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventEngineError, "err", ""))
	assert.Len(t, s.titles, 1)
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventDealFailed, "failed", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNilNotifierIsNoop(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventDealFound, "x", "y"))
	assert.NoError(t, n.NotifyAll(context.Background(), "x", "y"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "A<B", "body"))

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>A&lt;B</b>\nbody", got["text"])
	assert.Equal(t, "telegram", s.Name())
}

func TestTelegramSenderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender("T", "1").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramSenderHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewTelegramSender("T", "1").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDiscordSenderConvertsAndTruncates(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", "Item: <code>AK</code> &amp; more"))
	assert.Equal(t, "**Title**\nItem: `AK` & more", got["content"])

	require.NoError(t, s.Send(context.Background(), "Long", strings.Repeat("x", 3000)))
	assert.Len(t, got["content"], discordContentLimit)
	assert.True(t, strings.HasSuffix(got["content"], "..."))
}

func TestDealMessages(t *testing.T) {
	d := domain.Deal{
		ItemName:      "Tempered AK47",
		SourceMarket:  domain.MarketDmarket,
		TargetMarket:  domain.MarketLootFarm,
		BuyPrice:      1.00,
		SellPrice:     1.30,
		SpreadPercent: 30,
		SpreadUSD:     0.30,
	}

	title, msg := DealFound(d)
	assert.Equal(t, "Deal found", title)
	assert.Contains(t, msg, "Spread: 30.00% ($0.30)")

	title, msg = DealCompleted(domain.DealResult{Deal: d, Success: true, Profit: 0.17, DurationSeconds: 95})
	assert.Equal(t, "Trade completed", title)
	assert.Contains(t, msg, "Profit: $0.17")
	assert.Contains(t, msg, "Time: 1m 35s")

	_, msg = DealFailed(domain.DealResult{Deal: d, FailedStep: domain.StateBuying, Error: "BuyFailed: no offer"})
	assert.Contains(t, msg, "Step: buying")
	assert.Contains(t, msg, "Route: Dmarket -> LootFarm")
}

func TestStatsMessages(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := domain.EngineStats{
		TotalTrades:    4,
		SuccessCount:   3,
		FailCount:      1,
		TotalProfit:    0.9,
		TokensConsumed: 120,
		StartedAt:      start,
		Running:        true,
	}

	_, msg := DailyStats(s, start.Add(2*time.Hour+5*time.Minute))
	assert.Contains(t, msg, "Success rate: 75.0%")
	assert.Contains(t, msg, "Avg profit: $0.30")
	assert.Contains(t, msg, "Tokens used: 120/10000")
	assert.Contains(t, msg, "Uptime: 2h 5m")

	_, msg = Balances(map[string]float64{"LootFarm": 2, "Dmarket": 3, "total": 5}, s)
	lines := strings.Split(msg, "\n")
	assert.Equal(t, "Dmarket: $3.00", lines[0])
	assert.Equal(t, "LootFarm: $2.00", lines[1])
	assert.Equal(t, "Total balance: $5.00", lines[2])
	assert.Equal(t, "Status: running", lines[3])
}
