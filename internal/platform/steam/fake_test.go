package steam_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
)

const testSteamID = "76561198000000001"

var testStart = time.Unix(1609459200, 0).UTC()

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialSecret() []byte {
	b := make([]byte, 20)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func testIdentity() domain.Identity {
	return domain.Identity{
		AccountName:    "trader",
		SteamID:        testSteamID,
		SharedSecret:   sequentialSecret(),
		IdentitySecret: sequentialSecret(),
		DeviceID:       "android:0000-1111",
		AccessToken:    "old-token",
		RefreshToken:   "refresh-token",
	}
}

type pendingConf struct {
	ID       string `json:"id"`
	Nonce    string `json:"nonce"`
	Type     int    `json:"type"`
	TypeName string `json:"type_name"`
	Headline string `json:"headline"`
}

// fakeSteam serves the mobileconf endpoints from an in-memory list.
type fakeSteam struct {
	mu         sync.Mutex
	pending    []pendingConf
	needAuth   int // remaining needauth answers, -1 for always
	failOps    bool
	throttle   int // remaining 429 answers
	serverTime int64
	listCalls  int
	opCalls    int
	lastQuery  map[string]string
	lastCookie string
	ops        []string

	offerPage  string
	acceptBody string
	acceptForm map[string]string
	acceptRef  string
}

func (f *fakeSteam) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mobileconf/getlist", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listCalls++
		f.record(r)
		if f.throttle > 0 {
			f.throttle--
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if f.needAuth != 0 {
			if f.needAuth > 0 {
				f.needAuth--
			}
			writeJSON(w, map[string]any{"success": false, "needauth": true})
			return
		}
		writeJSON(w, map[string]any{"success": true, "conf": f.pending})
	})
	mux.HandleFunc("GET /mobileconf/ajaxop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opCalls++
		f.record(r)
		q := r.URL.Query()
		f.ops = append(f.ops, q.Get("op"))
		if f.failOps {
			writeJSON(w, map[string]any{"success": false})
			return
		}
		for i, p := range f.pending {
			if p.ID == q.Get("cid") && p.Nonce == q.Get("ck") {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				writeJSON(w, map[string]any{"success": true})
				return
			}
		}
		writeJSON(w, map[string]any{"success": false})
	})
	mux.HandleFunc("POST /ITwoFactorService/QueryTime/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"response": map[string]any{
			"server_time": strconv.FormatInt(f.serverTime, 10),
		}})
	})
	mux.HandleFunc("GET /tradeoffer/{id}/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-from-page"})
		_, _ = w.Write([]byte(f.offerPage))
	})
	mux.HandleFunc("POST /tradeoffer/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = r.ParseForm()
		f.acceptForm = map[string]string{}
		for k := range r.PostForm {
			f.acceptForm[k] = r.PostForm.Get(k)
		}
		if ck, err := r.Cookie("sessionid"); err == nil {
			f.acceptForm["cookie_sessionid"] = ck.Value
		}
		f.acceptRef = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.acceptBody))
	})
	return mux
}

func (f *fakeSteam) record(r *http.Request) {
	f.lastQuery = map[string]string{}
	for k := range r.URL.Query() {
		f.lastQuery[k] = r.URL.Query().Get(k)
	}
	if ck, err := r.Cookie("steamLoginSecure"); err == nil {
		f.lastCookie = ck.Value
	}
}

func (f *fakeSteam) snapshot() (listCalls, opCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.opCalls
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fakeRefresher struct {
	calls atomic.Int32
	token string
	err   error
}

func (r *fakeRefresher) Refresh(ctx context.Context, id domain.Identity) (string, error) {
	r.calls.Add(1)
	return r.token, r.err
}

type memoryStore struct {
	mu     sync.Mutex
	tokens []string
}

func (s *memoryStore) Load() (domain.Identity, error) { return testIdentity(), nil }

func (s *memoryStore) SaveAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	return nil
}

type harness struct {
	fake      *fakeSteam
	clock     *clock.MockClock
	refresher *fakeRefresher
	store     *memoryStore
	client    *steam.ConfirmationClient
}

func newHarness(t *testing.T, pending ...pendingConf) *harness {
	t.Helper()
	fake := &fakeSteam{pending: pending, serverTime: testStart.Unix()}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	clk := clock.NewMockClock(testStart)
	refresher := &fakeRefresher{token: "new-token"}
	store := &memoryStore{}

	cfg := steam.DefaultConfig()
	cfg.CommunityURL = srv.URL
	times := steam.NewTimeSource(srv.URL, srv.Client(), clk, discardLogger())

	client := steam.NewConfirmationClient(cfg, testIdentity(), store, refresher, times, srv.Client(), clk, discardLogger())
	return &harness{fake: fake, clock: clk, refresher: refresher, store: store, client: client}
}

func trade(id string) pendingConf {
	return pendingConf{ID: id, Nonce: "n" + id, Type: domain.ConfirmationKindTrade, TypeName: "Trade Offer", Headline: "item " + id}
}
