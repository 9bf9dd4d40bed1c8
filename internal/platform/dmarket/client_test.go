package dmarket_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform/dmarket"
)

var testNow = time.Unix(1700000000, 0)

func testKey() (string, ed25519.PublicKey) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = 0x01
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return hex.EncodeToString(priv), priv.Public().(ed25519.PublicKey)
}

// verifySignature checks the request was signed over method, path, query,
// body and timestamp.
func verifySignature(t *testing.T, r *http.Request, body []byte, pub ed25519.PublicKey) {
	t.Helper()
	assert.Equal(t, "public-key", r.Header.Get("X-Api-Key"))
	assert.Equal(t, "1700000000", r.Header.Get("X-Sign-Date"))

	sign := r.Header.Get("X-Request-Sign")
	if !assert.True(t, strings.HasPrefix(sign, "dmar ed25519 ")) {
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sign, "dmar ed25519 "))
	assert.NoError(t, err)

	message := r.Method + r.URL.RequestURI() + string(body) + r.Header.Get("X-Sign-Date")
	assert.True(t, ed25519.Verify(pub, []byte(message), sig), "signature over %q", message)
}

func newClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request, body []byte)) (*dmarket.Client, *clock.MockClock) {
	t.Helper()
	privHex, pub := testKey()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verifySignature(t, r, body, pub)
		h(w, r, body)
	}))
	t.Cleanup(srv.Close)

	clk := clock.NewMockClock(testNow)
	c, err := dmarket.NewClient(dmarket.Config{
		BaseURL:           srv.URL,
		PublicKey:         "public-key",
		PrivateKey:        privHex,
		RequestsPerSecond: 1000,
	}, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	c.SetHTTPClient(srv.Client())
	return c, clk
}

func TestNewClient_InvalidKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := dmarket.NewClient(dmarket.Config{PrivateKey: "abc"}, clock.NewMockClock(testNow), logger)
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)

	_, err = dmarket.NewClient(dmarket.Config{PrivateKey: strings.Repeat("zz", 32)}, clock.NewMockClock(testNow), logger)
	assert.ErrorIs(t, err, domain.ErrInvalidSecret)
}

func TestBalance(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, "/account/v1/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"usd":"1234","dmc":"50","usdAvailableToWithdraw":"1000"}`))
	})

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 12.34, bal.USD, 1e-9)
	assert.InDelta(t, 0.50, bal.DMC, 1e-9)
	assert.Equal(t, domain.MarketDmarket, c.Name())
}

func TestInventory(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, "/exchange/v1/user/items", r.URL.Path)
		assert.Equal(t, "rust", r.URL.Query().Get("gameId"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"objects":[
			{"itemId":"i-1","title":"Tempered AK47","price":{"USD":"130"},"extra":{"linkId":"l-1","tradable":true}},
			{"itemId":"i-2","title":"Big Grin","price":{"USD":"75"},"extra":{}}
		]}`))
	})

	items, err := c.Inventory(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.Item{ID: "i-1", Title: "Tempered AK47", PriceUSD: 1.30, Tradable: true, LinkID: "l-1"}, items[0])
	assert.False(t, items[1].Tradable)
}

func TestSearchByName(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		q := r.URL.Query()
		assert.Equal(t, "/exchange/v1/market/items", r.URL.Path)
		assert.Equal(t, "Tempered AK47", q.Get("title"))
		assert.Equal(t, "0", q.Get("priceFrom"))
		assert.Equal(t, "100000", q.Get("priceTo"))
		assert.Equal(t, "price", q.Get("orderBy"))
		assert.Equal(t, "asc", q.Get("orderDir"))
		_, _ = w.Write([]byte(`{"objects":[
			{"title":"Tempered AK47","price":{"USD":"101"},"extra":{"offerId":"o-1"}},
			{"title":"Tempered AK47","price":{"USD":"140"},"extra":{"offerId":"o-2"}},
			{"title":"Tempered AK47","price":{"USD":"99"},"extra":{}}
		]}`))
	})

	offers, err := c.SearchByName(context.Background(), "Tempered AK47")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "o-1", offers[0].ID)
	assert.InDelta(t, 1.01, offers[0].PriceUSD, 1e-9)
}

func TestBuy(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/exchange/v1/offers-buy", r.URL.Path)
		assert.JSONEq(t, `{"offers":[{"offerId":"o-1","price":{"amount":"105","currency":"USD"}}]}`, string(body))
		_, _ = w.Write([]byte(`{"orderId":"ord","status":"TxPending","txId":"tx-9"}`))
	})

	tx, err := c.Buy(context.Background(), "o-1", 1.05)
	require.NoError(t, err)
	assert.Equal(t, "tx-9", tx)
}

func TestSell(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/marketplace-api/v1/user-offers/create", r.URL.Path)
		assert.JSONEq(t, `{"Offers":[{"AssetID":"l-1","Price":{"Currency":"USD","Amount":"124"}}]}`, string(body))
		_, _ = w.Write([]byte(`{"Result":[{"CreateOffer":{"AssetID":"l-1","OfferID":"s-1"}}]}`))
	})

	ref, err := c.Sell(context.Background(), "l-1", 1.235)
	require.NoError(t, err)
	assert.Equal(t, "s-1", ref)
}

func TestSell_EmptyResult(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{"Result":[]}`))
	})

	ref, err := c.Sell(context.Background(), "l-1", 1)
	require.NoError(t, err)
	assert.Empty(t, ref)
}

func TestUserOffersAndCancel(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		assert.Equal(t, "/marketplace-api/v1/user-offers", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "OfferStatusActive", r.URL.Query().Get("Status"))
			_, _ = w.Write([]byte(`{"Items":[{"OfferID":"s-1","Title":"Big Grin","Price":{"USD":"80"}}]}`))
		case http.MethodDelete:
			assert.JSONEq(t, `{"OfferID":["s-1"]}`, string(body))
			_, _ = w.Write([]byte(`{}`))
		}
	})

	offers, err := c.UserOffers(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.InDelta(t, 0.80, offers[0].PriceUSD, 1e-9)

	require.NoError(t, c.CancelOffer(context.Background(), "s-1"))
}

func TestWithdrawAndDeposit(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch r.URL.Path {
		case "/exchange/v1/withdraw-assets":
			var req struct {
				Assets []struct {
					ID string `json:"id"`
				} `json:"assets"`
				RequestID string `json:"requestId"`
			}
			assert.NoError(t, json.Unmarshal(body, &req))
			if assert.Len(t, req.Assets, 2) {
				assert.Equal(t, "i-1", req.Assets[0].ID)
			}
			assert.Len(t, req.RequestID, 36)
			_, _ = w.Write([]byte(`{"transferId":"tr-1"}`))
		case "/marketplace-api/v1/deposit-assets":
			assert.JSONEq(t, `{"AssetID":["steam-1"]}`, string(body))
			_, _ = w.Write([]byte(`{"operationId":"op-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tr, err := c.Withdraw(context.Background(), []string{"i-1", "i-2"})
	require.NoError(t, err)
	assert.Equal(t, "tr-1", tr)

	op, err := c.Deposit(context.Background(), []string{"steam-1"})
	require.NoError(t, err)
	assert.Equal(t, "op-1", op)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusServiceUnavailable, domain.ErrTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Balance(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetriesThrottleOnce(t *testing.T) {
	var calls atomic.Int32
	c, clk := newClient(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"usd":"100"}`))
	})

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, bal.USD, 1e-9)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
}
