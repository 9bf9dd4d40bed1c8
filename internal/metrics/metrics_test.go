package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/metrics"
)

func TestTradingCollector(t *testing.T) {
	metrics.InitRegistry()
	t.Cleanup(func() { metrics.Registry = nil })

	c := metrics.NewTradingCollector()
	require.NoError(t, c.Register())

	c.RecordDeal(domain.DealResult{Success: true, Profit: 0.3, DurationSeconds: 60})
	c.RecordDeal(domain.DealResult{FailedStep: domain.StateBuying, DurationSeconds: 1})
	c.RecordScan("found", 0.4)
	c.SetTokensConsumed(12)
	c.RecordConfirmation("Trade Offer")

	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	var series int
	for _, f := range families {
		if f.GetName() == "skinarb_engine_deals_total" {
			series = len(f.GetMetric())
		}
	}
	assert.Equal(t, 2, series)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `skinarb_engine_deals_total{failed_step="buying",result="failure"} 1`)
	assert.Contains(t, body, "skinarb_engine_price_tokens_consumed 12")
	assert.Contains(t, body, `skinarb_engine_confirmations_resolved_total{kind="Trade Offer"} 1`)
}

func TestDisabledRegistry(t *testing.T) {
	metrics.Registry = nil
	assert.False(t, metrics.IsEnabled())
	assert.NoError(t, metrics.NewHTTPCollector().Register())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
