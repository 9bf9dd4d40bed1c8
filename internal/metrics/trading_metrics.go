package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// TradingCollector records deal execution, price scans and confirmations.
type TradingCollector struct {
	dealsTotal            *prometheus.CounterVec
	dealProfit            prometheus.Histogram
	dealDuration          prometheus.Histogram
	scansTotal            *prometheus.CounterVec
	scanDuration          prometheus.Histogram
	tokensConsumed        prometheus.Gauge
	confirmationsResolved *prometheus.CounterVec
}

// NewTradingCollector creates a new trading metrics collector
func NewTradingCollector() *TradingCollector {
	return &TradingCollector{
		// Deals by outcome and the step that failed
		dealsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deals_total",
				Help:      "Total number of executed deals by result and failed step",
			},
			[]string{"result", "failed_step"},
		),

		dealProfit: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deal_profit_usd",
				Help:      "Profit per successful deal in USD",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),

		dealDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deal_duration_seconds",
				Help:      "Wall time of a deal from buy to record",
				Buckets:   []float64{1, 10, 30, 60, 120, 300, 600},
			},
		),

		// Price scans by outcome: found, none, quota, error
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "scans_total",
				Help:      "Total number of best-deal scans by outcome",
			},
			[]string{"outcome"},
		),

		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "scan_duration_seconds",
				Help:      "Duration of a best-deal scan across all market pairs",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),

		tokensConsumed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "price_tokens_consumed",
				Help:      "Price service tokens consumed since start",
			},
		),

		confirmationsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "confirmations_resolved_total",
				Help:      "Mobile confirmations resolved by kind",
			},
			[]string{"kind"},
		),
	}
}

// Register registers all trading metrics with the Prometheus registry
func (c *TradingCollector) Register() error {
	return register(
		c.dealsTotal,
		c.dealProfit,
		c.dealDuration,
		c.scansTotal,
		c.scanDuration,
		c.tokensConsumed,
		c.confirmationsResolved,
	)
}

// RecordDeal records a finished deal.
func (c *TradingCollector) RecordDeal(r domain.DealResult) {
	result := "success"
	if !r.Success {
		result = "failure"
	}
	c.dealsTotal.WithLabelValues(result, string(r.FailedStep)).Inc()
	c.dealDuration.Observe(r.DurationSeconds)
	if r.Success {
		c.dealProfit.Observe(r.Profit)
	}
}

// RecordScan records one best-deal scan.
func (c *TradingCollector) RecordScan(outcome string, seconds float64) {
	c.scansTotal.WithLabelValues(outcome).Inc()
	c.scanDuration.Observe(seconds)
}

// SetTokensConsumed publishes the price service token counter.
func (c *TradingCollector) SetTokensConsumed(n int64) {
	c.tokensConsumed.Set(float64(n))
}

// RecordConfirmation counts one resolved confirmation.
func (c *TradingCollector) RecordConfirmation(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	c.confirmationsResolved.WithLabelValues(kind).Inc()
}
