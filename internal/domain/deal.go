package domain

import "time"

// Deal is a selected arbitrage opportunity. Immutable once created.
type Deal struct {
	ID            string    `json:"id"`
	ItemName      string    `json:"item_name"`
	SourceMarket  string    `json:"source_market"`
	TargetMarket  string    `json:"target_market"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	SpreadPercent float64   `json:"spread_percent"`
	SpreadUSD     float64   `json:"spread_usd"`
	CreatedAt     time.Time `json:"created_at"`
}

// Eligible reports whether the deal may be executed.
func (d Deal) Eligible() bool {
	return d.SpreadPercent > 0
}

// EngineState is a step of the execution state machine.
type EngineState string

const (
	StateIdle                     EngineState = "idle"
	StateSearching                EngineState = "searching"
	StateBuying                   EngineState = "buying"
	StateAwaitingBuyConfirmation  EngineState = "awaiting_buy_confirmation"
	StateAwaitingSettlement       EngineState = "awaiting_settlement"
	StateSelling                  EngineState = "selling"
	StateAwaitingSellConfirmation EngineState = "awaiting_sell_confirmation"
	StateRecording                EngineState = "recording"
	StateFailed                   EngineState = "failed"
)

// DealResult is the append-only record of one execution attempt.
type DealResult struct {
	ID                string      `json:"id"`
	Deal              Deal        `json:"deal"`
	Success           bool        `json:"success"`
	Profit            float64     `json:"profit"`
	Error             string      `json:"error,omitempty"`
	FailedStep        EngineState `json:"failed_step,omitempty"`
	BuyReference      string      `json:"buy_reference,omitempty"`
	SellReference     string      `json:"sell_reference,omitempty"`
	BuyConfirmations  int         `json:"buy_confirmations"`
	SellConfirmations int         `json:"sell_confirmations"`
	DurationSeconds   float64     `json:"duration_seconds"`
	StartedAt         time.Time   `json:"started_at"`
	CompletedAt       time.Time   `json:"completed_at"`
}

// EngineStats is a snapshot of the engine's running counters.
type EngineStats struct {
	TotalTrades    int64     `json:"total_trades"`
	SuccessCount   int64     `json:"success_count"`
	FailCount      int64     `json:"fail_count"`
	TotalProfit    float64   `json:"total_profit"`
	TotalVolume    float64   `json:"total_volume"`
	TokensConsumed int64     `json:"tokens_consumed"`
	StartedAt      time.Time `json:"started_at"`
	LastTradeAt    time.Time `json:"last_trade_at"`
	Running        bool      `json:"running"`
	Paused         bool      `json:"paused"`
}

// AvgProfit is the mean profit per successful trade.
func (s EngineStats) AvgProfit() float64 {
	if s.SuccessCount == 0 {
		return 0
	}
	return s.TotalProfit / float64(s.SuccessCount)
}

// SuccessRate is the percentage of successful trades.
func (s EngineStats) SuccessRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalTrades) * 100
}

// Uptime is the time since the engine started, zero if it never did.
func (s EngineStats) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
