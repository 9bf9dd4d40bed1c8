package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// DailyTokenQuota is the price-service allowance shown in stats reports.
const DailyTokenQuota = 10000

// DealFound formats an alert for a newly selected deal.
func DealFound(d domain.Deal) (title, message string) {
	title = "Deal found"
	message = fmt.Sprintf(
		"Item: <code>%s</code>\nBuy: %s @ $%.2f\nSell: %s @ $%.2f\nSpread: %.2f%% ($%.2f)",
		escapeHTML(d.ItemName),
		d.SourceMarket, d.BuyPrice,
		d.TargetMarket, d.SellPrice,
		d.SpreadPercent, d.SpreadUSD,
	)
	return title, message
}

// DealCompleted formats an alert for a successful execution.
func DealCompleted(res domain.DealResult) (title, message string) {
	d := res.Deal
	title = "Trade completed"
	message = fmt.Sprintf(
		"Item: <code>%s</code>\nBought: %s @ $%.2f\nSold: %s @ $%.2f\nSpread: %.2f%%\nProfit: $%.2f\nTime: %s",
		escapeHTML(d.ItemName),
		d.SourceMarket, d.BuyPrice,
		d.TargetMarket, d.SellPrice,
		d.SpreadPercent,
		res.Profit,
		formatDuration(time.Duration(res.DurationSeconds*float64(time.Second))),
	)
	return title, message
}

// DealFailed formats an alert for an execution that stopped at a step.
func DealFailed(res domain.DealResult) (title, message string) {
	d := res.Deal
	title = "Trade failed"
	message = fmt.Sprintf(
		"Item: <code>%s</code>\nRoute: %s -> %s\nStep: %s\nError: %s",
		escapeHTML(d.ItemName),
		d.SourceMarket, d.TargetMarket,
		res.FailedStep,
		escapeHTML(res.Error),
	)
	return title, message
}

// EngineError formats an alert for an error that stopped or paused the engine.
func EngineError(err error) (title, message string) {
	return "Engine error", escapeHTML(err.Error())
}

// EngineState formats an alert for a run state change (started, paused...).
func EngineState(state string) (title, message string) {
	return "Engine " + state, fmt.Sprintf("The trading engine is now %s.", state)
}

// DailyStats formats the periodic statistics report.
func DailyStats(s domain.EngineStats, now time.Time) (title, message string) {
	title = "Trading statistics"
	var b strings.Builder
	fmt.Fprintf(&b, "Trades: %d\n", s.TotalTrades)
	fmt.Fprintf(&b, "Successful: %d\n", s.SuccessCount)
	fmt.Fprintf(&b, "Failed: %d\n", s.FailCount)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(&b, "Total profit: $%.2f\n", s.TotalProfit)
	fmt.Fprintf(&b, "Avg profit: $%.2f\n", s.AvgProfit())
	fmt.Fprintf(&b, "Volume: $%.2f\n", s.TotalVolume)
	fmt.Fprintf(&b, "Tokens used: %d/%d\n", s.TokensConsumed, DailyTokenQuota)
	fmt.Fprintf(&b, "Uptime: %s", formatDuration(s.Uptime(now)))
	return title, b.String()
}

// Balances formats a status report with per-market balances. The "total"
// key, when present, is printed last.
func Balances(balances map[string]float64, s domain.EngineStats) (title, message string) {
	title = "Bot status"
	names := make([]string, 0, len(balances))
	for name := range balances {
		if name != "total" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: $%.2f\n", name, balances[name])
	}
	if total, ok := balances["total"]; ok {
		fmt.Fprintf(&b, "Total balance: $%.2f\n", total)
	}
	status := "stopped"
	switch {
	case s.Running && s.Paused:
		status = "paused"
	case s.Running:
		status = "running"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Profit: $%.2f\n", s.TotalProfit)
	fmt.Fprintf(&b, "Trades: %d", s.TotalTrades)
	return title, b.String()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
