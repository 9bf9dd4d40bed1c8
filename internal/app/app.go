// Package app provides the top-level application lifecycle for the skin
// arbitrage bot. It wires together all dependencies (Steam confirmations,
// price service, marketplace adapters, stores, caches, blob storage and
// notifications) and starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/skinarb/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. Cleanup runs on Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if deps.Engine != nil {
		a.checkMarkets(ctx, deps)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// checkMarkets warns about configured markets the price service does not
// know and markets no adapter can trade on. It never fails startup.
func (a *App) checkMarkets(ctx context.Context, deps *Dependencies) {
	tradable := deps.Engine.Markets()
	for _, m := range a.cfg.Trading.Markets {
		if !slices.Contains(tradable, m) {
			a.logger.WarnContext(ctx, "no adapter for market; it is left out of price scans",
				slog.String("market", m),
			)
		}
	}

	supported, err := deps.Pulse.SupportedMarkets(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "supported markets unavailable", slog.String("error", err.Error()))
		return
	}
	for _, m := range a.cfg.Trading.Markets {
		if !slices.Contains(supported, m) {
			a.logger.WarnContext(ctx, "market not supported by price service",
				slog.String("market", m),
				slog.Any("supported", supported),
			)
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
