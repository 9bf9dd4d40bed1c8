package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/skinarb/internal/crypto"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/executor"
	"github.com/alanyoungcy/skinarb/internal/metrics"
	"github.com/alanyoungcy/skinarb/internal/notify"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
	"github.com/alanyoungcy/skinarb/internal/server"
	"github.com/alanyoungcy/skinarb/internal/server/handler"
	"github.com/alanyoungcy/skinarb/internal/server/ws"
)

// TradeMode runs the trading loop and its confirmation drain, plus the
// scheduled jobs and, if enabled, the HTTP control plane.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("markets", a.cfg.Trading.Markets),
		slog.Any("trading_markets", deps.Engine.Markets()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Engine.RunLoop(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if a.cfg.Server.Enabled {
			// Keep the control plane up so the operator can inspect and restart.
			a.logger.ErrorContext(ctx, "trading loop halted", slog.String("error", err.Error()))
			return nil
		}
		return fmt.Errorf("trade mode: %w", err)
	})

	a.startScheduler(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, newEngineController(ctx, deps.Engine, a.logger))
	}

	return g.Wait()
}

// MonitorMode only drains confirmations: every pending request is approved
// at the monitor interval.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("account", deps.Identity.AccountName),
		slog.Duration("interval", a.cfg.Engine.MonitorInterval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Confirmations.Monitor(ctx, a.cfg.Engine.MonitorInterval.Duration, a.onConfirmation(ctx, deps))
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		title, msg := notify.EngineError(err)
		_ = deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventEngineError, title, msg)
		return fmt.Errorf("monitor mode: %w", err)
	})

	a.startScheduler(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// ServerMode serves the control plane. The engine runs only once started
// through the API, or immediately with engine.auto_start.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Bool("auto_start", a.cfg.Engine.AutoStart),
	)

	g, ctx := errgroup.WithContext(ctx)

	ctrl := newEngineController(ctx, deps.Engine, a.logger)
	if a.cfg.Engine.AutoStart {
		if err := ctrl.Start(); err != nil {
			return fmt.Errorf("server mode: %w", err)
		}
	}

	a.startScheduler(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, ctrl)

	return g.Wait()
}

// onConfirmation reports a confirmation resolved by the monitor.
func (a *App) onConfirmation(ctx context.Context, deps *Dependencies) func(domain.ConfirmationRequest) {
	return func(req domain.ConfirmationRequest) {
		a.logger.InfoContext(ctx, "confirmation resolved",
			slog.String("id", req.ID),
			slog.String("kind", req.KindName),
			slog.String("headline", req.Headline),
		)
		if deps.TradingMetrics != nil {
			deps.TradingMetrics.RecordConfirmation(req.KindName)
		}
		if deps.SignalBus != nil {
			if payload, err := json.Marshal(req); err == nil {
				_ = deps.SignalBus.Publish(ctx, domain.ChannelConfirmation, payload)
			}
		}
		_ = deps.Notifier.Notify(ctx, notify.EventConfirmation,
			"Confirmation accepted", req.KindName+": "+req.Headline)
	}
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. It
// registers the WebSocket hub when a signal bus is wired. ctrl is nil in
// monitor mode, which leaves the engine routes unregistered. The server is
// shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ctrl handler.EngineController) {
	logger := a.logger

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Health, logger),
		Deals:         handler.NewDealHandler(deps.DealStore, logger),
		Confirmations: handler.NewConfirmationHandler(deps.Confirmations, logger),
		Guard:         handler.NewGuardHandler(NewGuardCodes(deps.Identity, deps.Times), logger),
	}
	if ctrl != nil {
		handlers.Engine = handler.NewEngineHandler(ctrl, logger)
	}
	if deps.Engine != nil {
		handlers.Balances = handler.NewBalanceHandler(deps.Engine, logger)
	}
	if metrics.IsEnabled() {
		handlers.Metrics = metrics.Handler()
	}

	var opts server.Options
	opts.Limiter = deps.RateLimiter
	if deps.HTTPMetrics != nil {
		opts.Recorder = deps.HTTPMetrics
	}
	if deps.SignalBus != nil {
		var status ws.StatusSource
		if deps.Engine != nil {
			status = deps.Engine
		}
		opts.Hub = ws.NewHub(deps.SignalBus, status, logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      time.Now().UTC(),
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			if err := opts.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, opts, logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// engineController adapts the engine to the API. Start launches a trading
// loop when none is running, so a halted or stopped engine can be restarted.
type engineController struct {
	*executor.Engine
	ctx    context.Context
	logger *slog.Logger
}

func newEngineController(ctx context.Context, e *executor.Engine, logger *slog.Logger) *engineController {
	return &engineController{Engine: e, ctx: ctx, logger: logger}
}

// Start resumes a running loop or launches a new one bound to the
// controller's context.
func (c *engineController) Start() error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("app: engine start: %w", err)
	}
	if c.Engine.Looping() {
		c.Engine.Start()
		return nil
	}
	go func() {
		err := c.Engine.RunLoop(c.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.ErrorContext(c.ctx, "trading loop exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// GuardCodes produces the rotating login code for one identity against
// Steam server time.
type GuardCodes struct {
	secret []byte
	times  *steam.TimeSource
}

// NewGuardCodes creates a GuardCodes for identity.
func NewGuardCodes(identity domain.Identity, times *steam.TimeSource) *GuardCodes {
	return &GuardCodes{secret: identity.SharedSecret, times: times}
}

// CurrentCode returns the code valid now and the server time it was
// computed for.
func (g *GuardCodes) CurrentCode(ctx context.Context) (domain.RotatingCode, time.Time, error) {
	now := g.times.Now(ctx)
	code, err := crypto.GenerateCode(g.secret, now)
	if err != nil {
		return domain.RotatingCode{}, now, err
	}
	return code, now, nil
}
