// Package executor drives arbitrage deals through the buy, confirm, settle,
// sell and confirm steps and runs the long-lived trading loop.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/notify"
)

// DealFinder selects the best deal across markets.
type DealFinder interface {
	BestDeal(ctx context.Context, markets []string, r domain.PriceRange, minSpreadPercent float64) (*domain.Deal, error)
	TokensUsed() int64
}

// Confirmer resolves pending mobile confirmations.
type Confirmer interface {
	AwaitAndResolve(ctx context.Context, attempts int, interval time.Duration) (int, error)
	Monitor(ctx context.Context, interval time.Duration, onResolved func(domain.ConfirmationRequest)) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	RecordDeal(res domain.DealResult)
	RecordScan(outcome string, seconds float64)
	SetTokensConsumed(n int64)
	RecordConfirmation(kind string)
}

// Config holds the engine's trading parameters.
type Config struct {
	Markets          []string
	Range            domain.PriceRange
	MinSpreadPercent float64
	GameID           string

	CheckInterval   time.Duration
	DrainInterval   time.Duration
	SettlementDelay time.Duration
	PausePoll       time.Duration
	MaxBackoff      time.Duration

	BuySlippage  float64
	SellSlippage float64

	ConfirmAttempts   int
	ConfirmInterval   time.Duration
	InventoryAttempts int
	InventoryInterval time.Duration

	MarketLockTTL time.Duration
}

// DefaultConfig returns the stock trading parameters.
func DefaultConfig() Config {
	return Config{
		Markets:           []string{domain.MarketDmarket, domain.MarketLootFarm, domain.MarketTradeItTrade},
		Range:             domain.PriceRange{Min: 0.50, Max: 3.00},
		MinSpreadPercent:  10,
		GameID:            "rust",
		CheckInterval:     30 * time.Second,
		DrainInterval:     5 * time.Second,
		SettlementDelay:   30 * time.Second,
		PausePoll:         time.Second,
		MaxBackoff:        10 * time.Minute,
		BuySlippage:       0.05,
		SellSlippage:      0.05,
		ConfirmAttempts:   3,
		ConfirmInterval:   5 * time.Second,
		InventoryAttempts: 6,
		InventoryInterval: 10 * time.Second,
		MarketLockTTL:     2 * time.Minute,
	}
}

// Deps are the collaborators of an Engine. Finder, Clock and Logger are
// required; every other field may be nil.
type Deps struct {
	Finder    DealFinder
	Adapters  []domain.MarketAdapter
	Confirmer Confirmer
	Deals     domain.DealStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Locks     domain.LockManager
	Notifier  Notifier
	Metrics   MetricsRecorder
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Engine is the arbitrage state machine. One deal executes at a time; the
// confirmation drain runs alongside the trading loop.
type Engine struct {
	cfg  Config
	deps Deps

	adapters  map[string]domain.MarketAdapter
	marketMu  map[string]*sync.Mutex
	inventory inventoryWaiter
	stats     *StatsTracker
	logger    *slog.Logger

	running   atomic.Bool
	paused    atomic.Bool
	looping   atomic.Bool
	stateMu   sync.RWMutex
	state     domain.EngineState
	lastError atomic.Value // string
}

// NewEngine creates an Engine. Adapters are keyed by their Name().
func NewEngine(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		adapters: make(map[string]domain.MarketAdapter, len(deps.Adapters)),
		marketMu: make(map[string]*sync.Mutex, len(deps.Adapters)),
		inventory: inventoryWaiter{
			clock:    deps.Clock,
			attempts: cfg.InventoryAttempts,
			interval: cfg.InventoryInterval,
		},
		stats:  NewStatsTracker(),
		logger: deps.Logger.With(slog.String("component", "engine")),
		state:  domain.StateIdle,
	}
	for _, a := range deps.Adapters {
		e.adapters[a.Name()] = a
		e.marketMu[a.Name()] = &sync.Mutex{}
	}
	return e
}

// Start marks the engine as running.
func (e *Engine) Start() {
	if !e.running.Swap(true) {
		e.stats.MarkStarted(e.deps.Clock.Now())
		e.logger.Info("engine started")
	}
}

// Stop makes RunLoop return at its next step boundary. In-flight external
// calls are not interrupted.
func (e *Engine) Stop() {
	if e.running.Swap(false) {
		e.logger.Info("engine stopped")
	}
}

// Pause suspends scanning after the current step.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		e.logger.Info("engine paused")
	}
}

// Resume undoes Pause.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		e.logger.Info("engine resumed")
	}
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool { return e.running.Load() }

// Looping reports whether RunLoop is currently executing.
func (e *Engine) Looping() bool { return e.looping.Load() }

// Stats returns a snapshot of the counters with the run flags filled in.
func (e *Engine) Stats() domain.EngineStats {
	s := e.stats.Snapshot()
	s.Running = e.running.Load()
	s.Paused = e.paused.Load()
	return s
}

// State returns the current execution step.
func (e *Engine) State() domain.EngineState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// LastError returns the message of the last error that halted or disturbed
// the loop, or "".
func (e *Engine) LastError() string {
	s, _ := e.lastError.Load().(string)
	return s
}

func (e *Engine) setState(s domain.EngineState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Markets returns the names of the markets the engine can trade on.
func (e *Engine) Markets() []string {
	names := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Balances returns the USD balance of every adapter plus the sum under the
// key "total". Markets that fail are left out and their errors joined.
func (e *Engine) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	out := make(map[string]domain.Balance, len(e.adapters)+1)
	var total domain.Balance
	var errs []error
	for _, name := range e.Markets() {
		bal, err := e.adapters[name].Balance(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = bal
		total.USD += bal.USD
		total.DMC += bal.DMC
	}
	out["total"] = total
	return out, errors.Join(errs...)
}

// scanMarkets returns the configured markets that have an adapter, in
// configured order. Quotes for other markets could never be executed.
func (e *Engine) scanMarkets() []string {
	out := make([]string, 0, len(e.cfg.Markets))
	for _, m := range e.cfg.Markets {
		if _, ok := e.adapters[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// FindBestDeal scans every configured market pair that the engine can trade
// on and returns the best deal, or nil when none clears the spread
// threshold. With fewer than two tradable markets nothing is scanned.
func (e *Engine) FindBestDeal(ctx context.Context) (*domain.Deal, error) {
	e.setState(domain.StateSearching)
	defer e.setState(domain.StateIdle)

	markets := e.scanMarkets()
	if len(markets) < 2 {
		e.logger.DebugContext(ctx, "fewer than two tradable markets, skipping scan",
			slog.Any("markets", markets))
		return nil, nil
	}

	start := e.deps.Clock.Now()
	deal, err := e.deps.Finder.BestDeal(ctx, markets, e.cfg.Range, e.cfg.MinSpreadPercent)
	elapsed := e.deps.Clock.Now().Sub(start).Seconds()

	switch {
	case err != nil:
		e.recordScan("error", elapsed)
		return nil, fmt.Errorf("executor: find best deal: %w", err)
	case deal == nil:
		e.recordScan("none", elapsed)
		return nil, nil
	}
	e.recordScan("found", elapsed)

	e.logger.InfoContext(ctx, "deal found",
		slog.String("deal_id", deal.ID),
		slog.String("item", deal.ItemName),
		slog.String("buy_market", deal.SourceMarket),
		slog.String("sell_market", deal.TargetMarket),
		slog.Float64("buy_price", deal.BuyPrice),
		slog.Float64("sell_price", deal.SellPrice),
		slog.Float64("spread_pct", deal.SpreadPercent),
	)
	title, msg := notify.DealFound(*deal)
	e.notify(ctx, notify.EventDealFound, title, msg)
	e.publish(ctx, domain.ChannelDeal, deal)
	return deal, nil
}

// ExecuteDeal runs one deal through every step and records the outcome. It
// never panics on partial failure; the failed step is named in the result.
func (e *Engine) ExecuteDeal(ctx context.Context, deal domain.Deal) domain.DealResult {
	res, _ := e.execute(ctx, deal)
	return res
}

// execute is ExecuteDeal that also returns a fatal error seen along the way
// (auth loss during confirmation), so the loop can halt after recording.
func (e *Engine) execute(ctx context.Context, deal domain.Deal) (domain.DealResult, error) {
	res := domain.DealResult{
		ID:        uuid.New().String(),
		Deal:      deal,
		StartedAt: e.deps.Clock.Now(),
	}
	log := e.logger.With(slog.String("deal_id", deal.ID), slog.String("item", deal.ItemName))

	if !deal.Eligible() {
		return e.finish(ctx, res, domain.StateBuying,
			fmt.Errorf("%w: spread %.2f%% is not positive", domain.ErrBuyFailed, deal.SpreadPercent)), nil
	}
	src, ok := e.adapters[deal.SourceMarket]
	if !ok {
		return e.finish(ctx, res, domain.StateBuying,
			fmt.Errorf("%w: no adapter for buy market %s", domain.ErrBuyFailed, deal.SourceMarket)), nil
	}
	dst, ok := e.adapters[deal.TargetMarket]
	if !ok {
		return e.finish(ctx, res, domain.StateBuying,
			fmt.Errorf("%w: no adapter for sell market %s", domain.ErrBuyFailed, deal.TargetMarket)), nil
	}

	// Buy.
	e.setState(domain.StateBuying)
	maxPrice := deal.BuyPrice * (1 + e.cfg.BuySlippage)
	ref, err := e.buy(ctx, src, deal.ItemName, maxPrice)
	if err != nil {
		return e.finish(ctx, res, domain.StateBuying, fmt.Errorf("%w: %w", domain.ErrBuyFailed, err)), nil
	}
	if ref == "" {
		return e.finish(ctx, res, domain.StateBuying,
			fmt.Errorf("%w: no offer at or below $%.2f on %s", domain.ErrBuyFailed, maxPrice, src.Name())), nil
	}
	res.BuyReference = ref
	log.InfoContext(ctx, "bought", slog.String("reference", ref), slog.Float64("max_price", maxPrice))

	var fatal error
	e.setState(domain.StateAwaitingBuyConfirmation)
	res.BuyConfirmations, fatal = e.confirm(ctx, "buy")
	if fatal != nil {
		return e.finish(ctx, res, domain.StateAwaitingBuyConfirmation,
			fmt.Errorf("%w: buy confirmation: %w", domain.ErrSellFailed, fatal)), fatal
	}

	e.setState(domain.StateAwaitingSettlement)
	if err := e.deps.Clock.Sleep(ctx, e.cfg.SettlementDelay); err != nil {
		return e.finish(ctx, res, domain.StateAwaitingSettlement,
			fmt.Errorf("%w: settlement interrupted: %w", domain.ErrSellFailed, err)), nil
	}

	// Sell.
	e.setState(domain.StateSelling)
	itemRef, err := e.inventory.find(ctx, dst, e.cfg.GameID, deal.ItemName)
	if err != nil {
		if domain.IsFatal(err) {
			fatal = err
		}
		return e.finish(ctx, res, domain.StateSelling,
			fmt.Errorf("%w: locate item: %w", domain.ErrSellFailed, err)), fatal
	}
	if itemRef == "" {
		log.WarnContext(ctx, "bought item not found in inventory, selling by name")
		itemRef = deal.ItemName
	}
	sellPrice := deal.SellPrice * (1 - e.cfg.SellSlippage)
	ref, err = e.sell(ctx, dst, itemRef, sellPrice)
	if err != nil {
		return e.finish(ctx, res, domain.StateSelling, fmt.Errorf("%w: %w", domain.ErrSellFailed, err)), nil
	}
	if ref == "" {
		return e.finish(ctx, res, domain.StateSelling,
			fmt.Errorf("%w: %s did not accept the listing at $%.2f", domain.ErrSellFailed, dst.Name(), sellPrice)), nil
	}
	res.SellReference = ref
	log.InfoContext(ctx, "listed", slog.String("reference", ref), slog.Float64("price", sellPrice))

	e.setState(domain.StateAwaitingSellConfirmation)
	res.SellConfirmations, fatal = e.confirm(ctx, "sell")
	if fatal != nil {
		return e.finish(ctx, res, domain.StateAwaitingSellConfirmation,
			fmt.Errorf("%w: sell confirmation: %w", domain.ErrSellFailed, fatal)), fatal
	}

	res.Success = true
	res.Profit = deal.SpreadUSD
	return e.finish(ctx, res, "", nil), nil
}

// buy purchases the cheapest listing of name at or below maxPrice. An empty
// reference means nothing suitable was listed.
func (e *Engine) buy(ctx context.Context, m domain.MarketAdapter, name string, maxPrice float64) (string, error) {
	unlock, err := e.lockMarket(ctx, m.Name())
	if err != nil {
		return "", err
	}
	defer unlock()

	offers, err := m.SearchByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("search %s: %w", m.Name(), err)
	}
	var best *domain.Offer
	for i := range offers {
		o := &offers[i]
		if o.PriceUSD <= 0 || o.PriceUSD > maxPrice {
			continue
		}
		if best == nil || o.PriceUSD < best.PriceUSD {
			best = o
		}
	}
	if best == nil {
		return "", nil
	}
	return m.Buy(ctx, best.ID, best.PriceUSD)
}

func (e *Engine) sell(ctx context.Context, m domain.MarketAdapter, itemRef string, price float64) (string, error) {
	unlock, err := e.lockMarket(ctx, m.Name())
	if err != nil {
		return "", err
	}
	defer unlock()
	return m.Sell(ctx, itemRef, price)
}

// lockMarket serialises adapter calls for one market within the process and,
// when a lock manager is configured, across processes.
func (e *Engine) lockMarket(ctx context.Context, name string) (func(), error) {
	mu := e.marketMu[name]
	mu.Lock()
	if e.deps.Locks == nil {
		return mu.Unlock, nil
	}
	release, err := e.deps.Locks.Acquire(ctx, "market:"+name, e.cfg.MarketLockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock market %s: %w", name, err)
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

// confirm resolves confirmations after a buy or sell. Failures are logged and
// ignored, except fatal ones which are returned.
func (e *Engine) confirm(ctx context.Context, leg string) (int, error) {
	if e.deps.Confirmer == nil {
		return 0, nil
	}
	n, err := e.deps.Confirmer.AwaitAndResolve(ctx, e.cfg.ConfirmAttempts, e.cfg.ConfirmInterval)
	switch {
	case err != nil && domain.IsFatal(err):
		return n, err
	case err != nil:
		e.logger.WarnContext(ctx, "confirmation wait failed",
			slog.String("leg", leg),
			slog.String("error", err.Error()),
		)
	case n == 0:
		e.logger.WarnContext(ctx, "no confirmation appeared", slog.String("leg", leg))
	}
	return n, nil
}

// finish stamps, records and announces a result. step is the failed step,
// empty on success.
func (e *Engine) finish(ctx context.Context, res domain.DealResult, step domain.EngineState, failure error) domain.DealResult {
	if failure != nil {
		e.setState(domain.StateFailed)
		res.Success = false
		res.FailedStep = step
		res.Error = failure.Error()
	}
	e.setState(domain.StateRecording)
	defer e.setState(domain.StateIdle)

	res.CompletedAt = e.deps.Clock.Now()
	res.DurationSeconds = res.CompletedAt.Sub(res.StartedAt).Seconds()
	e.stats.Record(res)

	// Recording must survive a cancelled run context.
	ctx = context.WithoutCancel(ctx)

	event := notify.EventDealCompleted
	title, msg := notify.DealCompleted(res)
	if !res.Success {
		event = notify.EventDealFailed
		title, msg = notify.DealFailed(res)
		e.logger.ErrorContext(ctx, "deal failed",
			slog.String("deal_id", res.Deal.ID),
			slog.String("step", string(step)),
			slog.String("error", res.Error),
		)
	} else {
		e.logger.InfoContext(ctx, "deal completed",
			slog.String("deal_id", res.Deal.ID),
			slog.Float64("profit", res.Profit),
			slog.Float64("duration_s", res.DurationSeconds),
		)
	}

	if e.deps.Deals != nil {
		if err := e.deps.Deals.Create(ctx, res); err != nil {
			e.logger.WarnContext(ctx, "persist deal result failed", slog.String("error", err.Error()))
		}
	}
	if e.deps.Audit != nil {
		detail := map[string]any{
			"result_id":   res.ID,
			"deal_id":     res.Deal.ID,
			"item":        res.Deal.ItemName,
			"buy_market":  res.Deal.SourceMarket,
			"sell_market": res.Deal.TargetMarket,
			"profit":      res.Profit,
		}
		if !res.Success {
			detail["failed_step"] = string(res.FailedStep)
			detail["error"] = res.Error
		}
		if err := e.deps.Audit.Log(ctx, event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordDeal(res)
	}
	e.notify(ctx, event, title, msg)
	e.publish(ctx, domain.ChannelDealResult, res)
	return res
}

// RunLoop runs the trading loop and the confirmation drain until Stop, a
// fatal error or ctx cancellation. Stop yields nil.
func (e *Engine) RunLoop(ctx context.Context) error {
	if !e.looping.CompareAndSwap(false, true) {
		return errors.New("executor: run loop already active")
	}
	defer e.looping.Store(false)

	e.Start()
	g, gctx := errgroup.WithContext(ctx)
	drainCtx, stopDrain := context.WithCancel(gctx)

	g.Go(func() error {
		defer stopDrain()
		return e.tradingLoop(gctx)
	})
	if e.deps.Confirmer != nil {
		g.Go(func() error {
			err := e.deps.Confirmer.Monitor(drainCtx, e.cfg.DrainInterval, e.onConfirmation(drainCtx))
			if err == nil || (drainCtx.Err() != nil && errors.Is(err, context.Canceled)) {
				return nil
			}
			e.halt(ctx, fmt.Errorf("executor: confirmation drain: %w", err))
			return err
		})
	}

	err := g.Wait()
	stopDrain()
	return err
}

func (e *Engine) tradingLoop(ctx context.Context) error {
	quota := newQuotaBackoff(e.cfg.CheckInterval, e.cfg.MaxBackoff)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.running.Load() {
			return nil
		}
		if e.paused.Load() {
			if err := e.deps.Clock.Sleep(ctx, e.cfg.PausePoll); err != nil {
				return err
			}
			continue
		}

		wait := e.cfg.CheckInterval
		deal, err := e.FindBestDeal(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil && domain.IsFatal(err):
			e.halt(ctx, err)
			return err
		case isQuota(err):
			wait = quota.next()
			e.logger.WarnContext(ctx, "price quota exhausted, backing off", slog.Duration("wait", wait))
			e.lastError.Store(err.Error())
		case err != nil:
			e.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
			e.lastError.Store(err.Error())
		default:
			quota.reset()
		}

		if deal != nil && e.running.Load() {
			if _, fatal := e.execute(ctx, *deal); fatal != nil {
				e.halt(ctx, fatal)
				return fatal
			}
		}

		tokens := e.deps.Finder.TokensUsed()
		e.stats.SetTokens(tokens)
		if e.deps.Metrics != nil {
			e.deps.Metrics.SetTokensConsumed(tokens)
		}

		if !e.running.Load() {
			return nil
		}
		if err := e.deps.Clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// halt stops the engine after an unrecoverable error and alerts operators.
func (e *Engine) halt(ctx context.Context, err error) {
	e.running.Store(false)
	e.lastError.Store(err.Error())
	e.logger.ErrorContext(ctx, "engine halted", slog.String("error", err.Error()))
	title, msg := notify.EngineError(err)
	e.notify(context.WithoutCancel(ctx), notify.EventEngineError, title, msg)
}

func (e *Engine) onConfirmation(ctx context.Context) func(domain.ConfirmationRequest) {
	return func(req domain.ConfirmationRequest) {
		e.logger.InfoContext(ctx, "confirmation resolved",
			slog.String("id", req.ID),
			slog.String("kind", req.KindName),
			slog.String("headline", req.Headline),
		)
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordConfirmation(req.KindName)
		}
		e.publish(ctx, domain.ChannelConfirmation, req)
	}
}

func (e *Engine) recordScan(outcome string, seconds float64) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordScan(outcome, seconds)
	}
}

func (e *Engine) notify(ctx context.Context, event, title, msg string) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends v as JSON on the signal bus; deal results are also appended to
// the results stream.
func (e *Engine) publish(ctx context.Context, channel string, v any) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.logger.WarnContext(ctx, "marshal bus payload failed", slog.String("error", err.Error()))
		return
	}
	if err := e.deps.Bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if channel != domain.ChannelDealResult {
		return
	}
	if err := e.deps.Bus.StreamAppend(ctx, domain.StreamDealResults, payload); err != nil {
		e.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
}
