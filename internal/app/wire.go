package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/skinarb/internal/arbitrage"
	s3blob "github.com/alanyoungcy/skinarb/internal/blob/s3"
	"github.com/alanyoungcy/skinarb/internal/cache/redis"
	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/config"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/executor"
	"github.com/alanyoungcy/skinarb/internal/metrics"
	"github.com/alanyoungcy/skinarb/internal/notify"
	"github.com/alanyoungcy/skinarb/internal/platform/dmarket"
	"github.com/alanyoungcy/skinarb/internal/platform/pulse"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
	"github.com/alanyoungcy/skinarb/internal/server/handler"
	"github.com/alanyoungcy/skinarb/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional backends stay nil when their section is disabled.
type Dependencies struct {
	Clock         clock.Clock
	Identity      domain.Identity
	Times         *steam.TimeSource
	Confirmations *steam.ConfirmationClient

	// Trading stack; nil in monitor mode.
	Pulse   *pulse.Client
	DMarket *dmarket.Client
	Finder  *arbitrage.SpreadFinder
	Engine  *executor.Engine

	// Stores
	DealStore  domain.DealStore
	AuditStore domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	QuoteCache  domain.QuoteCache

	// Blob storage
	Archiver domain.Archiver

	Notifier       *notify.Notifier
	TradingMetrics *metrics.TradingCollector
	HTTPMetrics    *metrics.HTTPCollector

	// Health maps a backing service name to its probe.
	Health map[string]handler.Pinger
}

// pingFunc adapts a probe function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsTrading returns true for modes that scan and execute deals.
func needsTrading(mode string) bool {
	switch mode {
	case "trade", "server":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	clk := clock.NewRealClock()
	deps := &Dependencies{
		Clock:  clk,
		Health: make(map[string]handler.Pinger),
	}

	// --- Steam identity and confirmations ---
	idStore := steam.NewFileStore(cfg.Steam.MaFilePath, cfg.Steam.IdentityPassword)
	identity, err := idStore.Load()
	if err != nil {
		return fail(fmt.Errorf("wire: steam identity: %w", err))
	}
	deps.Identity = identity

	steamHTTP := &http.Client{Timeout: cfg.Steam.Timeout.Duration}
	deps.Times = steam.NewTimeSource(cfg.Steam.APIURL, steamHTTP, clk, logger)
	refresher := steam.NewRefresher(cfg.Steam.APIURL, steamHTTP, clk)
	deps.Confirmations = steam.NewConfirmationClient(steam.Config{
		CommunityURL: cfg.Steam.CommunityURL,
		ResolvePause: cfg.Steam.ResolvePause.Duration,
		RetryPause:   cfg.Steam.RetryPause.Duration,
		DedupTTL:     cfg.Steam.DedupTTL.Duration,
		LockTTL:      cfg.Steam.LockTTL.Duration,
	}, identity, idStore, refresher, deps.Times, steamHTTP, clk, logger)

	// --- PostgreSQL ---
	var (
		dealStore  *postgres.DealStore
		auditStore *postgres.AuditStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		dealStore = postgres.NewDealStore(pool)
		auditStore = postgres.NewAuditStore(pool)
		deps.DealStore = dealStore
		deps.AuditStore = auditStore
		deps.Health["postgres"] = pgClient
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient, clk)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.Health["redis"] = redisClient

		deps.Confirmations.SetLockManager(deps.LockManager)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = pingFunc(s3Client.Health)

		if cfg.Archive.Enabled && dealStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				dealStore,
				auditStore,
				s3blob.ArchiverConfig{Prune: cfg.Archive.Prune},
				func() time.Time { return clk.Now().UTC() },
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		if !metrics.IsEnabled() {
			metrics.InitRegistry()
		}
		deps.TradingMetrics = metrics.NewTradingCollector()
		if err := deps.TradingMetrics.Register(); err != nil {
			return fail(fmt.Errorf("wire: trading metrics: %w", err))
		}
		deps.HTTPMetrics = metrics.NewHTTPCollector()
		if err := deps.HTTPMetrics.Register(); err != nil {
			return fail(fmt.Errorf("wire: http metrics: %w", err))
		}
	}

	if !needsTrading(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- Trading stack ---
	deps.Pulse = pulse.NewClient(pulse.Config{
		BaseURL:           cfg.Pulse.BaseURL,
		APIKey:            cfg.Pulse.APIKey,
		Game:              cfg.Pulse.Game,
		Currency:          cfg.Pulse.Currency,
		RequestsPerSecond: cfg.Pulse.RequestsPerSecond,
		TokenBudget:       cfg.Pulse.TokenBudget,
		BudgetWindow:      cfg.Pulse.BudgetWindow.Duration,
		Timeout:           cfg.Pulse.Timeout.Duration,
		RetryPause:        cfg.Pulse.RetryPause.Duration,
	}, clk, logger)
	if deps.RateLimiter != nil {
		deps.Pulse.SetBudget(deps.RateLimiter)
	}

	deps.Finder = arbitrage.NewSpreadFinder(arbitrage.FinderConfig{
		Prices:   deps.Pulse,
		Quotes:   deps.QuoteCache,
		PageSize: cfg.Pulse.PageSize,
		Clock:    clk,
		Logger:   logger,
	})

	var adapters []domain.MarketAdapter
	if cfg.DMarket.Enabled {
		deps.DMarket, err = dmarket.NewClient(dmarket.Config{
			BaseURL:           cfg.DMarket.BaseURL,
			PublicKey:         cfg.DMarket.PublicKey,
			PrivateKey:        cfg.DMarket.PrivateKey,
			GameID:            cfg.DMarket.GameID,
			RequestsPerSecond: cfg.DMarket.RequestsPerSecond,
			Timeout:           cfg.DMarket.Timeout.Duration,
		}, clk, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: dmarket: %w", err))
		}
		adapters = append(adapters, deps.DMarket)
	}

	engineDeps := executor.Deps{
		Finder:    deps.Finder,
		Adapters:  adapters,
		Confirmer: deps.Confirmations,
		Deals:     deps.DealStore,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Locks:     deps.LockManager,
		Notifier:  deps.Notifier,
		Clock:     clk,
		Logger:    logger,
	}
	if deps.TradingMetrics != nil {
		engineDeps.Metrics = deps.TradingMetrics
	}
	deps.Engine = executor.NewEngine(engineConfig(cfg), engineDeps)

	return deps, cleanup, nil
}

// engineConfig maps the trading and engine sections onto executor.Config.
func engineConfig(cfg *config.Config) executor.Config {
	ec := executor.DefaultConfig()
	ec.Markets = cfg.Trading.Markets
	ec.Range = domain.PriceRange{Min: cfg.Trading.MinPrice, Max: cfg.Trading.MaxPrice}
	ec.MinSpreadPercent = cfg.Trading.MinSpreadPercent
	ec.BuySlippage = cfg.Trading.BuySlippage
	ec.SellSlippage = cfg.Trading.SellSlippage
	if cfg.DMarket.GameID != "" {
		ec.GameID = cfg.DMarket.GameID
	}

	ec.CheckInterval = cfg.Engine.CheckInterval.Duration
	ec.DrainInterval = cfg.Engine.DrainInterval.Duration
	ec.SettlementDelay = cfg.Engine.SettlementDelay.Duration
	ec.MaxBackoff = cfg.Engine.MaxBackoff.Duration
	ec.ConfirmAttempts = cfg.Engine.ConfirmAttempts
	ec.ConfirmInterval = cfg.Engine.ConfirmInterval.Duration
	ec.InventoryAttempts = cfg.Engine.InventoryAttempts
	ec.InventoryInterval = cfg.Engine.InventoryInterval.Duration
	ec.MarketLockTTL = cfg.Engine.MarketLockTTL.Duration
	return ec
}
