package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SKINARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SKINARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Steam ──
	setStr(&cfg.Steam.MaFilePath, "SKINARB_STEAM_MAFILE_PATH")
	setStr(&cfg.Steam.IdentityPassword, "SKINARB_IDENTITY_PASSWORD")
	setStr(&cfg.Steam.CommunityURL, "SKINARB_STEAM_COMMUNITY_URL")
	setStr(&cfg.Steam.APIURL, "SKINARB_STEAM_API_URL")
	setDuration(&cfg.Steam.Timeout, "SKINARB_STEAM_TIMEOUT")

	// ── Pulse ──
	setStr(&cfg.Pulse.BaseURL, "SKINARB_PULSE_BASE_URL")
	setStr(&cfg.Pulse.APIKey, "SKINARB_PULSE_API_KEY")
	setStr(&cfg.Pulse.Currency, "SKINARB_PULSE_CURRENCY")
	setFloat64(&cfg.Pulse.RequestsPerSecond, "SKINARB_PULSE_REQUESTS_PER_SECOND")
	setInt(&cfg.Pulse.TokenBudget, "SKINARB_PULSE_TOKEN_BUDGET")
	setDuration(&cfg.Pulse.BudgetWindow, "SKINARB_PULSE_BUDGET_WINDOW")
	setInt(&cfg.Pulse.PageSize, "SKINARB_PULSE_PAGE_SIZE")

	// ── DMarket ──
	setBool(&cfg.DMarket.Enabled, "SKINARB_DMARKET_ENABLED")
	setStr(&cfg.DMarket.BaseURL, "SKINARB_DMARKET_BASE_URL")
	setStr(&cfg.DMarket.PublicKey, "SKINARB_DMARKET_PUBLIC_KEY")
	setStr(&cfg.DMarket.PrivateKey, "SKINARB_DMARKET_PRIVATE_KEY")
	setFloat64(&cfg.DMarket.RequestsPerSecond, "SKINARB_DMARKET_REQUESTS_PER_SECOND")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Markets, "SKINARB_TRADING_MARKETS")
	setFloat64(&cfg.Trading.MinPrice, "SKINARB_TRADING_MIN_PRICE")
	setFloat64(&cfg.Trading.MaxPrice, "SKINARB_TRADING_MAX_PRICE")
	setFloat64(&cfg.Trading.MinSpreadPercent, "SKINARB_TRADING_MIN_SPREAD_PERCENT")
	setFloat64(&cfg.Trading.BuySlippage, "SKINARB_TRADING_BUY_SLIPPAGE")
	setFloat64(&cfg.Trading.SellSlippage, "SKINARB_TRADING_SELL_SLIPPAGE")

	// ── Engine ──
	setDuration(&cfg.Engine.CheckInterval, "SKINARB_ENGINE_CHECK_INTERVAL")
	setDuration(&cfg.Engine.DrainInterval, "SKINARB_ENGINE_DRAIN_INTERVAL")
	setDuration(&cfg.Engine.MonitorInterval, "SKINARB_ENGINE_MONITOR_INTERVAL")
	setDuration(&cfg.Engine.SettlementDelay, "SKINARB_ENGINE_SETTLEMENT_DELAY")
	setDuration(&cfg.Engine.MaxBackoff, "SKINARB_ENGINE_MAX_BACKOFF")
	setInt(&cfg.Engine.ConfirmAttempts, "SKINARB_ENGINE_CONFIRM_ATTEMPTS")
	setInt(&cfg.Engine.InventoryAttempts, "SKINARB_ENGINE_INVENTORY_ATTEMPTS")
	setBool(&cfg.Engine.AutoStart, "SKINARB_ENGINE_AUTO_START")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SKINARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SKINARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SKINARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SKINARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SKINARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SKINARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SKINARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SKINARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SKINARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SKINARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SKINARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SKINARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SKINARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SKINARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SKINARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SKINARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SKINARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SKINARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SKINARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SKINARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "SKINARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SKINARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SKINARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SKINARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SKINARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SKINARB_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "SKINARB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "SKINARB_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "SKINARB_ARCHIVE_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SKINARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SKINARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SKINARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SKINARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SKINARB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SKINARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SKINARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SKINARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SKINARB_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SKINARB_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "SKINARB_MODE")
	setStr(&cfg.LogLevel, "SKINARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
