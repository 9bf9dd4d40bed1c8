// Package config defines the top-level configuration for the skin arbitrage
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SKINARB_* environment variables.
type Config struct {
	Steam    SteamConfig    `toml:"steam"`
	Pulse    PulseConfig    `toml:"pulse"`
	DMarket  DMarketConfig  `toml:"dmarket"`
	Trading  TradingConfig  `toml:"trading"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SteamConfig locates the Steam identity and the community endpoints.
type SteamConfig struct {
	// MaFilePath is a plain or encrypted maFile. Encrypted files require
	// IdentityPassword.
	MaFilePath       string   `toml:"mafile_path"`
	IdentityPassword string   `toml:"identity_password"`
	CommunityURL     string   `toml:"community_url"`
	APIURL           string   `toml:"api_url"`
	Timeout          duration `toml:"timeout"`
	ResolvePause     duration `toml:"resolve_pause"`
	RetryPause       duration `toml:"retry_pause"`
	DedupTTL         duration `toml:"dedup_ttl"`
	LockTTL          duration `toml:"lock_ttl"`
}

// PulseConfig holds the price-comparison API credentials and budget.
type PulseConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Game              string   `toml:"game"`
	Currency          string   `toml:"currency"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	TokenBudget       int      `toml:"token_budget"`
	BudgetWindow      duration `toml:"budget_window"`
	PageSize          int      `toml:"page_size"`
	Timeout           duration `toml:"timeout"`
	RetryPause        duration `toml:"retry_pause"`
}

// DMarketConfig holds DMarket trading API credentials.
type DMarketConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	PublicKey         string   `toml:"public_key"`
	PrivateKey        string   `toml:"private_key"`
	GameID            string   `toml:"game_id"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
}

// TradingConfig bounds which deals the engine takes.
type TradingConfig struct {
	Markets          []string `toml:"markets"`
	MinPrice         float64  `toml:"min_price"`
	MaxPrice         float64  `toml:"max_price"`
	MinSpreadPercent float64  `toml:"min_spread_percent"`
	BuySlippage      float64  `toml:"buy_slippage"`
	SellSlippage     float64  `toml:"sell_slippage"`
}

// EngineConfig holds the loop timing.
type EngineConfig struct {
	CheckInterval     duration `toml:"check_interval"`
	DrainInterval     duration `toml:"drain_interval"`
	MonitorInterval   duration `toml:"monitor_interval"`
	SettlementDelay   duration `toml:"settlement_delay"`
	MaxBackoff        duration `toml:"max_backoff"`
	ConfirmAttempts   int      `toml:"confirm_attempts"`
	ConfirmInterval   duration `toml:"confirm_interval"`
	InventoryAttempts int      `toml:"inventory_attempts"`
	InventoryInterval duration `toml:"inventory_interval"`
	MarketLockTTL     duration `toml:"market_lock_ttl"`
	// AutoStart begins trading immediately in server mode.
	AutoStart bool `toml:"auto_start"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled, deal
// results are kept only in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules cold archiving of old rows to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	Prune         bool   `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP control plane parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every /api route except health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client; zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	DailyStatsCron    string   `toml:"daily_stats_cron"`
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Steam: SteamConfig{
			MaFilePath:   "steam.maFile",
			CommunityURL: "https://steamcommunity.com",
			APIURL:       "https://api.steampowered.com",
			Timeout:      duration{15 * time.Second},
			ResolvePause: duration{time.Second},
			RetryPause:   duration{5 * time.Second},
			DedupTTL:     duration{10 * time.Minute},
			LockTTL:      duration{time.Minute},
		},
		Pulse: PulseConfig{
			BaseURL:           "https://api-pulse.tradeon.space",
			Game:              "Rust",
			Currency:          "USD",
			RequestsPerSecond: 1,
			TokenBudget:       10000,
			BudgetWindow:      duration{24 * time.Hour},
			PageSize:          50,
			Timeout:           duration{20 * time.Second},
			RetryPause:        duration{5 * time.Second},
		},
		DMarket: DMarketConfig{
			Enabled:           true,
			BaseURL:           "https://api.dmarket.com",
			GameID:            "rust",
			RequestsPerSecond: 2,
			Timeout:           duration{15 * time.Second},
		},
		Trading: TradingConfig{
			Markets:          []string{"Dmarket", "LootFarm", "TradeItTrade"},
			MinPrice:         0.50,
			MaxPrice:         3.00,
			MinSpreadPercent: 10,
			BuySlippage:      0.05,
			SellSlippage:     0.05,
		},
		Engine: EngineConfig{
			CheckInterval:     duration{30 * time.Second},
			DrainInterval:     duration{5 * time.Second},
			MonitorInterval:   duration{10 * time.Second},
			SettlementDelay:   duration{30 * time.Second},
			MaxBackoff:        duration{10 * time.Minute},
			ConfirmAttempts:   3,
			ConfirmInterval:   duration{5 * time.Second},
			InventoryAttempts: 6,
			InventoryInterval: duration{10 * time.Second},
			MarketLockTTL:     duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "skinarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "skinarb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events:         []string{"deal_completed", "deal_failed", "engine_error", "daily_stats"},
			DailyStatsCron: "0 9 * * *",
		},
		Metrics:  MetricsConfig{Enabled: true},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Steam identity is needed in every mode.
	if strings.TrimSpace(c.Steam.MaFilePath) == "" {
		errs = append(errs, "steam: mafile_path must not be empty")
	}
	if c.Steam.CommunityURL == "" {
		errs = append(errs, "steam: community_url must not be empty")
	}

	trading := mode == "trade" || mode == "server"
	if trading {
		if c.Pulse.APIKey == "" {
			errs = append(errs, "pulse: api_key is required for mode "+c.Mode)
		}
		if c.Pulse.RequestsPerSecond <= 0 {
			errs = append(errs, "pulse: requests_per_second must be > 0")
		}
		if c.Pulse.TokenBudget < 0 {
			errs = append(errs, "pulse: token_budget must be >= 0")
		}
		if c.DMarket.Enabled && (c.DMarket.PublicKey == "" || c.DMarket.PrivateKey == "") {
			errs = append(errs, "dmarket: public_key and private_key must both be set when enabled")
		}
	}

	// Trading
	if len(c.Trading.Markets) < 2 {
		errs = append(errs, "trading: markets must list at least two markets")
	}
	if c.Trading.MinPrice <= 0 {
		errs = append(errs, "trading: min_price must be > 0")
	}
	if c.Trading.MaxPrice < c.Trading.MinPrice {
		errs = append(errs, fmt.Sprintf("trading: max_price %.2f is below min_price %.2f", c.Trading.MaxPrice, c.Trading.MinPrice))
	}
	if c.Trading.MinSpreadPercent < 0 {
		errs = append(errs, "trading: min_spread_percent must be >= 0")
	}
	if c.Trading.BuySlippage < 0 || c.Trading.BuySlippage >= 1 {
		errs = append(errs, "trading: buy_slippage must be in [0, 1)")
	}
	if c.Trading.SellSlippage < 0 || c.Trading.SellSlippage >= 1 {
		errs = append(errs, "trading: sell_slippage must be in [0, 1)")
	}

	// Engine
	if c.Engine.CheckInterval.Duration <= 0 {
		errs = append(errs, "engine: check_interval must be > 0")
	}
	if c.Engine.DrainInterval.Duration <= 0 {
		errs = append(errs, "engine: drain_interval must be > 0")
	}
	if c.Engine.MaxBackoff.Duration < c.Engine.CheckInterval.Duration {
		errs = append(errs, "engine: max_backoff must not be shorter than check_interval")
	}
	if c.Engine.ConfirmAttempts < 1 {
		errs = append(errs, "engine: confirm_attempts must be >= 1")
	}
	if c.Engine.InventoryAttempts < 1 {
		errs = append(errs, "engine: inventory_attempts must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive needs both ends.
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled and s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify: a token without a chat id sends nowhere.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
