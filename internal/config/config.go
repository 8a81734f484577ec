// Package config defines the top-level configuration for the up/down bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/window"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWNBOT_* environment variables.
type Config struct {
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Feed        FeedConfig        `toml:"feed"`
	Windows     WindowsConfig     `toml:"windows"`
	Distributor DistributorConfig `toml:"distributor"`
	Strategy    StrategyConfig    `toml:"strategy"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	LogFile     string            `toml:"log_file"`
	LogMaxSize  int               `toml:"log_max_size_mb"`
	LogBackups  int               `toml:"log_max_backups"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	WsURL          string   `toml:"ws_url"`
	RequestTimeout duration `toml:"request_timeout"`
}

// FeedConfig bounds the market-data reconnect loop.
type FeedConfig struct {
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff duration `toml:"retry_backoff"`
	Buffer       int      `toml:"buffer"`
}

// LeadConfig holds the end-of-window gating of one timeframe.
type LeadConfig struct {
	StopBuy     duration `toml:"stop_buy"`
	Liquidation duration `toml:"liquidation"`
}

// WindowsConfig selects which Up/Down windows are tracked.
type WindowsConfig struct {
	Assets           []string              `toml:"assets"`
	Timeframes       []string              `toml:"timeframes"`
	RotationInterval duration              `toml:"rotation_interval"`
	ResolveTimeout   duration              `toml:"resolve_timeout"`
	Leads            map[string]LeadConfig `toml:"leads"`
}

// DistributorConfig controls tick fan-out.
type DistributorConfig struct {
	Timeframe string   `toml:"timeframe"`
	Throttle  duration `toml:"throttle"`
}

// StrategyConfig holds worker settings and the strategy instances.
type StrategyConfig struct {
	InstancesFile     string           `toml:"instances_file"`
	HeartbeatInterval duration         `toml:"heartbeat_interval"`
	MailboxSize       int              `toml:"mailbox_size"`
	EventBuffer       int              `toml:"event_buffer"`
	Instances         []InstanceConfig `toml:"instances"`
}

// LedgerConfig controls the CSV outputs.
type LedgerConfig struct {
	Timezone     string `toml:"timezone"`
	Dir          string `toml:"dir"`
	ExtremesFile string `toml:"extremes_file"`
	PairsFile    string `toml:"pairs_file"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   float64  `toml:"rate_limit_rps"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			WsURL:          "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RequestTimeout: duration{10 * time.Second},
		},
		Feed: FeedConfig{
			MaxRetries:   5,
			RetryBackoff: duration{3 * time.Second},
			Buffer:       1024,
		},
		Windows: WindowsConfig{
			Assets:           []string{"BTC", "ETH", "SOL", "XRP"},
			Timeframes:       []string{"15m"},
			RotationInterval: duration{time.Second},
			ResolveTimeout:   duration{10 * time.Second},
			Leads: map[string]LeadConfig{
				"15m": {StopBuy: duration{3 * time.Minute}, Liquidation: duration{time.Minute}},
				"1h":  {},
			},
		},
		Distributor: DistributorConfig{
			Timeframe: "15m",
			Throttle:  duration{100 * time.Millisecond},
		},
		Strategy: StrategyConfig{
			HeartbeatInterval: duration{time.Second},
			MailboxSize:       64,
			EventBuffer:       256,
		},
		Ledger: LedgerConfig{
			Timezone:     "Asia/Shanghai",
			Dir:          ".",
			ExtremesFile: "single_asset_extremes.csv",
			PairsFile:    "market_min_prices.csv",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			Prefix:         "windows",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "feed_fatal"},
		},
		Mode:       "paper",
		LogLevel:   "info",
		LogMaxSize: 50,
		LogBackups: 5,
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsURL == "" {
		errs = append(errs, "polymarket: ws_url must not be empty")
	}

	// Feed
	if c.Feed.MaxRetries < 0 {
		errs = append(errs, "feed: max_retries must be >= 0")
	}
	if c.Feed.RetryBackoff.Duration <= 0 {
		errs = append(errs, "feed: retry_backoff must be > 0")
	}

	// Windows
	if len(c.Windows.Assets) == 0 {
		errs = append(errs, "windows: assets must not be empty")
	}
	if len(c.Windows.Timeframes) == 0 {
		errs = append(errs, "windows: timeframes must not be empty")
	}
	for _, tf := range c.Windows.Timeframes {
		if _, err := domain.ParseTimeframe(tf); err != nil {
			errs = append(errs, fmt.Sprintf("windows: %v", err))
		}
	}
	for tf, lead := range c.Windows.Leads {
		parsed, err := domain.ParseTimeframe(tf)
		if err != nil {
			errs = append(errs, fmt.Sprintf("windows.leads: %v", err))
			continue
		}
		if lead.StopBuy.Duration < 0 || lead.Liquidation.Duration < 0 {
			errs = append(errs, fmt.Sprintf("windows.leads.%s: leads must be >= 0", tf))
		}
		if lead.StopBuy.Duration+lead.Liquidation.Duration >= parsed.Duration() {
			errs = append(errs, fmt.Sprintf("windows.leads.%s: leads must be shorter than the window", tf))
		}
	}
	if c.Windows.RotationInterval.Duration <= 0 {
		errs = append(errs, "windows: rotation_interval must be > 0")
	}

	// Distributor
	if _, err := domain.ParseTimeframe(c.Distributor.Timeframe); err != nil {
		errs = append(errs, fmt.Sprintf("distributor: %v", err))
	} else if !contains(c.Windows.Timeframes, c.Distributor.Timeframe) {
		errs = append(errs, fmt.Sprintf("distributor: timeframe %q is not in windows.timeframes", c.Distributor.Timeframe))
	}
	if c.Distributor.Throttle.Duration < 0 {
		errs = append(errs, "distributor: throttle must be >= 0")
	}

	// Strategy
	if c.Strategy.MailboxSize < 1 {
		errs = append(errs, "strategy: mailbox_size must be >= 1")
	}
	if c.Strategy.HeartbeatInterval.Duration < 0 {
		errs = append(errs, "strategy: heartbeat_interval must be >= 0")
	}
	seen := make(map[string]bool)
	for i, inst := range c.Strategy.Instances {
		if err := inst.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("strategy.instances[%d]: %v", i, err))
		}
		if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("strategy.instances[%d]: duplicate id %q", i, inst.ID))
		}
		seen[inst.ID] = true
		if inst.Asset != "" && !containsFold(c.Windows.Assets, inst.Asset) {
			errs = append(errs, fmt.Sprintf("strategy.instances[%d]: asset %q is not in windows.assets", i, inst.Asset))
		}
	}

	// Ledger
	if c.Ledger.ExtremesFile == "" || c.Ledger.PairsFile == "" {
		errs = append(errs, "ledger: extremes_file and pairs_file must not be empty")
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

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Leads returns the configured gating per timeframe, on top of the
// built-in defaults.
func (c *Config) Leads() map[domain.Timeframe]window.Leads {
	out := window.DefaultLeads()
	for name, lead := range c.Windows.Leads {
		tf, err := domain.ParseTimeframe(name)
		if err != nil {
			continue
		}
		out[tf] = window.Leads{StopBuy: lead.StopBuy.Duration, Liquidation: lead.Liquidation.Duration}
	}
	return out
}

// Timeframes returns the parsed windows.timeframes, skipping invalid entries.
func (c *Config) Timeframes() []domain.Timeframe {
	out := make([]domain.Timeframe, 0, len(c.Windows.Timeframes))
	for _, name := range c.Windows.Timeframes {
		if tf, err := domain.ParseTimeframe(name); err == nil {
			out = append(out, tf)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
