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
// built-in defaults, applies UPDOWNBOT_* environment variable overrides, and
// returns the final Config. An empty path uses the defaults alone. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
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

// applyEnvOverrides reads well-known UPDOWNBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "UPDOWNBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsURL, "UPDOWNBOT_POLYMARKET_WS_URL")
	setDuration(&cfg.Polymarket.RequestTimeout, "UPDOWNBOT_POLYMARKET_REQUEST_TIMEOUT")

	// ── Feed ──
	setInt(&cfg.Feed.MaxRetries, "UPDOWNBOT_FEED_MAX_RETRIES")
	setDuration(&cfg.Feed.RetryBackoff, "UPDOWNBOT_FEED_RETRY_BACKOFF")

	// ── Windows ──
	setStringSlice(&cfg.Windows.Assets, "UPDOWNBOT_WINDOWS_ASSETS")
	setStringSlice(&cfg.Windows.Timeframes, "UPDOWNBOT_WINDOWS_TIMEFRAMES")
	setDuration(&cfg.Windows.RotationInterval, "UPDOWNBOT_WINDOWS_ROTATION_INTERVAL")
	setDuration(&cfg.Windows.ResolveTimeout, "UPDOWNBOT_WINDOWS_RESOLVE_TIMEOUT")

	// ── Distributor ──
	setStr(&cfg.Distributor.Timeframe, "UPDOWNBOT_DISTRIBUTOR_TIMEFRAME")
	setDuration(&cfg.Distributor.Throttle, "UPDOWNBOT_DISTRIBUTOR_THROTTLE")

	// ── Strategy ──
	setStr(&cfg.Strategy.InstancesFile, "UPDOWNBOT_STRATEGY_INSTANCES_FILE")
	setDuration(&cfg.Strategy.HeartbeatInterval, "UPDOWNBOT_STRATEGY_HEARTBEAT_INTERVAL")
	setInt(&cfg.Strategy.MailboxSize, "UPDOWNBOT_STRATEGY_MAILBOX_SIZE")

	// ── Ledger ──
	setStr(&cfg.Ledger.Timezone, "UPDOWNBOT_LEDGER_TIMEZONE")
	setStr(&cfg.Ledger.Dir, "UPDOWNBOT_LEDGER_DIR")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "UPDOWNBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "UPDOWNBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "UPDOWNBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWNBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWNBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWNBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWNBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWNBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWNBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWNBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWNBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWNBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWNBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWNBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWNBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWNBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWNBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWNBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWNBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWNBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWNBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "UPDOWNBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "UPDOWNBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWNBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWNBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWNBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWNBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWNBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "UPDOWNBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWNBOT_SERVER_CORS_ORIGINS")
	setFloat(&cfg.Server.RateLimit, "UPDOWNBOT_SERVER_RATE_LIMIT_RPS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWNBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWNBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWNBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWNBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWNBOT_MODE")
	setStr(&cfg.LogLevel, "UPDOWNBOT_LOG_LEVEL")
	setStr(&cfg.LogFile, "UPDOWNBOT_LOG_FILE")
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

func setFloat(dst *float64, key string) {
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
