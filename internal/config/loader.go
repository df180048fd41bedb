package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BIDVAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BIDVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "BIDVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BIDVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BIDVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.BidRateLimit, "BIDVAULT_SERVER_BID_RATE_LIMIT")
	setDuration(&cfg.Server.BidRateWindow, "BIDVAULT_SERVER_BID_RATE_WINDOW")

	// ── Database ──
	setStr(&cfg.Database.DSN, "BIDVAULT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "BIDVAULT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BIDVAULT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BIDVAULT_DATABASE_NAME")
	setStr(&cfg.Database.User, "BIDVAULT_DATABASE_USER")
	setStr(&cfg.Database.Password, "BIDVAULT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BIDVAULT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "BIDVAULT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BIDVAULT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BIDVAULT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BIDVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BIDVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BIDVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BIDVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BIDVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BIDVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BIDVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BIDVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BIDVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BIDVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BIDVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BIDVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BIDVAULT_S3_FORCE_PATH_STYLE")

	// ── Auction ──
	setDuration(&cfg.Auction.AntiSnipeWindow, "BIDVAULT_AUCTION_ANTI_SNIPE_WINDOW")
	setDuration(&cfg.Auction.SweepInterval, "BIDVAULT_AUCTION_SWEEP_INTERVAL")
	setInt(&cfg.Auction.SweepBatchSize, "BIDVAULT_AUCTION_SWEEP_BATCH_SIZE")
	setInt(&cfg.Auction.TopBids, "BIDVAULT_AUCTION_TOP_BIDS")

	// ── Notify ──
	setStr(&cfg.Notify.SMTPHost, "BIDVAULT_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notify.SMTPPort, "BIDVAULT_NOTIFY_SMTP_PORT")
	setStr(&cfg.Notify.SMTPUser, "BIDVAULT_NOTIFY_SMTP_USER")
	setStr(&cfg.Notify.SMTPPass, "BIDVAULT_NOTIFY_SMTP_PASS")
	setStr(&cfg.Notify.FromAddr, "BIDVAULT_NOTIFY_FROM_ADDR")
	setStr(&cfg.Notify.WebhookURL, "BIDVAULT_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BIDVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BIDVAULT_MODE")
	setStr(&cfg.LogLevel, "BIDVAULT_LOG_LEVEL")
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
