// Package config defines the top-level configuration for the auction server
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BIDVAULT_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Auction  AuctionConfig  `toml:"auction"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// BidRateLimit / BidRateWindow bound how many bid submissions a single
	// client may make per window. Zero disables the limiter.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the auction
// archive. Archiving is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AuctionConfig holds bid engine parameters.
type AuctionConfig struct {
	// AntiSnipeWindow is how close to the deadline a bid must land before the
	// deadline is pushed out to now + AntiSnipeWindow.
	AntiSnipeWindow duration `toml:"anti_snipe_window"`

	// SweepInterval is how often the closer sweep scans for due auctions.
	SweepInterval duration `toml:"sweep_interval"`

	// SweepBatchSize caps how many due auctions one sweep pass closes.
	SweepBatchSize int `toml:"sweep_batch_size"`

	// TopBids is how many leading bids a snapshot includes.
	TopBids int `toml:"top_bids"`
}

// NotifyConfig holds notification delivery parameters. SMTP fields configure
// the winner email; the webhook receives operational events as JSON.
type NotifyConfig struct {
	SMTPHost   string   `toml:"smtp_host"`
	SMTPPort   int      `toml:"smtp_port"`
	SMTPUser   string   `toml:"smtp_user"`
	SMTPPass   string   `toml:"smtp_pass"`
	FromAddr   string   `toml:"from_addr"`
	WebhookURL string   `toml:"webhook_url"`
	Events     []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "60s", "1m").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:5173"},
			BidRateLimit:  20,
			BidRateWindow: duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bidvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		Auction: AuctionConfig{
			AntiSnipeWindow: duration{60 * time.Second},
			SweepInterval:   duration{15 * time.Second},
			SweepBatchSize:  100,
			TopBids:         10,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
			Events:   []string{"auction_won", "sweep_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sweep": true,
	"full":  true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.BidRateLimit < 0 {
		errs = append(errs, "server: bid_rate_limit must be >= 0")
	}
	if c.Server.BidRateLimit > 0 && c.Server.BidRateWindow.Duration <= 0 {
		errs = append(errs, "server: bid_rate_window must be > 0 when bid_rate_limit is set")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when a bucket is configured")
	}

	if c.Auction.AntiSnipeWindow.Duration <= 0 {
		errs = append(errs, "auction: anti_snipe_window must be > 0")
	}
	if c.Auction.SweepInterval.Duration <= 0 {
		errs = append(errs, "auction: sweep_interval must be > 0")
	}
	if c.Auction.SweepBatchSize < 1 {
		errs = append(errs, "auction: sweep_batch_size must be >= 1")
	}
	if c.Auction.TopBids < 1 {
		errs = append(errs, "auction: top_bids must be >= 1")
	}

	if c.Notify.SMTPHost != "" && c.Notify.FromAddr == "" {
		errs = append(errs, "notify: from_addr is required when smtp_host is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
