package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"

[server]
port = 9090

[auction]
anti_snipe_window = "90s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "serve", cfg.Mode)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 90*time.Second, cfg.Auction.AntiSnipeWindow.Duration)

	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 100, cfg.Auction.SweepBatchSize)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090
`)

	t.Setenv("BIDVAULT_SERVER_PORT", "7070")
	t.Setenv("BIDVAULT_AUCTION_SWEEP_INTERVAL", "45s")
	t.Setenv("BIDVAULT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 45*time.Second, cfg.Auction.SweepInterval.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Mode = "batch" },
			want:   "unknown mode",
		},
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			want:   "port must be 1-65535",
		},
		{
			name:   "rate limit without window",
			mutate: func(c *Config) { c.Server.BidRateWindow.Duration = 0 },
			want:   "bid_rate_window",
		},
		{
			name:   "zero anti snipe window",
			mutate: func(c *Config) { c.Auction.AntiSnipeWindow.Duration = 0 },
			want:   "anti_snipe_window",
		},
		{
			name: "smtp without from address",
			mutate: func(c *Config) {
				c.Notify.SMTPHost = "smtp.example.com"
				c.Notify.FromAddr = ""
			},
			want: "from_addr",
		},
		{
			name: "pool min above max",
			mutate: func(c *Config) {
				c.Database.PoolMinConns = 20
				c.Database.PoolMaxConns = 10
			},
			want: "pool_min_conns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
