package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
watchlist:
  - id: "0x1234"
    name: "Test market"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func loadValid(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadValid(t, minimalYAML)

	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("gamma_api_url = %q, want the public endpoint", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Polymarket.Timeout)
	}
	if cfg.Polymarket.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Polymarket.MaxRetries)
	}
	if cfg.Tracker.IntervalSeconds != 30 {
		t.Errorf("interval_seconds = %d, want 30", cfg.Tracker.IntervalSeconds)
	}
	if cfg.Tracker.PriceThreshold != 0.02 {
		t.Errorf("price_threshold = %v, want 0.02", cfg.Tracker.PriceThreshold)
	}
	if cfg.Tracker.VolumeThreshold != 0.10 {
		t.Errorf("volume_threshold = %v, want 0.10", cfg.Tracker.VolumeThreshold)
	}
	if cfg.Tracker.SummaryInterval != 6*time.Hour {
		t.Errorf("summary_interval = %v, want 6h", cfg.Tracker.SummaryInterval)
	}
	if len(cfg.Notify.Sinks) != 1 || cfg.Notify.Sinks[0] != "console" {
		t.Errorf("sinks = %v, want [console]", cfg.Notify.Sinks)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %s/%s, want info/text", cfg.Logging.Level, cfg.Logging.Format)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults plus a watchlist must validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg := loadValid(t, `
polymarket:
  timeout: 30s
  max_concurrency: 2
tracker:
  interval_seconds: 60
  price_threshold: 0.05
watchlist:
  - id: "0x1234"
  - id: "0x5678"
    price_threshold: 0.10
    volume_threshold: 0.50
notify:
  sinks: ["console", "file"]
  file_path: "/tmp/events.jsonl"
`)

	if cfg.Polymarket.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Polymarket.Timeout)
	}
	if cfg.Polymarket.MaxConcurrency != 2 {
		t.Errorf("max_concurrency = %d, want 2", cfg.Polymarket.MaxConcurrency)
	}
	if cfg.Interval() != time.Minute {
		t.Errorf("Interval() = %v, want 1m", cfg.Interval())
	}
	if th := cfg.Thresholds(); th.PriceMove != 0.05 || th.VolumeJump != 0.10 {
		t.Errorf("thresholds = %+v, want price 0.05 with default volume 0.10", th)
	}

	entries := cfg.WatchList()
	if len(entries) != 2 {
		t.Fatalf("got %d watch-list entries, want 2", len(entries))
	}
	if entries[1].PriceThreshold != 0.10 || entries[1].VolumeThreshold != 0.50 {
		t.Errorf("per-market overrides not carried: %+v", entries[1])
	}
	// The first entry inherits the globals through zero values.
	if th := entries[0].Thresholds(cfg.Thresholds()); th.PriceMove != 0.05 {
		t.Errorf("entry without override resolved to %+v, want the global 0.05", th)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "empty watchlist",
			mutate:  func(c *Config) { c.Watchlist = nil },
			wantErr: "watchlist",
		},
		{
			name: "duplicate watchlist entry",
			mutate: func(c *Config) {
				c.Watchlist = append(c.Watchlist, c.Watchlist[0])
			},
			wantErr: "duplicate",
		},
		{
			name:    "watchlist entry without id",
			mutate:  func(c *Config) { c.Watchlist[0].ID = "" },
			wantErr: "id is required",
		},
		{
			name:    "price threshold out of range",
			mutate:  func(c *Config) { c.Tracker.PriceThreshold = 1.5 },
			wantErr: "price_threshold",
		},
		{
			name:    "zero price threshold",
			mutate:  func(c *Config) { c.Tracker.PriceThreshold = 0 },
			wantErr: "price_threshold",
		},
		{
			name:    "negative volume threshold",
			mutate:  func(c *Config) { c.Tracker.VolumeThreshold = -0.1 },
			wantErr: "volume_threshold",
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.Tracker.IntervalSeconds = 0 },
			wantErr: "interval_seconds",
		},
		{
			name:    "jitter too large",
			mutate:  func(c *Config) { c.Tracker.JitterFraction = 0.9 },
			wantErr: "jitter_fraction",
		},
		{
			name:    "summary interval too short",
			mutate:  func(c *Config) { c.Tracker.SummaryInterval = time.Second },
			wantErr: "summary_interval",
		},
		{
			name:   "summary disabled",
			mutate: func(c *Config) { c.Tracker.SummaryInterval = 0 },
		},
		{
			name:    "unknown sink",
			mutate:  func(c *Config) { c.Notify.Sinks = []string{"pager"} },
			wantErr: "unknown sink",
		},
		{
			name:    "no sinks",
			mutate:  func(c *Config) { c.Notify.Sinks = nil },
			wantErr: "sinks",
		},
		{
			name:    "webhook sink without url",
			mutate:  func(c *Config) { c.Notify.Sinks = []string{"webhook"} },
			wantErr: "webhook_url",
		},
		{
			name: "telegram sink without token",
			mutate: func(c *Config) {
				c.Notify.Sinks = []string{"telegram"}
				c.Notify.Telegram.ChatID = "12345"
			},
			wantErr: "bot_token",
		},
		{
			name: "telegram sink without chat id",
			mutate: func(c *Config) {
				c.Notify.Sinks = []string{"telegram"}
				c.Notify.Telegram.BotToken = "token"
			},
			wantErr: "chat_id",
		},
		{
			name: "no state path without in-memory",
			mutate: func(c *Config) {
				c.Storage.StatePath = ""
			},
			wantErr: "state_path",
		},
		{
			name: "in-memory needs no state path",
			mutate: func(c *Config) {
				c.Storage.StatePath = ""
				c.Storage.InMemory = true
			},
		},
		{
			name: "health enabled without addr",
			mutate: func(c *Config) {
				c.Health.Enabled = true
				c.Health.Addr = ""
			},
			wantErr: "health.addr",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "retry delay max below base",
			mutate:  func(c *Config) { c.Polymarket.RetryDelayMax = time.Millisecond },
			wantErr: "retry_delay_max",
		},
		{
			name:    "too many retries",
			mutate:  func(c *Config) { c.Polymarket.MaxRetries = 50 },
			wantErr: "max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadValid(t, minimalYAML)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate passed, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
