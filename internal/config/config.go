// Package config loads and validates the tracker configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/polywatch/polywatch/internal/models"
)

// Config represents the complete application configuration.
type Config struct {
	Polymarket PolymarketConfig       `mapstructure:"polymarket"`
	Tracker    TrackerConfig          `mapstructure:"tracker"`
	Watchlist  []WatchlistEntryConfig `mapstructure:"watchlist"`
	Notify     NotifyConfig           `mapstructure:"notify"`
	Storage    StorageConfig          `mapstructure:"storage"`
	Health     HealthConfig           `mapstructure:"health"`
	Logging    LoggingConfig          `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API client configuration.
type PolymarketConfig struct {
	GammaAPIURL    string        `mapstructure:"gamma_api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RetryDelayMax  time.Duration `mapstructure:"retry_delay_max"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// TrackerConfig holds polling cadence and global change thresholds.
type TrackerConfig struct {
	IntervalSeconds int           `mapstructure:"interval_seconds"`
	JitterFraction  float64       `mapstructure:"jitter_fraction"`
	PriceThreshold  float64       `mapstructure:"price_threshold"`
	VolumeThreshold float64       `mapstructure:"volume_threshold"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
}

// WatchlistEntryConfig names a market to poll, with optional per-market
// threshold overrides (0 = inherit the global threshold).
type WatchlistEntryConfig struct {
	ID              string  `mapstructure:"id"`
	Name            string  `mapstructure:"name"`
	PriceThreshold  float64 `mapstructure:"price_threshold"`
	VolumeThreshold float64 `mapstructure:"volume_threshold"`
}

// NotifyConfig holds notification sink configuration.
type NotifyConfig struct {
	Sinks      []string       `mapstructure:"sinks"`
	WebhookURL string         `mapstructure:"webhook_url"`
	FilePath   string         `mapstructure:"file_path"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram sink credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// StorageConfig holds snapshot persistence configuration.
type StorageConfig struct {
	StatePath string `mapstructure:"state_path"`
	InMemory  bool   `mapstructure:"in_memory"`
}

// HealthConfig holds the optional health check listener configuration.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("POLYWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "10s")
	v.SetDefault("polymarket.max_retries", 5)
	v.SetDefault("polymarket.retry_delay_base", "500ms")
	v.SetDefault("polymarket.retry_delay_max", "8s")
	v.SetDefault("polymarket.max_concurrency", 8)

	v.SetDefault("tracker.interval_seconds", 30)
	v.SetDefault("tracker.jitter_fraction", 0.1)
	v.SetDefault("tracker.price_threshold", 0.02)
	v.SetDefault("tracker.volume_threshold", 0.10)
	v.SetDefault("tracker.summary_interval", "6h")

	v.SetDefault("notify.sinks", []string{"console"})
	v.SetDefault("notify.file_path", "./data/events.jsonl")

	v.SetDefault("storage.state_path", "./data/polywatch.db")
	v.SetDefault("storage.in_memory", false)

	v.SetDefault("health.enabled", false)
	v.SetDefault("health.addr", ":10000")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid. Any error
// returned here is fatal at startup.
func (c *Config) Validate() error {
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.Timeout < time.Second {
		return fmt.Errorf("polymarket.timeout must be at least 1 second")
	}
	if c.Polymarket.MaxRetries < 1 || c.Polymarket.MaxRetries > 10 {
		return fmt.Errorf("polymarket.max_retries must be between 1 and 10")
	}
	if c.Polymarket.RetryDelayBase <= 0 {
		return fmt.Errorf("polymarket.retry_delay_base must be positive")
	}
	if c.Polymarket.RetryDelayMax < c.Polymarket.RetryDelayBase {
		return fmt.Errorf("polymarket.retry_delay_max must be >= retry_delay_base")
	}
	if c.Polymarket.MaxConcurrency < 1 {
		return fmt.Errorf("polymarket.max_concurrency must be at least 1")
	}

	if c.Tracker.IntervalSeconds < 1 {
		return fmt.Errorf("tracker.interval_seconds must be at least 1")
	}
	if c.Tracker.JitterFraction < 0 || c.Tracker.JitterFraction > 0.5 {
		return fmt.Errorf("tracker.jitter_fraction must be between 0.0 and 0.5")
	}
	if c.Tracker.PriceThreshold <= 0 || c.Tracker.PriceThreshold > 1.0 {
		return fmt.Errorf("tracker.price_threshold must be between 0.0 and 1.0")
	}
	if c.Tracker.VolumeThreshold <= 0 {
		return fmt.Errorf("tracker.volume_threshold must be positive")
	}
	if c.Tracker.SummaryInterval != 0 && c.Tracker.SummaryInterval < time.Minute {
		return fmt.Errorf("tracker.summary_interval must be at least 1 minute (or 0 to disable)")
	}

	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist must contain at least one market")
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for i, entry := range c.Watchlist {
		if entry.ID == "" {
			return fmt.Errorf("watchlist[%d].id is required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("watchlist contains duplicate market %s", entry.ID)
		}
		seen[entry.ID] = true
		if entry.PriceThreshold < 0 || entry.PriceThreshold > 1.0 {
			return fmt.Errorf("watchlist[%d].price_threshold must be between 0.0 and 1.0", i)
		}
		if entry.VolumeThreshold < 0 {
			return fmt.Errorf("watchlist[%d].volume_threshold must not be negative", i)
		}
	}

	if len(c.Notify.Sinks) == 0 {
		return fmt.Errorf("notify.sinks must name at least one sink")
	}
	for _, sink := range c.Notify.Sinks {
		switch sink {
		case "console", "webhook", "file", "telegram":
		default:
			return fmt.Errorf("notify.sinks contains unknown sink %q", sink)
		}
	}
	if c.hasSink("webhook") && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when the webhook sink is enabled")
	}
	if c.hasSink("file") && c.Notify.FilePath == "" {
		return fmt.Errorf("notify.file_path is required when the file sink is enabled")
	}
	if c.hasSink("telegram") {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when the telegram sink is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when the telegram sink is enabled")
		}
	}

	if !c.Storage.InMemory && c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required unless storage.in_memory is set")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr is required when the health listener is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (c *Config) hasSink(name string) bool {
	for _, s := range c.Notify.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Interval returns the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Tracker.IntervalSeconds) * time.Second
}

// Thresholds returns the global default thresholds.
func (c *Config) Thresholds() models.Thresholds {
	return models.Thresholds{
		PriceMove:  c.Tracker.PriceThreshold,
		VolumeJump: c.Tracker.VolumeThreshold,
	}
}

// WatchList converts the configured entries into domain watch-list entries.
func (c *Config) WatchList() []models.WatchListEntry {
	entries := make([]models.WatchListEntry, 0, len(c.Watchlist))
	for _, e := range c.Watchlist {
		entries = append(entries, models.WatchListEntry{
			ID:              e.ID,
			Name:            e.Name,
			PriceThreshold:  e.PriceThreshold,
			VolumeThreshold: e.VolumeThreshold,
		})
	}
	return entries
}
