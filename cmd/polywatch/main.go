package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/polywatch/polywatch/internal/config"
	"github.com/polywatch/polywatch/internal/health"
	"github.com/polywatch/polywatch/internal/logger"
	"github.com/polywatch/polywatch/internal/notify"
	"github.com/polywatch/polywatch/internal/polymarket"
	"github.com/polywatch/polywatch/internal/storage"
	"github.com/polywatch/polywatch/internal/tracker"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.Open(cfg.Storage.StatePath, cfg.Storage.InMemory)
	if err != nil {
		logger.Fatal("Failed to initialize state store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close state store: %v", err)
		}
	}()
	if store.Degraded() {
		logger.Warn("State store running in-memory: snapshots will not survive a restart")
	}

	client := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			Backoff: polymarket.Policy{
				MaxAttempts: cfg.Polymarket.MaxRetries,
				BaseDelay:   cfg.Polymarket.RetryDelayBase,
				MaxDelay:    cfg.Polymarket.RetryDelayMax,
				Multiplier:  2.0,
			},
			MaxConcurrency: cfg.Polymarket.MaxConcurrency,
		},
	)

	sinks, cleanup, err := buildSinks(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize notification sinks: %v", err)
	}
	defer cleanup()
	dispatcher := notify.NewDispatcher(sinks...)

	loop, err := tracker.New(tracker.Config{
		Interval:        cfg.Interval(),
		JitterFraction:  cfg.Tracker.JitterFraction,
		SummaryInterval: cfg.Tracker.SummaryInterval,
		Defaults:        cfg.Thresholds(),
		WatchList:       cfg.WatchList(),
	}, client, store, dispatcher)
	if err != nil {
		logger.Fatal("Failed to initialize tracker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Health.Enabled {
		health.Serve(ctx, cfg.Health.Addr)
	}

	logger.Info("Starting tracker (interval: %v, markets: %d, sinks: %v)",
		cfg.Interval(), len(cfg.Watchlist), cfg.Notify.Sinks)

	loop.Run(ctx)
}

// buildSinks constructs the configured notification sinks and a cleanup
// function for the ones holding resources.
func buildSinks(cfg *config.Config) ([]notify.Sink, func(), error) {
	var sinks []notify.Sink
	var closers []func() error

	for _, name := range cfg.Notify.Sinks {
		switch name {
		case "console":
			sinks = append(sinks, notify.NewConsoleSink())
		case "webhook":
			sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
		case "file":
			fs, err := notify.NewFileSink(cfg.Notify.FilePath)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, fs)
			closers = append(closers, fs.Close)
		case "telegram":
			ts, err := notify.NewTelegramSink(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, ts)
		}
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("Failed to close sink: %v", err)
			}
		}
	}
	return sinks, cleanup, nil
}
