package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"telemetryhub/config"
	"telemetryhub/internal/cache"
	"telemetryhub/internal/hub"
	"telemetryhub/internal/input/stream"
	"telemetryhub/internal/logger"
	"telemetryhub/internal/output/alertlog"
	"telemetryhub/internal/output/alertwebhook"
	"telemetryhub/internal/pipeline"
	"telemetryhub/internal/rules"
	"telemetryhub/internal/server"
	"telemetryhub/internal/store"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("collector.yml"); err == nil {
		return "collector.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "collector.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "collector.yml"
}

func applyDefaults(cfg *config.CollectorConfig) {
	if cfg.Collector.Stream.Addr == "" {
		cfg.Collector.Stream.Addr = "127.0.0.1:6379"
	}
	if len(cfg.Collector.Stream.Partitions) == 0 {
		cfg.Collector.Stream.Partitions = []string{"telemetry:events"}
	}
	if cfg.Collector.Stream.Group == "" {
		cfg.Collector.Stream.Group = "collector"
	}
	if cfg.Collector.Stream.BatchSize <= 0 {
		cfg.Collector.Stream.BatchSize = 100
	}
	if cfg.Collector.Stream.BlockTimeout <= 0 {
		cfg.Collector.Stream.BlockTimeout = 5 * time.Second
	}

	if cfg.Collector.Store.Database == "" {
		cfg.Collector.Store.Database = "telemetryhub"
	}

	if cfg.Collector.Cache.Addr == "" {
		cfg.Collector.Cache.Addr = "127.0.0.1:6379"
	}
	if cfg.Collector.Cache.TTL <= 0 {
		cfg.Collector.Cache.TTL = 24 * time.Hour
	}

	if cfg.Collector.Alerts.TemperatureGT == 0 {
		cfg.Collector.Alerts.TemperatureGT = 80
	}

	if cfg.Collector.Server.Addr == "" {
		cfg.Collector.Server.Addr = ":8080"
	}

	if cfg.Collector.Logging.Level == "" {
		cfg.Collector.Logging.Level = "info"
	}
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadCollector(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.Collector.Store.URI) == "" {
		log.Fatalf("collector.store.uri is required")
	}

	if err := logger.Init(cfg.Collector.Logging.Enabled, cfg.Collector.Logging.Level, cfg.Collector.Logging.File, cfg.Collector.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Collector starting")
	logger.Infof("Config loaded from: %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs, err := store.New(ctx, store.Config{
		URI:            cfg.Collector.Store.URI,
		Database:       cfg.Collector.Store.Database,
		ConnectTimeout: cfg.Collector.Store.ConnectTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to open document store: %v", err)
		log.Fatalf("Failed to open document store: %v", err)
	}

	latest, err := cache.New(cache.Config{
		Addr:     cfg.Collector.Cache.Addr,
		Password: cfg.Collector.Cache.Password,
		DB:       cfg.Collector.Cache.DB,
		TTL:      cfg.Collector.Cache.TTL,
	})
	if err != nil {
		logger.Errorf("Failed to open freshness cache: %v", err)
		log.Fatalf("Failed to open freshness cache: %v", err)
	}

	var evaluators []rules.Evaluator
	evaluators = append(evaluators, rules.TemperatureThreshold{GT: cfg.Collector.Alerts.TemperatureGT})
	logger.Infof("Temperature threshold rule enabled (gt=%g)", cfg.Collector.Alerts.TemperatureGT)
	if cfg.Collector.Alerts.BatteryBelow > 0 {
		evaluators = append(evaluators, rules.BatteryLow{Below: cfg.Collector.Alerts.BatteryBelow})
		logger.Infof("Battery rule enabled (below=%d)", cfg.Collector.Alerts.BatteryBelow)
	}

	var sinks []pipeline.AlertSink
	var closers []func() error
	if cfg.Collector.Alerts.LogFile != "" {
		w, err := alertlog.NewWriter(cfg.Collector.Alerts.LogFile)
		if err != nil {
			logger.Errorf("Failed to create alert log: %v", err)
			log.Fatalf("Failed to create alert log: %v", err)
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	if cfg.Collector.Alerts.Webhook.URL != "" {
		w, err := alertwebhook.NewWriter(alertwebhook.Config{
			URL:     cfg.Collector.Alerts.Webhook.URL,
			Timeout: cfg.Collector.Alerts.Webhook.Timeout,
			Headers: cfg.Collector.Alerts.Webhook.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create alert webhook: %v", err)
			log.Fatalf("Failed to create alert webhook: %v", err)
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
		logger.Infof("Alert webhook enabled: %s", cfg.Collector.Alerts.Webhook.URL)
	}

	liveHub := hub.New()
	ingest := pipeline.NewIngest(docs, latest, liveHub, evaluators, sinks)

	consumer, err := stream.New(stream.Config{
		Addr:         cfg.Collector.Stream.Addr,
		Password:     cfg.Collector.Stream.Password,
		DB:           cfg.Collector.Stream.DB,
		Partitions:   cfg.Collector.Stream.Partitions,
		Group:        cfg.Collector.Stream.Group,
		Consumer:     cfg.Collector.Stream.Consumer,
		BatchSize:    cfg.Collector.Stream.BatchSize,
		BlockTimeout: cfg.Collector.Stream.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create stream consumer: %v", err)
		log.Fatalf("Failed to create stream consumer: %v", err)
	}

	// The consumer owns its background task; the HTTP surface never blocks
	// on it.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx, ingest.Handle); err != nil && err != context.Canceled {
			logger.Errorf("Stream consumer error: %v", err)
		}
	}()

	srv := server.New(server.Config{Addr: cfg.Collector.Server.Addr}, docs, latest, liveHub)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Infof("Shutting down")
	case err := <-serverDone:
		if err != nil {
			logger.Errorf("HTTP server error: %v", err)
		}
	}

	// Stop the consumer cooperatively and wait for it to observe the
	// cancellation before releasing anything it uses.
	cancel()
	<-consumerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Failed to shut down HTTP server: %v", err)
	}

	if err := consumer.Close(); err != nil {
		logger.Errorf("Failed to close stream consumer: %v", err)
	}
	for _, closeSink := range closers {
		if err := closeSink(); err != nil {
			logger.Errorf("Failed to close alert sink: %v", err)
		}
	}
	if err := latest.Close(); err != nil {
		logger.Errorf("Failed to close freshness cache: %v", err)
	}
	if err := docs.Close(shutdownCtx); err != nil {
		logger.Errorf("Failed to close document store: %v", err)
	}

	logger.Infof("Collector stopped")
}
