package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/alerts"
	"github.com/rawblock/pattern-engine/internal/api"
	"github.com/rawblock/pattern-engine/internal/bitcoin"
	"github.com/rawblock/pattern-engine/internal/config"
	"github.com/rawblock/pattern-engine/internal/db"
	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/internal/logging"
	"github.com/rawblock/pattern-engine/internal/metrics"
	"github.com/rawblock/pattern-engine/internal/patterns"
	"github.com/rawblock/pattern-engine/internal/scanner"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\nCopy .env.example to .env and fill in your values: cp .env.example .env\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting behavioral pattern engine",
		zap.String("history_source", cfg.HistorySource),
		zap.String("port", cfg.Port))

	var sinks []engine.ResultSink

	// ─── Storage ────────────────────────────────────────────────────────
	// Postgres is optional unless it is the history source. When present it
	// also persists every fresh analysis.
	var store *db.PostgresStore
	if cfg.DatabaseURL != "" {
		s, err := db.Connect(ctx, cfg.DatabaseURL, logger)
		switch {
		case err != nil && cfg.HistorySource == config.SourcePostgres:
			return fmt.Errorf("connect history database: %w", err)
		case err != nil:
			logger.Warn("PostgreSQL unavailable, analyses will not be persisted", zap.Error(err))
		default:
			store = s
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, store)
		}
	}

	// ─── History source ─────────────────────────────────────────────────
	var source engine.HistoryProvider
	switch cfg.HistorySource {
	case config.SourceBitcoin:
		btc, err := bitcoin.NewClient(bitcoin.Config{
			Host:    cfg.BTCHost,
			User:    cfg.BTCUser,
			Pass:    cfg.BTCPass,
			Network: cfg.BTCNetwork,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect bitcoin rpc: %w", err)
		}
		defer btc.Shutdown()
		source = btc
		if store != nil {
			// Keep a local copy so HISTORY_SOURCE=postgres can replay it.
			source = engine.NewWriteThroughProvider(btc, store, logger)
		}
	default:
		source = store
	}

	retry := engine.DefaultRetryConfig()
	retry.Timeout = cfg.FetchTimeout
	retry.MaxRetries = cfg.FetchMaxRetries
	provider := engine.NewRetryingProvider(source, retry, logger)

	// ─── Alerts ─────────────────────────────────────────────────────────
	hub := api.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	var alertSinks []alerts.Sink
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := alerts.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			logger.Warn("Kafka unavailable, alerts stay local", zap.Error(err))
		} else {
			alertSinks = append(alertSinks, ks)
		}
	}
	alertManager := alerts.NewManager(alerts.Options{
		MinRiskScore: cfg.AlertMinRisk,
		Broadcast:    hub.BroadcastAlert,
		Sinks:        alertSinks,
		Logger:       logger,
	})
	defer func() {
		if err := alertManager.Close(); err != nil {
			logger.Warn("closing alert sinks", zap.Error(err))
		}
	}()
	sinks = append(sinks, alertManager)

	// ─── Engine ─────────────────────────────────────────────────────────
	prom := metrics.New("")
	orch := engine.New(engine.Options{
		Library:         patterns.NewLibrary(),
		HistoryProvider: provider,
		Cache:           engine.NewMemoryCache(cfg.CacheTTL),
		Logger:          logger,
		Recorder:        prom,
		Sinks:           sinks,
		MaxConcurrent:   cfg.MaxConcurrent,
	})

	watcher := scanner.NewWatcher(orch, scanner.Options{
		Interval:   cfg.WatchInterval,
		Blockchain: "bitcoin",
		Logger:     logger,
	})
	watcher.Add(cfg.WatchAddresses...)
	go watcher.Run(ctx)

	limiter := api.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst, logger)
	defer limiter.Stop()

	deps := api.Deps{
		Orchestrator:   orch,
		Alerts:         alertManager,
		Hub:            hub,
		Watcher:        watcher,
		RateLimiter:    limiter,
		MetricsHandler: prom.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}
	if store != nil {
		deps.Database = store
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
