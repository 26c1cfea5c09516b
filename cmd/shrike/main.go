// Shrike - Real-time transaction fraud scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/shrike/internal/api"
	"github.com/opensource-finance/shrike/internal/behavior"
	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/emit"
	"github.com/opensource-finance/shrike/internal/merchants"
	"github.com/opensource-finance/shrike/internal/normalize"
	"github.com/opensource-finance/shrike/internal/pipeline"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/signals"
	"github.com/opensource-finance/shrike/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Local development overrides from .env; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if err := cfg.Validate(); err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("invalid configuration", "field", cfgErr.Field, "reason", cfgErr.Reason)
		} else {
			slog.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"policy", cfg.Verdict.Policy,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Behavior Store
	store := behavior.NewStore(cfg.Behavior)
	slog.Info("behavior store initialized",
		"window_capacity", cfg.Behavior.WindowCapacity,
		"window_span", cfg.Behavior.WindowSpan,
	)

	// Initialize Merchant Risk Service
	merchantSvc := merchants.NewService(repo, cacheImpl, cfg.Cache.LocalTTL, logger)

	// Initialize Signal Registry
	registry, err := signals.BuildRegistry(cfg.Signals, merchantSvc.Lookup(), nil, 0)
	if err != nil {
		slog.Error("failed to initialize signal registry", "error", err)
		os.Exit(1)
	}
	slog.Info("signal registry initialized", "evaluators", registry.Names())

	// Initialize Scoring Aggregator
	aggregator, err := scoring.NewAggregator(cfg.Verdict)
	if err != nil {
		slog.Error("failed to initialize aggregator", "error", err)
		os.Exit(1)
	}

	// Initialize Emitter with audit and alert sinks
	emitter := emit.New(cfg.Pipeline,
		emit.NewRepositoryAuditSink(repo),
		[]domain.AlertSink{
			emit.NewBusAlertSink(busImpl),
			emit.NewLogAlertSink(logger),
		},
		logger,
	)

	// Assemble the scoring pipeline
	p := pipeline.New(
		normalize.New(cfg.Ingest),
		store,
		registry,
		aggregator,
		emitter,
		cfg.Pipeline.Deadline,
		logger,
	)
	slog.Info("scoring pipeline initialized", "deadline", cfg.Pipeline.Deadline)

	// Initialize async Worker consuming the ingestion topic
	asyncWorker := worker.NewWorker(busImpl, p, logger)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}
	slog.Info("async worker started", "topic", domain.TopicTransactionIngested)

	// Initialize Server
	srv := api.NewServer(cfg.Server, p, store, repo, merchantSvc, busImpl, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop ingest first so no new verdicts are produced
	asyncWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Drain queued audit and alert deliveries
	emitter.Close()

	slog.Info("shrike shutdown complete")
}

// loadConfig builds the configuration from defaults, an optional YAML file,
// and environment overrides, in that order.
func loadConfig(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv("SHRIKE_CONFIG")
	}

	var cfg *domain.Config
	var err error
	if path != "" {
		cfg, err = domain.LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = domain.DefaultConfig()
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers deployment environment settings over the file.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("SHRIKE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SHRIKE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SHRIKE_REPOSITORY_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("SHRIKE_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("SHRIKE_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("SHRIKE_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("SHRIKE_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("SHRIKE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("SHRIKE_EVENTBUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("SHRIKE_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("SHRIKE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 SHRIKE                   ║")
	fmt.Println("  ║      Fraud Scoring for Payments           ║")
	fmt.Println("  ║      Every transaction, judged.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Policy:   %s\n", cfg.Verdict.Policy)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                 - Score a transaction")
	fmt.Println("    GET  /verdicts/{txId}       - Get verdict by transaction ID")
	fmt.Println("    GET  /transactions/{id}     - Get transaction by ID")
	fmt.Println("    GET  /alerts                - List review/blocked verdicts")
	fmt.Println("    GET  /profiles/{userId}     - Get behavior baseline")
	fmt.Println("    GET  /merchants             - List merchant risk registry")
	fmt.Println("    PUT  /merchants/{id}/risk   - Set merchant risk score")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println("    GET  /ready                 - Readiness check")
	fmt.Println()
}
