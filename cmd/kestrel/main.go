// Kestrel - Invoice risk and anomaly scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
		"retrain_interval", cfg.Training.RetrainInterval,
	)

	// Create context cancelled on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(cfg.Tracing, os.Stdout)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	var metricsMgr *metrics.Manager
	if cfg.Metrics.Enabled {
		metricsMgr = metrics.New(cfg.Metrics.Namespace)
	}

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

	// Model registry: load the latest artifact, or train from the corpus
	reg := registry.New()
	manager := registry.NewManager(reg, repo, cfg.Training, metricsMgr)
	if err := initModel(ctx, manager, cfg.Training); err != nil {
		slog.Error("failed to initialize model", "error", err)
		os.Exit(1)
	}

	// Rule engine: built-in rules plus every stored tenant rule
	engine, err := rules.NewEngine(16)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	scorer := scoring.NewEngine(reg,
		scoring.WithRules(engine),
		scoring.WithMetrics(metricsMgr),
	)
	p := pipeline.New(pipeline.Config{
		Engine:        scorer,
		Store:         repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		AssessmentTTL: cfg.Cache.AssessmentTTL,
	})

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, p, manager)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Scheduled retraining
	if cfg.Training.RetrainInterval > 0 {
		go manager.Run(ctx, cfg.Training.RetrainInterval)
		slog.Info("scheduled retraining enabled", "interval", cfg.Training.RetrainInterval)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:         repo,
		Cache:        cacheImpl,
		Bus:          busImpl,
		Pipeline:     p,
		Rules:        engine,
		Models:       manager,
		Metrics:      metricsMgr,
		Version:      Version,
		Async:        asyncWorker != nil,
		AsyncTenants: cfg.Worker.TenantIDs,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_state", reg.State().Kind,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the worker
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	if err := engine.Close(); err != nil {
		slog.Error("failed to close rule engine", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// initModel installs the latest stored model. Without one, it trains from
// the corpus when configured to; a failed first training leaves the
// service up and unable to score until a model is trained.
func initModel(ctx context.Context, manager *registry.Manager, cfg domain.TrainingConfig) error {
	loaded, err := manager.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}
	if !cfg.TrainOnStart {
		slog.Warn("no model artifact found - train via POST /model/train")
		return nil
	}

	result, err := manager.TrainFromCorpus(ctx)
	if err != nil {
		return err
	}
	if !result.Success {
		slog.Warn("initial training did not produce a model",
			"reason", result.Reason,
			"samples", result.SampleCount,
		)
	}
	return nil
}

// loadRules loads the built-in rules and every enabled stored rule.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx, repository.AllTenants)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		stored = nil // Start with built-in rules only
	}

	if len(stored) > 0 {
		slog.Info("loading rules from database", "count", len(stored))
	}
	return engine.LoadRules(append(rules.BuiltinRules(), stored...))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |     Invoice Risk & Anomaly Scoring        |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /invoices                - Submit an invoice")
	fmt.Println("    POST /invoices/score          - Score an invoice inline")
	fmt.Println("    GET  /invoices/{id}           - Get invoice by ID")
	fmt.Println("    POST /invoices/{id}/score     - Score a stored invoice")
	fmt.Println("    GET  /invoices/{id}/explain   - Explain a stored invoice")
	fmt.Println("    GET  /assessments/{id}        - Get assessment by ID")
	fmt.Println("    GET  /model                   - Model status")
	fmt.Println("    POST /model/train             - Retrain from the corpus")
	fmt.Println("    GET  /rules                   - List rules")
	fmt.Println("    POST /rules                   - Create or update a rule")
	fmt.Println("    POST /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println()
}
