// Kestrel - Audit analytics and rule-based compliance scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
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
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Optional YAML config file overrides the tier defaults
	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		loaded, err := domain.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		slog.Info("configuration file loaded", "path", path)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Rule lookups go through the cache
	cachedRepo := cache.NewCachedRepository(repo, cacheImpl, 5*time.Minute)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Formula Engine
	formulaEngine := engine.New()
	slog.Info("formula engine initialized")

	// Initialize Compliance Determiner
	determiner := compliance.NewDeterminer(cfg.Compliance.GCThreshold, cfg.Compliance.PCThreshold)
	slog.Info("compliance determiner initialized",
		"gc_threshold", determiner.GCThreshold(),
		"pc_threshold", determiner.PCThreshold(),
	)

	// Initialize Evaluator
	evaluator := rules.NewEvaluator(cachedRepo, formulaEngine, determiner, cfg.Evaluation.MaxWorkers)
	slog.Info("rule evaluator initialized", "max_workers", cfg.Evaluation.MaxWorkers)

	// Dataset files are loaded from local CSV and Excel sources
	provider := dataset.NewLoader()

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, cachedRepo, provider, evaluator)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cachedRepo, cacheImpl, busImpl, evaluator, provider, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Audit Analytics Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate             - Evaluate rules against a dataset")
	fmt.Println("    POST /evaluate/async       - Queue an evaluation run")
	fmt.Println("    GET  /evaluations/{runId}  - Get run summaries and scores")
	fmt.Println("    GET  /rules                - List all rules")
	fmt.Println("    POST /rules                - Create a new rule")
	fmt.Println("    POST /rules/validate       - Validate a formula")
	fmt.Println("    DELETE /rules/{id}         - Delete a rule")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
