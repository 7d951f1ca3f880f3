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

	"github.com/spf13/cobra"

	"github.com/insurelab/coverage-parser/internal/api"
	"github.com/insurelab/coverage-parser/internal/bus"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/repository"
	"github.com/insurelab/coverage-parser/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the async parse worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, os.Stdout)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *domain.Config) error {
	slog.Info("starting coverage-parser",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer p.Close()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	sweeper, err := cache.NewSweeper(p.results, cfg.Cache.SweepSchedule, slog.Default(),
		cache.WithSweptObserver(p.metrics.CacheSwept))
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Async jobs arrive on the shared subject and carry their tenant.
	asyncWorker := worker.NewWorker(eventBus, repo, p.orchestrator)
	if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Parser.BatchConcurrency}); err != nil {
		return fmt.Errorf("failed to start async worker: %w", err)
	}

	deps := api.Deps{
		Parser:     p.orchestrator,
		Calculator: p.calc,
		Checker:    p.checker,
		Repository: repo,
		Cache:      p.store,
		Bus:        eventBus,
		Version:    Version,
	}
	if p.metrics != nil {
		deps.Metrics = p.metrics.Handler()
	}
	srv := api.NewServer(cfg.Server, deps)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("coverage-parser is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("coverage-parser shutdown complete")
	return serveErr
}

func printBanner(cfg *domain.Config) {
	fmt.Println()
	fmt.Println("  coverage-parser", Version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Model:    %s (%s)\n", cfg.Model.Model, cfg.Model.Provider)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /parse             - Parse one clause")
	fmt.Println("    POST /parse/batch       - Parse clauses in order")
	fmt.Println("    POST /parse/async       - Queue a clause for the worker")
	fmt.Println("    POST /calculate         - Project one tier for a policyholder")
	fmt.Println("    GET  /records           - List stored parse records")
	fmt.Println("    GET  /records/{id}      - Get a parse record")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
