// Package cli provides common CLI initialization utilities shared by
// cmd/recurring-worker, cmd/recurring-job and cmd/ledger-sync-worker.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/config"
	"ricorrenti/internal/core"
	applog "ricorrenti/internal/log"
	"ricorrenti/internal/services"
	"ricorrenti/internal/storage"
	"ricorrenti/internal/storage/memory"
)

// Store is everything the commands need from one persistence backend.
type Store interface {
	services.RuleStore
	services.RuleWriter
	services.InstanceStore
	services.LedgerRepository
	services.LedgerSyncStore
	ListInstances(ctx context.Context, ruleID string) ([]core.OccurrenceInstance, error)
}

var (
	_ Store = (*storage.SQLiteRepository)(nil)
	_ Store = (*memory.Store)(nil)
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger. An unknown level falls back to info.
func SetupLogger(level string) *applog.Logger {
	lvl, err := applog.ParseLevel(level)
	logger := applog.New(applog.Config{Level: lvl, Component: applog.ComponentApp, Output: os.Stdout})
	applog.SetDefault(logger)
	if err != nil {
		logger.WarnContext(context.Background(), "Unknown log level, using info", "error", err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the backend selected by cfg.DataBackend. The returned close
// function is never nil.
func OpenStore(cfg *config.Config) (Store, func() error, error) {
	switch cfg.DataBackend {
	case config.BackendMemory:
		slog.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), func() error { return nil }, nil
	case config.BackendSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
		}
		slog.Info("SQLite repository initialized", "path", cfg.SQLiteDBPath)
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported data backend %q", cfg.DataBackend)
	}
}

// ConnectAMQP returns a client when AMQP is configured and reachable, nil
// otherwise. Callers carry on without messaging; the sync worker's periodic
// scan picks up what was not published.
func ConnectAMQP(cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		slog.Info("AMQP not configured, sync messages disabled")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		slog.Warn("Failed to connect to AMQP, continuing without it",
			"error", err,
			"exchange", cfg.AMQPExchange)
		return nil
	}
	slog.Info("AMQP client connected",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client
}

// BuildEngine wires the scheduler engine and the rule service on store. The
// ledger publishes sync messages through client when it is not nil.
func BuildEngine(store Store, client *amqp.Client, concurrency int) (*services.Engine, *services.RuleService) {
	var publisher services.SyncPublisher
	if client != nil {
		publisher = client
	}
	engine := services.NewEngine(services.Stores{
		Rules:     store,
		Instances: store,
		Ledger:    services.NewLedgerService(store, publisher),
	}, concurrency)
	return engine, services.NewRuleService(store, store, engine.Backfill())
}

// Location resolves the configured timezone, exiting on failure.
func Location(cfg *config.Config) *time.Location {
	loc, err := cfg.Location()
	if err != nil {
		slog.Error("Invalid timezone", "error", err)
		os.Exit(1)
	}
	return loc
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has run or timeout elapsed.
func GracefulShutdown(timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		slog.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			slog.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			slog.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}
