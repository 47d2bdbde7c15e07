package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"ricorrenti/internal/cli"
	apphttp "ricorrenti/internal/http"
	applog "ricorrenti/internal/log"
	"ricorrenti/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)
	logger.Info("Starting recurring-worker")

	store, closeStore, err := cli.OpenStore(cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer closeStore()

	// Ledger entries are announced on AMQP; ledger-sync-worker mirrors them
	// to Google Sheets.
	amqpClient := cli.ConnectAMQP(cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	engine, rules := cli.BuildEngine(store, amqpClient, cfg.JobConcurrency)
	loc := cli.Location(cfg)

	var health apphttp.Pinger
	if p, ok := store.(apphttp.Pinger); ok {
		health = p
	}
	srv := apphttp.NewServer(apphttp.Options{
		Addr:       net.JoinHostPort("", cfg.Port),
		CronSecret: cfg.CronSecret,
		Location:   loc,
		Jobs:       engine,
		Rules:      rules,
		Instances:  store,
		Health:     health,
		Logger:     logger,
	})

	scheduler := worker.NewScheduler(engine, cfg.ProcessorInterval, loc)
	logger.Info("Recurring job scheduler configured",
		"interval", cfg.ProcessorInterval,
		"timezone", loc.String(),
		"concurrency", cfg.JobConcurrency)

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down recurring-worker...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	logger.Info("HTTP server listening", applog.FieldComponent, applog.ComponentHTTP, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("Recurring-worker shutdown complete")
}
