package main

import (
	"context"
	"os"
	"time"

	"ricorrenti/internal/cli"
	"ricorrenti/internal/services"
	"ricorrenti/internal/sheets"
	"ricorrenti/internal/sheets/google"
	sheetsmem "ricorrenti/internal/sheets/memory"
	"ricorrenti/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)
	logger.Info("Starting ledger-sync-worker")

	store, closeStore, err := cli.OpenStore(cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer closeStore()

	var mirror sheets.EntryWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := google.New(context.Background(), google.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror configured", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, mirroring to memory only")
		mirror = sheetsmem.New()
	}

	processor := services.NewSyncProcessor(store, mirror, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
		MaxRetries:   cfg.SyncMaxRetries,
	})

	var consumer worker.Consumer
	if client := cli.ConnectAMQP(cfg); client != nil {
		defer client.Close()
		consumer = client
	}
	syncWorker := worker.NewSyncWorker(processor, consumer)

	runDone := make(chan error, 1)
	ctx, done := cli.GracefulShutdown(30*time.Second, func(context.Context) {
		logger.Info("Shutting down ledger-sync-worker...")
		<-runDone
	})

	err = syncWorker.Run(ctx)
	runDone <- err
	if err != nil {
		logger.Error("Sync worker stopped with error", "error", err)
		closeStore()
		os.Exit(1)
	}

	<-done
	logger.Info("Ledger-sync-worker shutdown complete")
}
