// Command recurring-job runs one batch job and prints its summary as JSON.
// It is meant for an external scheduler (cron, systemd timer):
//
//	recurring-job -job monthly-expansion
//	recurring-job -job due-sweep -now 2025-04-05
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ricorrenti/internal/cli"
	"ricorrenti/internal/core"
	applog "ricorrenti/internal/log"
)

func main() {
	job := flag.String("job", "", fmt.Sprintf("job to run: %s or %s", core.JobMonthlyExpansion, core.JobDueSweep))
	nowFlag := flag.String("now", "", "run as of this date (YYYY-MM-DD) instead of today")
	flag.Parse()

	if *job != core.JobMonthlyExpansion && *job != core.JobDueSweep {
		flag.Usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	loc := cli.Location(cfg)
	now := time.Now().In(loc)
	if *nowFlag != "" {
		d, err := core.ParseDate(*nowFlag)
		if err != nil {
			logger.Error("Invalid -now", "error", err)
			os.Exit(2)
		}
		now = time.Date(d.Year(), time.Month(d.Month()), d.Day(), 12, 0, 0, 0, loc)
	}

	store, closeStore, err := cli.OpenStore(cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer closeStore()

	amqpClient := cli.ConnectAMQP(cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}
	engine, _ := cli.BuildEngine(store, amqpClient, cfg.JobConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := engine.RunJob(ctx, *job, now)
	if err != nil {
		logger.Error("Recurring job failed", applog.FieldJob, *job, "error", err)
		stop()
		closeStore()
		os.Exit(1)
	}

	applog.NewStructuredLogger(logger).LogJobCompleted(ctx, summary)
	if err := json.NewEncoder(os.Stdout).Encode(summary); err != nil {
		logger.Error("Failed to write summary", "error", err)
	}
}
