package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenti/internal/amqp"
	"ricorrenti/internal/services"
)

// Consumer delivers ledger entry messages to a handler until ctx is done.
type Consumer interface {
	ConsumeLedgerEntries(ctx context.Context, handler func(context.Context, *amqp.LedgerEntryMessage) error) error
}

// SyncWorker mirrors ledger entries to Google Sheets, driven by AMQP messages
// and backed by the processor's periodic scan.
type SyncWorker struct {
	processor *services.SyncProcessor
	consumer  Consumer
}

// NewSyncWorker creates a sync worker. consumer may be nil, in which case the
// worker relies on the periodic scan alone.
func NewSyncWorker(processor *services.SyncProcessor, consumer Consumer) *SyncWorker {
	return &SyncWorker{
		processor: processor,
		consumer:  consumer,
	}
}

// HandleLedgerEntryMessage processes a single ledger entry message from AMQP
func (w *SyncWorker) HandleLedgerEntryMessage(ctx context.Context, msg *amqp.LedgerEntryMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"entry_id", msg.EntryID,
		"published_at", msg.Timestamp)

	if err := w.processor.SyncEntry(ctx, msg.EntryID); err != nil {
		return fmt.Errorf("sync ledger entry: %w", err)
	}
	return nil
}

// StartupSyncCheck drains entries left pending while the worker was down.
// It stops at the first scan that mirrors nothing, so entries that keep
// failing do not hold up startup.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n := w.processor.ProcessPending(ctx)
		if n == 0 {
			break
		}
		total += n
	}

	if total == 0 {
		slog.InfoContext(ctx, "No pending ledger entries found on startup")
		return
	}
	slog.InfoContext(ctx, "Startup sync completed", "synced", total)
}

// Run starts the periodic scan and, when a consumer is configured, consumes
// AMQP messages until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) error {
	w.StartupSyncCheck(ctx)

	if err := w.processor.Start(ctx); err != nil {
		return fmt.Errorf("start sync processor: %w", err)
	}
	defer func() {
		if err := w.processor.Stop(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "Failed to stop sync processor", "error", err)
		}
	}()

	if w.consumer == nil {
		slog.WarnContext(ctx, "AMQP not configured, relying on periodic scan only")
		<-ctx.Done()
		return nil
	}

	err := w.consumer.ConsumeLedgerEntries(ctx, w.HandleLedgerEntryMessage)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consume ledger entries: %w", err)
	}
	return nil
}
