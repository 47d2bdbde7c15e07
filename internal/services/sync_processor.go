package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ricorrenti/internal/core"
)

type (
	// LedgerSyncStore is the ledger side of the Sheets mirror.
	LedgerSyncStore interface {
		GetLedgerEntry(ctx context.Context, id string) (core.LedgerEntry, error)
		ListPendingSync(ctx context.Context, limit int) ([]core.LedgerEntry, error)
		MarkSynced(ctx context.Context, id string) error
		// RecordSyncFailure bumps the entry's attempt counter and returns it.
		RecordSyncFailure(ctx context.Context, id string, reason string) (attempts int, err error)
		MarkSyncError(ctx context.Context, id string) error
	}

	// EntryMirror appends a ledger entry to the downstream spreadsheet.
	EntryMirror interface {
		AppendEntry(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to scan for entries not yet mirrored (default: 1m)
	PollInterval time.Duration

	// BatchSize is the max number of entries to process per scan (default: 10)
	BatchSize int

	// MaxRetries is the number of failed attempts before an entry is marked as errored (default: 3)
	MaxRetries int
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: time.Minute,
		BatchSize:    10,
		MaxRetries:   3,
	}
}

// SyncProcessor mirrors ledger entries to Google Sheets. Entries arrive
// through SyncEntry (AMQP consumer) and through a periodic scan of entries
// still pending, which covers lost or never published messages.
type SyncProcessor struct {
	store  LedgerSyncStore
	mirror EntryMirror
	config SyncProcessorConfig

	// Serializes SyncEntry so that the consumer and the scan never append the
	// same entry twice.
	syncMu sync.Mutex

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(store LedgerSyncStore, mirror EntryMirror, config SyncProcessorConfig) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	return &SyncProcessor{
		store:  store,
		mirror: mirror,
		config: config,
	}
}

// Start begins the scan loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.ProcessPending(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessPending(ctx)
		}
	}
}

// ProcessPending mirrors one batch of entries still pending and returns how
// many were synced.
func (p *SyncProcessor) ProcessPending(ctx context.Context) int {
	entries, err := p.store.ListPendingSync(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list pending ledger entries", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(entries))

	synced := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return synced
		}
		if err := p.SyncEntry(ctx, e.ID); err == nil {
			synced++
		}
	}
	return synced
}

// SyncEntry appends the ledger entry to the mirror and marks it synced. An
// entry that is no longer pending is left alone.
func (p *SyncProcessor) SyncEntry(ctx context.Context, id string) error {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	entry, err := p.store.GetLedgerEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("get ledger entry %s: %w", id, err)
	}
	if entry.SyncStatus != core.SyncPending {
		slog.DebugContext(ctx, "Ledger entry already handled, skipping",
			"ledger_ref", id,
			"sync_status", entry.SyncStatus)
		return nil
	}

	ref, err := p.mirror.AppendEntry(ctx, entry)
	if err != nil {
		p.handleFailure(ctx, entry, err)
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := p.store.MarkSynced(ctx, id); err != nil {
		slog.WarnContext(ctx, "Failed to mark ledger entry as synced",
			"ledger_ref", id, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Synced ledger entry to Google Sheets",
		"ledger_ref", id,
		"instance_id", entry.SourceInstanceID,
		"sheets_ref", ref)
	return nil
}

func (p *SyncProcessor) handleFailure(ctx context.Context, entry core.LedgerEntry, syncErr error) {
	attempts, err := p.store.RecordSyncFailure(ctx, entry.ID, syncErr.Error())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record sync attempt",
			"ledger_ref", entry.ID, "error", err)
		return
	}

	slog.WarnContext(ctx, "Sync processing failed",
		"ledger_ref", entry.ID,
		"attempt", attempts,
		"error", syncErr)

	if attempts < p.config.MaxRetries {
		return
	}
	if err := p.store.MarkSyncError(ctx, entry.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark ledger entry sync error",
			"ledger_ref", entry.ID, "error", err)
		return
	}
	slog.ErrorContext(ctx, "Ledger entry failed permanently after max retries",
		"ledger_ref", entry.ID,
		"attempts", attempts)
}
