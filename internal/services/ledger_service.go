package services

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenti/internal/core"
)

type (
	// LedgerRepository stores ledger entries. AppendExpense is keyed on the
	// draft's SourceInstanceID: a repeated draft returns the ID of the entry
	// already stored and created = false.
	LedgerRepository interface {
		AppendExpense(ctx context.Context, draft core.ExpenseDraft) (id string, created bool, err error)
	}

	// SyncPublisher announces a new ledger entry to the downstream mirror.
	SyncPublisher interface {
		PublishLedgerEntry(ctx context.Context, entryID string) error
	}
)

// LedgerService is the LedgerWriter used in production: it stores the entry
// locally and then publishes a sync message for the Sheets mirror.
type LedgerService struct {
	repo      LedgerRepository
	publisher SyncPublisher
}

// NewLedgerService creates a ledger service. publisher may be nil, in which
// case entries are only picked up by the sync worker's periodic scan.
func NewLedgerService(repo LedgerRepository, publisher SyncPublisher) *LedgerService {
	return &LedgerService{
		repo:      repo,
		publisher: publisher,
	}
}

// CreateExpense saves the entry and publishes a sync message. Only the save
// can fail the call; errors wrap core.ErrLedgerWrite.
func (s *LedgerService) CreateExpense(ctx context.Context, draft core.ExpenseDraft) (string, error) {
	if s.repo == nil {
		return "", fmt.Errorf("%w: ledger not configured", core.ErrLedgerWrite)
	}
	if err := draft.Validate(); err != nil {
		return "", fmt.Errorf("%w: invalid draft: %w", core.ErrLedgerWrite, err)
	}

	id, created, err := s.repo.AppendExpense(ctx, draft)
	if err != nil {
		return "", fmt.Errorf("%w: save expense: %w", core.ErrLedgerWrite, err)
	}
	if !created {
		slog.InfoContext(ctx, "Ledger entry already exists for occurrence",
			"ledger_ref", id,
			"instance_id", draft.SourceInstanceID)
		return id, nil
	}

	if err := s.publishSyncMessage(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"ledger_ref", id, "error", err)
		// The entry is stored; the sync worker's scan will pick it up.
	}

	return id, nil
}

func (s *LedgerService) publishSyncMessage(ctx context.Context, id string) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping sync message")
		return nil
	}
	return s.publisher.PublishLedgerEntry(ctx, id)
}
