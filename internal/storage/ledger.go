package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ricorrenti/internal/core"
)

const expenseColumns = `id, source_instance_id, owner, description, amount_cents,
	category_ref, payment_method_ref, expense_date, sync_status, created_at`

// AppendExpense stores a ledger entry. A draft whose SourceInstanceID is
// already stored returns the existing entry's ID with created = false.
func (r *SQLiteRepository) AppendExpense(ctx context.Context, d core.ExpenseDraft) (string, bool, error) {
	id := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, source_instance_id, owner, description, amount_cents,
			category_ref, payment_method_ref, expense_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		id, nullString(d.SourceInstanceID), d.Owner, d.Description, d.Amount.Cents,
		d.CategoryRef, d.PaymentMethodRef, d.Date.String(),
	)
	if err != nil {
		return "", false, unavailable("create expense", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, unavailable("create expense", err)
	}
	if n == 1 {
		slog.InfoContext(ctx, "Expense saved to SQLite",
			"ledger_ref", id,
			"instance_id", d.SourceInstanceID,
			"amount_cents", d.Amount.Cents,
			"date", d.Date.String())
		return id, true, nil
	}

	var existing string
	err = r.db.QueryRowContext(ctx, `SELECT id FROM expenses WHERE source_instance_id = ?`, d.SourceInstanceID).Scan(&existing)
	if err != nil {
		return "", false, unavailable("find expense by instance", err)
	}
	return existing, false, nil
}

// GetLedgerEntry retrieves a single ledger entry by ID
func (r *SQLiteRepository) GetLedgerEntry(ctx context.Context, id string) (core.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return e, unavailable("get expense by id", err)
	}
	return e, nil
}

// ListPendingSync returns entries not yet mirrored, oldest first.
func (r *SQLiteRepository) ListPendingSync(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE sync_status = 'pending'
		ORDER BY created_at, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("get pending sync expenses", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable("scan expense", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get pending sync expenses", err)
	}
	return out, nil
}

// MarkSynced marks an expense as successfully synced
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET sync_status = 'synced', synced_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), last_sync_error = NULL
		WHERE id = ?`, id)
	if err != nil {
		return unavailable("mark expense synced", err)
	}
	slog.InfoContext(ctx, "Expense marked as synced", "ledger_ref", id)
	return nil
}

// RecordSyncFailure bumps the attempt counter and keeps the last error.
func (r *SQLiteRepository) RecordSyncFailure(ctx context.Context, id string, reason string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE expenses
		SET sync_attempts = sync_attempts + 1, last_sync_error = ?
		WHERE id = ?
		RETURNING sync_attempts`, reason, id).Scan(&attempts)
	if err != nil {
		return 0, unavailable("record sync failure", err)
	}
	return attempts, nil
}

// MarkSyncError marks an expense as having sync errors
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE expenses SET sync_status = 'error' WHERE id = ?`, id)
	if err != nil {
		return unavailable("mark expense sync error", err)
	}
	slog.WarnContext(ctx, "Expense marked with sync error", "ledger_ref", id)
	return nil
}

func scanEntry(s scanner) (core.LedgerEntry, error) {
	var (
		e                     core.LedgerEntry
		source                sql.NullString
		date, status, created string
	)
	err := s.Scan(&e.ID, &source, &e.Owner, &e.Description, &e.Amount.Cents,
		&e.CategoryRef, &e.PaymentMethodRef, &date, &status, &created)
	if err != nil {
		return e, err
	}
	e.SourceInstanceID = source.String
	e.SyncStatus = core.SyncStatus(status)
	if e.Date, err = core.ParseDate(date); err != nil {
		return e, fmt.Errorf("parse expense date: %w", err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return e, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}
