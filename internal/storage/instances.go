package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ricorrenti/internal/core"
)

const instanceColumns = `id, rule_id, scheduled_date, state, ledger_ref, resolved_at, created_at`

func (r *SQLiteRepository) FindInstance(ctx context.Context, ruleID string, date core.Date) (*core.OccurrenceInstance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM occurrence_instances
		WHERE rule_id = ? AND scheduled_date = ?`, ruleID, date.String())
	inst, err := scanInstance(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find instance", err)
	}
	return &inst, nil
}

func (r *SQLiteRepository) InsertPending(ctx context.Context, ruleID string, date core.Date, now time.Time) (core.OccurrenceInstance, error) {
	return r.insertInstance(ctx, core.NewPendingInstance(ruleID, date, now))
}

func (r *SQLiteRepository) InsertResolved(ctx context.Context, ruleID string, date core.Date, state core.InstanceState, ledgerRef string, now time.Time) (core.OccurrenceInstance, error) {
	if !state.Terminal() {
		return core.OccurrenceInstance{}, fmt.Errorf("insert resolved instance: state %q is not terminal", state)
	}
	inst := core.NewPendingInstance(ruleID, date, now)
	inst.State = state
	inst.LedgerRef = ledgerRef
	inst.ResolvedAt = now
	return r.insertInstance(ctx, inst)
}

// insertInstance is insert-if-absent on (rule_id, scheduled_date). On
// conflict it returns the stored row with core.ErrDuplicateInstance.
func (r *SQLiteRepository) insertInstance(ctx context.Context, inst core.OccurrenceInstance) (core.OccurrenceInstance, error) {
	var resolvedAt sql.NullString
	if !inst.ResolvedAt.IsZero() {
		resolvedAt = sql.NullString{String: formatTime(inst.ResolvedAt), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO occurrence_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		inst.ID, inst.RuleID, inst.ScheduledDate.String(), string(inst.State),
		nullString(inst.LedgerRef), resolvedAt, formatTime(inst.CreatedAt),
	)
	if err != nil {
		return core.OccurrenceInstance{}, unavailable("insert instance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.OccurrenceInstance{}, unavailable("insert instance", err)
	}
	if n == 1 {
		return inst, nil
	}

	existing, err := r.FindInstance(ctx, inst.RuleID, inst.ScheduledDate)
	if err != nil {
		return core.OccurrenceInstance{}, err
	}
	if existing == nil {
		return core.OccurrenceInstance{}, unavailable("insert instance", fmt.Errorf("conflicting row for %s on %s vanished", inst.RuleID, inst.ScheduledDate))
	}
	return *existing, core.ErrDuplicateInstance
}

// Transition is a conditional update from pending; zero affected rows on an
// existing instance means another run resolved it first.
func (r *SQLiteRepository) Transition(ctx context.Context, instanceID string, to core.InstanceState, ledgerRef string, now time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition to non-terminal state %q", to)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE occurrence_instances
		SET state = ?, ledger_ref = ?, resolved_at = ?
		WHERE id = ? AND state = 'pending'`,
		string(to), nullString(ledgerRef), formatTime(now), instanceID,
	)
	if err != nil {
		return false, unavailable("transition instance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("transition instance", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM occurrence_instances WHERE id = ?`, instanceID).Scan(&exists)
	if isNoRows(err) {
		return false, core.ErrInstanceNotFound
	}
	if err != nil {
		return false, unavailable("transition instance", err)
	}
	return false, nil
}

func (r *SQLiteRepository) FindDueInstances(ctx context.Context, today core.Date) ([]core.OccurrenceInstance, error) {
	return r.queryInstances(ctx, "find due instances", `
		SELECT `+instanceColumns+` FROM occurrence_instances
		WHERE state = 'pending' AND scheduled_date <= ?
		ORDER BY scheduled_date, rule_id`, today.String())
}

// ListInstances returns every instance of a rule ordered by date.
func (r *SQLiteRepository) ListInstances(ctx context.Context, ruleID string) ([]core.OccurrenceInstance, error) {
	return r.queryInstances(ctx, "list instances", `
		SELECT `+instanceColumns+` FROM occurrence_instances
		WHERE rule_id = ?
		ORDER BY scheduled_date`, ruleID)
}

func (r *SQLiteRepository) queryInstances(ctx context.Context, op, query string, args ...any) ([]core.OccurrenceInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []core.OccurrenceInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func scanInstance(s scanner) (core.OccurrenceInstance, error) {
	var (
		inst                  core.OccurrenceInstance
		date, state, created  string
		ledgerRef, resolvedAt sql.NullString
	)
	if err := s.Scan(&inst.ID, &inst.RuleID, &date, &state, &ledgerRef, &resolvedAt, &created); err != nil {
		return inst, err
	}

	var err error
	if inst.ScheduledDate, err = core.ParseDate(date); err != nil {
		return inst, fmt.Errorf("parse scheduled date: %w", err)
	}
	inst.State = core.InstanceState(state)
	inst.LedgerRef = ledgerRef.String
	if resolvedAt.Valid {
		if inst.ResolvedAt, err = parseTime(resolvedAt.String); err != nil {
			return inst, fmt.Errorf("parse resolved_at: %w", err)
		}
	}
	if inst.CreatedAt, err = parseTime(created); err != nil {
		return inst, fmt.Errorf("parse created_at: %w", err)
	}
	return inst, nil
}
