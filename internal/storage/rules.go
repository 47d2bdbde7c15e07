package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"ricorrenti/internal/core"
)

const ruleColumns = `id, owner, description, amount_cents, category_ref, payment_method_ref,
	frequency, anchor_weekday, anchor_day, start_date, end_date, active, created_at`

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error) {
	freq, weekday, day := core.ScheduleFields(rule.Schedule)
	if freq == "" {
		return rule, fmt.Errorf("%w: missing schedule", core.ErrInvalidRule)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurrence_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Owner, rule.Description, rule.Amount.Cents,
		rule.CategoryRef, rule.PaymentMethodRef,
		freq, nullInt(weekday), nullInt(day),
		rule.StartDate.String(), nullDate(rule.EndDate),
		rule.Active, formatTime(rule.CreatedAt),
	)
	if err != nil {
		return rule, unavailable("create rule", err)
	}

	slog.InfoContext(ctx, "Rule saved to SQLite",
		"rule_id", rule.ID,
		"frequency", freq,
		"amount_cents", rule.Amount.Cents)

	return rule, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, id string) (core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if isNoRows(err) {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}
	if err != nil {
		return core.RecurrenceRule{}, unavailable("get rule", err)
	}
	return rule, nil
}

func (r *SQLiteRepository) GetActiveRules(ctx context.Context) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM recurrence_rules
		WHERE active = 1
		ORDER BY created_at, id`)
	if err != nil {
		return nil, unavailable("get active rules", err)
	}
	defer rows.Close()

	var rules []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, unavailable("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get active rules", err)
	}
	return rules, nil
}

func (r *SQLiteRepository) SetRuleActive(ctx context.Context, id string, active bool) error {
	return r.updateRule(ctx, "set rule active", `UPDATE recurrence_rules SET active = ? WHERE id = ?`, active, id)
}

func (r *SQLiteRepository) SetRuleEndDate(ctx context.Context, id string, end core.Date) error {
	return r.updateRule(ctx, "set rule end date", `UPDATE recurrence_rules SET end_date = ? WHERE id = ?`, nullDate(end), id)
}

func (r *SQLiteRepository) updateRule(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

func scanRule(s scanner) (core.RecurrenceRule, error) {
	var (
		rule             core.RecurrenceRule
		freq             string
		weekday, day     sql.NullInt64
		start, createdAt string
		end              sql.NullString
	)
	err := s.Scan(&rule.ID, &rule.Owner, &rule.Description, &rule.Amount.Cents,
		&rule.CategoryRef, &rule.PaymentMethodRef,
		&freq, &weekday, &day, &start, &end, &rule.Active, &createdAt)
	if err != nil {
		return rule, err
	}

	var wdp, dp *int
	if weekday.Valid {
		v := int(weekday.Int64)
		wdp = &v
	}
	if day.Valid {
		v := int(day.Int64)
		dp = &v
	}
	// A stored rule that no longer parses is still returned; expansion
	// reports it as invalid and the sweep counts it as errored.
	rule.Schedule, _ = core.ScheduleFromFields(freq, wdp, dp)

	if rule.StartDate, err = core.ParseDate(start); err != nil {
		return rule, fmt.Errorf("parse start date: %w", err)
	}
	if end.Valid {
		if rule.EndDate, err = core.ParseDate(end.String); err != nil {
			return rule, fmt.Errorf("parse end date: %w", err)
		}
	}
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return rule, fmt.Errorf("parse created_at: %w", err)
	}
	return rule, nil
}
