package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ricorrenti/internal/core"
)

// ErrBackfillIncomplete is returned by CreateRule when the rule was stored but
// its backfill failed. The batch jobs pick up whatever the backfill left.
var ErrBackfillIncomplete = errors.New("rule saved, backfill incomplete")

// RuleService is the rule-creation flow: persist, then backfill the current
// period so the first occurrence does not wait for the next batch run.
type RuleService struct {
	rules    RuleStore
	writer   RuleWriter
	backfill *BackfillPlanner
}

func NewRuleService(rules RuleStore, writer RuleWriter, backfill *BackfillPlanner) *RuleService {
	return &RuleService{
		rules:    rules,
		writer:   writer,
		backfill: backfill,
	}
}

// CreateRule validates and persists rule, then runs the backfill with now as
// the reference date. The rule is stored even when the backfill fails; the
// returned error then wraps ErrBackfillIncomplete and the backfill failure
// (core.ErrLedgerWrite when the ledger refused the first occurrence, which
// stays pending).
func (s *RuleService) CreateRule(ctx context.Context, rule core.RecurrenceRule, now time.Time) (core.RecurrenceRule, BackfillResult, error) {
	if s.writer == nil || s.backfill == nil {
		return rule, BackfillResult{Outcome: BackfillNone}, fmt.Errorf("rule service not properly initialized")
	}
	if err := rule.Validate(); err != nil {
		if !errors.Is(err, core.ErrInvalidRule) {
			err = fmt.Errorf("%w: %w", core.ErrInvalidRule, err)
		}
		return rule, BackfillResult{Outcome: BackfillNone}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	saved, err := s.writer.CreateRule(ctx, rule)
	if err != nil {
		return rule, BackfillResult{Outcome: BackfillNone}, fmt.Errorf("create rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule created",
		"rule_id", saved.ID,
		"frequency", saved.Frequency(),
		"start_date", saved.StartDate.String(),
		"amount_cents", saved.Amount.Cents)

	res, err := s.backfill.RunBackfill(ctx, saved, now)
	if err != nil {
		return saved, res, fmt.Errorf("%w: %w", ErrBackfillIncomplete, err)
	}
	return saved, res, nil
}

// DeactivateRule stops future occurrences. Pending instances are left in
// place and resolved as skipped by the due sweep.
func (s *RuleService) DeactivateRule(ctx context.Context, id string) error {
	if err := s.writer.SetRuleActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	slog.InfoContext(ctx, "Recurrence rule deactivated", "rule_id", id)
	return nil
}

// SetEndDate bounds a rule. Pending instances dated after end are resolved
// as skipped by the due sweep.
func (s *RuleService) SetEndDate(ctx context.Context, id string, end core.Date) error {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return fmt.Errorf("get rule: %w", err)
	}
	if end.Before(rule.StartDate) {
		return fmt.Errorf("%w: end date %s before start date %s", core.ErrInvalidRule, end, rule.StartDate)
	}
	if err := s.writer.SetRuleEndDate(ctx, id, end); err != nil {
		return fmt.Errorf("set rule end date: %w", err)
	}
	slog.InfoContext(ctx, "Recurrence rule end date set",
		"rule_id", id,
		"end_date", end.String())
	return nil
}
