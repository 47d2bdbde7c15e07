package services

import (
	"context"
	"time"

	"ricorrenti/internal/core"
)

// Ports for the stores and the ledger the engine depends on.
type (
	RuleStore interface {
		// GetActiveRules lists every rule with active = true.
		GetActiveRules(ctx context.Context) ([]core.RecurrenceRule, error)
		// GetRule returns core.ErrRuleNotFound for an unknown id.
		GetRule(ctx context.Context, id string) (core.RecurrenceRule, error)
	}

	// RuleWriter is used by the rule-creation flow, not by the batch jobs.
	RuleWriter interface {
		CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error)
		SetRuleActive(ctx context.Context, id string, active bool) error
		SetRuleEndDate(ctx context.Context, id string, end core.Date) error
	}

	// InstanceStore persists occurrence instances. Both insert methods are
	// insert-if-absent on (ruleID, date): when the pair already exists they
	// return the stored instance together with core.ErrDuplicateInstance.
	InstanceStore interface {
		FindInstance(ctx context.Context, ruleID string, date core.Date) (*core.OccurrenceInstance, error)
		InsertPending(ctx context.Context, ruleID string, date core.Date, now time.Time) (core.OccurrenceInstance, error)
		InsertResolved(ctx context.Context, ruleID string, date core.Date, state core.InstanceState, ledgerRef string, now time.Time) (core.OccurrenceInstance, error)
		// Transition moves a pending instance to the terminal state to. It
		// returns false without error when the instance is no longer pending.
		Transition(ctx context.Context, instanceID string, to core.InstanceState, ledgerRef string, now time.Time) (bool, error)
		// FindDueInstances lists pending instances scheduled on or before today,
		// ordered by scheduled date.
		FindDueInstances(ctx context.Context, today core.Date) ([]core.OccurrenceInstance, error)
	}

	// LedgerWriter realizes an occurrence as a user-visible expense. Failures
	// wrap core.ErrLedgerWrite.
	LedgerWriter interface {
		CreateExpense(ctx context.Context, draft core.ExpenseDraft) (ledgerRef string, err error)
	}
)
