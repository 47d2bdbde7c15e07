package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/schedule"
)

const (
	BackfillGenerated BackfillOutcome = "generated"
	BackfillPending   BackfillOutcome = "pending"
	BackfillSkipped   BackfillOutcome = "skipped"
	BackfillExisting  BackfillOutcome = "existing"
	BackfillNone      BackfillOutcome = "none"
)

type (
	BackfillOutcome string

	// BackfillResult reports what the planner did for a new rule.
	BackfillResult struct {
		Outcome  BackfillOutcome          `json:"outcome"`
		Date     core.Date                `json:"date"`
		Instance *core.OccurrenceInstance `json:"-"`
	}
)

// BackfillPlanner makes sure a new rule's first due occurrence shows up
// immediately instead of waiting for the next batch run.
type BackfillPlanner struct {
	instances InstanceStore
	ledger    LedgerWriter
}

// NewBackfillPlanner creates a new backfill planner
func NewBackfillPlanner(instances InstanceStore, ledger LedgerWriter) *BackfillPlanner {
	return &BackfillPlanner{
		instances: instances,
		ledger:    ledger,
	}
}

// RunBackfill handles the current period of a freshly persisted rule, using
// now as the reference date.
//
// A current-period occurrence on or before today is inserted pending and then
// realized; a ledger failure is returned (wrapping core.ErrLedgerWrite) and the
// pending instance is left for the daily sweep. A later occurrence is only
// inserted pending. When the current period has no occurrence, the next
// period's first occurrence is inserted pending. An existing instance for the
// date makes the call a no-op.
func (p *BackfillPlanner) RunBackfill(ctx context.Context, rule core.RecurrenceRule, now time.Time) (BackfillResult, error) {
	if p.instances == nil || p.ledger == nil {
		return BackfillResult{Outcome: BackfillNone}, fmt.Errorf("backfill planner not properly initialized")
	}
	if err := rule.ValidateSchedule(); err != nil {
		return BackfillResult{Outcome: BackfillNone}, err
	}

	today := core.DateOf(now)
	current, err := schedule.CurrentPeriod(rule, today)
	if err != nil {
		return BackfillResult{Outcome: BackfillNone}, err
	}

	if len(current) == 0 {
		next, ok, err := schedule.NextOccurrenceAfterPeriod(rule, today)
		if err != nil {
			return BackfillResult{Outcome: BackfillNone}, err
		}
		if !ok || !rule.Active {
			slog.InfoContext(ctx, "Backfill found no upcoming occurrence",
				"rule_id", rule.ID,
				"active", rule.Active,
				"today", today.String())
			return BackfillResult{Outcome: BackfillNone}, nil
		}
		return p.insertPending(ctx, rule, next, now)
	}

	// Both frequencies have exactly one anchor date per period.
	date := current[0]

	existing, err := p.instances.FindInstance(ctx, rule.ID, date)
	if err != nil {
		return BackfillResult{Outcome: BackfillNone, Date: date}, fmt.Errorf("find instance: %w", err)
	}
	if existing != nil {
		return BackfillResult{Outcome: BackfillExisting, Date: date, Instance: existing}, nil
	}

	if !rule.Active {
		if date.After(today) {
			return BackfillResult{Outcome: BackfillNone, Date: date}, nil
		}
		inst, err := p.instances.InsertResolved(ctx, rule.ID, date, core.Skipped, "", now)
		if errors.Is(err, core.ErrDuplicateInstance) {
			return BackfillResult{Outcome: BackfillExisting, Date: date, Instance: &inst}, nil
		}
		if err != nil {
			return BackfillResult{Outcome: BackfillNone, Date: date}, fmt.Errorf("insert skipped instance: %w", err)
		}
		slog.InfoContext(ctx, "Backfill recorded skipped occurrence for inactive rule",
			"rule_id", rule.ID,
			"scheduled_date", date.String())
		return BackfillResult{Outcome: BackfillSkipped, Date: date, Instance: &inst}, nil
	}

	res, err := p.insertPending(ctx, rule, date, now)
	if err != nil || res.Outcome != BackfillPending || date.After(today) {
		return res, err
	}

	// Already passed or due today: realize it now.
	ref, err := realize(ctx, p.instances, p.ledger, rule, *res.Instance, now)
	if errors.Is(err, errTransitionLost) {
		return BackfillResult{Outcome: BackfillExisting, Date: date, Instance: res.Instance}, nil
	}
	if err != nil {
		slog.WarnContext(ctx, "Backfill could not realize first occurrence, left pending",
			"rule_id", rule.ID,
			"instance_id", res.Instance.ID,
			"scheduled_date", date.String(),
			"error", err)
		return res, err
	}

	inst := *res.Instance
	inst.State = core.Generated
	inst.LedgerRef = ref
	inst.ResolvedAt = now
	slog.InfoContext(ctx, "Backfill realized first occurrence",
		"rule_id", rule.ID,
		"instance_id", inst.ID,
		"scheduled_date", date.String(),
		"ledger_ref", ref)
	return BackfillResult{Outcome: BackfillGenerated, Date: date, Instance: &inst}, nil
}

func (p *BackfillPlanner) insertPending(ctx context.Context, rule core.RecurrenceRule, date core.Date, now time.Time) (BackfillResult, error) {
	inst, err := p.instances.InsertPending(ctx, rule.ID, date, now)
	if errors.Is(err, core.ErrDuplicateInstance) {
		return BackfillResult{Outcome: BackfillExisting, Date: date, Instance: &inst}, nil
	}
	if err != nil {
		return BackfillResult{Outcome: BackfillNone, Date: date}, fmt.Errorf("insert pending instance: %w", err)
	}
	slog.InfoContext(ctx, "Backfill scheduled occurrence",
		"rule_id", rule.ID,
		"instance_id", inst.ID,
		"scheduled_date", date.String())
	return BackfillResult{Outcome: BackfillPending, Date: date, Instance: &inst}, nil
}

// errTransitionLost means the instance left pending between the ledger write
// and the transition, i.e. a concurrent run resolved it first.
var errTransitionLost = errors.New("instance no longer pending")

// realize writes the ledger entry for a pending instance and marks it
// generated. The ledger is keyed on the instance ID, so repeating the call
// after a failed transition does not create a second entry.
func realize(ctx context.Context, instances InstanceStore, ledger LedgerWriter, rule core.RecurrenceRule, inst core.OccurrenceInstance, now time.Time) (string, error) {
	ref, err := ledger.CreateExpense(ctx, core.DraftFor(rule, inst.ID, inst.ScheduledDate))
	if err != nil {
		if !errors.Is(err, core.ErrLedgerWrite) {
			err = fmt.Errorf("%w: %w", core.ErrLedgerWrite, err)
		}
		return "", err
	}
	ok, err := instances.Transition(ctx, inst.ID, core.Generated, ref, now)
	if err != nil {
		return ref, fmt.Errorf("mark instance generated: %w", err)
	}
	if !ok {
		return ref, errTransitionLost
	}
	return ref, nil
}
