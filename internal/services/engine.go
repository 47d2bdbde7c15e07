package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ricorrenti/internal/core"
)

// Engine groups the three entry points of the scheduler behind one value, as
// seen by the trigger surfaces (HTTP, CLI, ticker).
type Engine struct {
	expansion *ExpansionJob
	due       *DueProcessor
	backfill  *BackfillPlanner
}

// Stores bundles what the engine needs from persistence.
type Stores struct {
	Rules     RuleStore
	Instances InstanceStore
	Ledger    LedgerWriter
}

// NewEngine wires the expansion job, due processor and backfill planner on
// the same stores.
func NewEngine(s Stores, concurrency int) *Engine {
	return &Engine{
		expansion: NewExpansionJob(s.Rules, s.Instances, concurrency),
		due:       NewDueProcessor(s.Rules, s.Instances, s.Ledger, concurrency),
		backfill:  NewBackfillPlanner(s.Instances, s.Ledger),
	}
}

func (e *Engine) RunMonthlyExpansion(ctx context.Context, now time.Time) (core.JobSummary, error) {
	return e.expansion.RunMonthlyExpansion(ctx, now)
}

func (e *Engine) RunDueInstanceSweep(ctx context.Context, now time.Time) (core.JobSummary, error) {
	return e.due.RunDueInstanceSweep(ctx, now)
}

func (e *Engine) RunBackfill(ctx context.Context, rule core.RecurrenceRule, now time.Time) (BackfillResult, error) {
	return e.backfill.RunBackfill(ctx, rule, now)
}

// Backfill exposes the planner for the rule-creation flow.
func (e *Engine) Backfill() *BackfillPlanner {
	return e.backfill
}

// ErrUnknownJob is returned by RunJob for a name it does not dispatch.
var ErrUnknownJob = errors.New("unknown job")

// RunJob dispatches a batch job by name.
func (e *Engine) RunJob(ctx context.Context, name string, now time.Time) (core.JobSummary, error) {
	switch name {
	case core.JobMonthlyExpansion:
		return e.RunMonthlyExpansion(ctx, now)
	case core.JobDueSweep:
		return e.RunDueInstanceSweep(ctx, now)
	default:
		return core.JobSummary{Job: name}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
}
