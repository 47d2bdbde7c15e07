package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ricorrenti/internal/core"
)

// DueProcessor resolves pending instances whose date has arrived into either a
// ledger entry or a skipped instance.
type DueProcessor struct {
	rules       RuleStore
	instances   InstanceStore
	ledger      LedgerWriter
	concurrency int
}

// NewDueProcessor creates a new due instance processor
func NewDueProcessor(rules RuleStore, instances InstanceStore, ledger LedgerWriter, concurrency int) *DueProcessor {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &DueProcessor{
		rules:       rules,
		instances:   instances,
		ledger:      ledger,
		concurrency: concurrency,
	}
}

// RunDueInstanceSweep resolves every pending instance scheduled on or before
// now's date. Instances of inactive rules, or dated after the rule's end date,
// become skipped; the rest are realized through the ledger and become
// generated. A ledger failure leaves the instance pending for the next run.
// Only a failure to list the due instances aborts the run.
func (p *DueProcessor) RunDueInstanceSweep(ctx context.Context, now time.Time) (core.JobSummary, error) {
	today := core.DateOf(now)
	summary := core.JobSummary{Job: core.JobDueSweep, RunDate: today}
	if p.rules == nil || p.instances == nil || p.ledger == nil {
		return summary, fmt.Errorf("due processor not properly initialized")
	}

	due, err := p.instances.FindDueInstances(ctx, today)
	if err != nil {
		return summary, fmt.Errorf("find due instances: %w", err)
	}

	slog.InfoContext(ctx, "Processing due occurrences",
		"total_due", len(due),
		"processing_date", today.String())

	lookup := newRuleLookup(p.rules)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, inst := range due {
		g.Go(func() error {
			s := p.resolve(ctx, lookup, inst, now)
			mu.Lock()
			summary.Add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Due occurrence processing complete",
		"resolved", summary.Resolved,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"total_checked", len(due))

	return summary, nil
}

func (p *DueProcessor) resolve(ctx context.Context, lookup *ruleLookup, inst core.OccurrenceInstance, now time.Time) core.JobSummary {
	var s core.JobSummary
	if err := ctx.Err(); err != nil {
		s.Errored++
		return s
	}

	rule, err := lookup.get(ctx, inst.RuleID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to get rule for due occurrence",
			"rule_id", inst.RuleID,
			"instance_id", inst.ID,
			"error", err)
		s.Errored++
		return s
	}

	if !rule.Active || rule.PastEnd(inst.ScheduledDate) {
		ok, err := p.instances.Transition(ctx, inst.ID, core.Skipped, "", now)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to skip occurrence",
				"instance_id", inst.ID,
				"error", err)
			s.Errored++
			return s
		}
		if ok {
			s.Skipped++
			slog.InfoContext(ctx, "Skipped occurrence",
				"rule_id", rule.ID,
				"instance_id", inst.ID,
				"scheduled_date", inst.ScheduledDate.String(),
				"active", rule.Active)
		}
		return s
	}

	ref, err := realize(ctx, p.instances, p.ledger, rule, inst, now)
	switch {
	case errors.Is(err, errTransitionLost):
		slog.DebugContext(ctx, "Occurrence resolved by a concurrent run",
			"instance_id", inst.ID)
		return s
	case errors.Is(err, core.ErrLedgerWrite):
		slog.WarnContext(ctx, "Failed to realize occurrence, will retry on next run",
			"rule_id", rule.ID,
			"instance_id", inst.ID,
			"scheduled_date", inst.ScheduledDate.String(),
			"error", err)
		s.Errored++
		return s
	case err != nil:
		slog.ErrorContext(ctx, "Failed to mark occurrence generated",
			"instance_id", inst.ID,
			"ledger_ref", ref,
			"error", err)
		s.Errored++
		return s
	}

	s.Resolved++
	slog.InfoContext(ctx, "Created expense from recurring rule",
		"rule_id", rule.ID,
		"instance_id", inst.ID,
		"scheduled_date", inst.ScheduledDate.String(),
		"amount_cents", rule.Amount.Cents,
		"frequency", rule.Frequency(),
		"ledger_ref", ref)
	return s
}

// ruleLookup caches rules for the duration of one sweep. Concurrent misses for
// the same rule share a single store round trip.
type ruleLookup struct {
	rules RuleStore
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]core.RecurrenceRule
}

func newRuleLookup(rules RuleStore) *ruleLookup {
	return &ruleLookup{rules: rules, cache: make(map[string]core.RecurrenceRule)}
}

func (l *ruleLookup) get(ctx context.Context, id string) (core.RecurrenceRule, error) {
	l.mu.Lock()
	rule, ok := l.cache[id]
	l.mu.Unlock()
	if ok {
		return rule, nil
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		r, err := l.rules.GetRule(ctx, id)
		if err != nil {
			return core.RecurrenceRule{}, err
		}
		l.mu.Lock()
		l.cache[id] = r
		l.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	return v.(core.RecurrenceRule), nil
}
