package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ricorrenti/internal/core"
	"ricorrenti/internal/schedule"
)

// DefaultConcurrency bounds how many rules or instances a sweep handles at once.
const DefaultConcurrency = 4

// ExpansionJob keeps a rolling month of pending instances ahead of the due
// sweep, so that the sweep never computes dates itself.
type ExpansionJob struct {
	rules       RuleStore
	instances   InstanceStore
	concurrency int
}

// NewExpansionJob creates a new monthly expansion job
func NewExpansionJob(rules RuleStore, instances InstanceStore, concurrency int) *ExpansionJob {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &ExpansionJob{
		rules:       rules,
		instances:   instances,
		concurrency: concurrency,
	}
}

// RunMonthlyExpansion expands the calendar month after now for every active
// rule into pending instances. It is a best-effort sweep: a failing rule is
// logged and counted as errored. Only a failure to list the rules aborts the
// run. Re-running for the same month creates nothing new.
//
// Created counts inserted instances; Skipped counts occurrences that already
// existed plus rules found inactive.
func (j *ExpansionJob) RunMonthlyExpansion(ctx context.Context, now time.Time) (core.JobSummary, error) {
	today := core.DateOf(now)
	summary := core.JobSummary{Job: core.JobMonthlyExpansion, RunDate: today}
	if j.rules == nil || j.instances == nil {
		return summary, fmt.Errorf("expansion job not properly initialized")
	}

	year, month := core.NextMonth(today.Year(), time.Month(today.Month()))

	rules, err := j.rules.GetActiveRules(ctx)
	if err != nil {
		return summary, fmt.Errorf("get active rules: %w", err)
	}

	slog.InfoContext(ctx, "Expanding recurring rules",
		"total_active", len(rules),
		"target_year", year,
		"target_month", int(month),
		"run_date", today.String())

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for _, rule := range rules {
		g.Go(func() error {
			s := j.expandRule(ctx, rule, year, month, now)
			mu.Lock()
			summary.Add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Monthly expansion complete",
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"total_checked", len(rules))

	return summary, nil
}

func (j *ExpansionJob) expandRule(ctx context.Context, rule core.RecurrenceRule, year int, month time.Month, now time.Time) core.JobSummary {
	var s core.JobSummary
	if !rule.Active {
		s.Skipped++
		return s
	}
	if err := ctx.Err(); err != nil {
		s.Errored++
		return s
	}

	dates, err := schedule.Expand(rule, year, month)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to expand rule",
			"rule_id", rule.ID,
			"error", err)
		s.Errored++
		return s
	}

	for _, date := range dates {
		inst, err := j.instances.InsertPending(ctx, rule.ID, date, now)
		if errors.Is(err, core.ErrDuplicateInstance) {
			s.Skipped++
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to insert pending instance",
				"rule_id", rule.ID,
				"scheduled_date", date.String(),
				"error", err)
			s.Errored++
			return s
		}
		s.Created++
		slog.DebugContext(ctx, "Scheduled occurrence",
			"rule_id", rule.ID,
			"instance_id", inst.ID,
			"scheduled_date", date.String())
	}
	return s
}
