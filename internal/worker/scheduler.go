package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ricorrenti/internal/core"
)

// JobRunner runs a batch job by name for an explicit now.
type JobRunner interface {
	RunJob(ctx context.Context, name string, now time.Time) (core.JobSummary, error)
}

// Jobs is the order the scheduler runs them in on every tick: expansion first
// so that the sweep sees next month's instances as soon as they are due.
var Jobs = []string{core.JobMonthlyExpansion, core.JobDueSweep}

// Scheduler triggers both batch jobs periodically. It is the only place that
// reads the wall clock; the jobs themselves receive now explicitly.
type Scheduler struct {
	runner   JobRunner
	interval time.Duration
	location *time.Location
	clock    func() time.Time
}

// NewScheduler creates a scheduler that evaluates dates in loc. A nil loc
// means UTC.
func NewScheduler(runner JobRunner, interval time.Duration, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		location: loc,
		clock:    time.Now,
	}
}

// Now returns the current instant in the scheduler's location, so that its
// calendar date is the local one.
func (s *Scheduler) Now() time.Time {
	return s.clock().In(s.location)
}

// RunOnce runs every job for now. A failing job is logged and does not prevent
// the next one from running; the first error is returned.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) ([]core.JobSummary, error) {
	var firstErr error
	summaries := make([]core.JobSummary, 0, len(Jobs))
	for _, name := range Jobs {
		summary, err := s.runner.RunJob(ctx, name, now)
		if err != nil {
			slog.ErrorContext(ctx, "Recurring job failed",
				"job", name,
				"run_date", core.DateOf(now).String(),
				"error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		summaries = append(summaries, summary)
		slog.InfoContext(ctx, "Recurring job completed",
			"job", summary.Job,
			"run_date", summary.RunDate.String(),
			"created", summary.Created,
			"resolved", summary.Resolved,
			"skipped", summary.Skipped,
			"errored", summary.Errored)
	}
	return summaries, firstErr
}

// Run runs the jobs immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Recurring job scheduler started",
		"interval", s.interval,
		"timezone", s.location.String())

	_, _ = s.RunOnce(ctx, s.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Recurring job scheduler stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx, s.Now())
		}
	}
}
