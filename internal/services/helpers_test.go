package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ricorrenti/internal/core"
	"ricorrenti/internal/storage"
	"ricorrenti/internal/storage/memory"
)

// testStore is what both store implementations offer.
type testStore interface {
	RuleStore
	RuleWriter
	InstanceStore
	LedgerRepository
	ListInstances(ctx context.Context, ruleID string) ([]core.OccurrenceInstance, error)
}

// forEachStore runs fn once against the in-memory store and once against a
// fresh SQLite database.
func forEachStore(t *testing.T, fn func(t *testing.T, st testStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "engine.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		fn(t, repo)
	})
}

func day(y, m, d int) core.Date { return core.NewDate(y, m, d) }

// at returns noon UTC on the given day, the "now" passed to entry points.
func at(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC)
}

func monthly(id string, anchor int, start core.Date) core.RecurrenceRule {
	return core.RecurrenceRule{
		ID:               id,
		Owner:            "u1",
		Amount:           core.Money{Cents: 4200},
		Description:      "Rule " + id,
		CategoryRef:      "Casa",
		PaymentMethodRef: "card",
		Schedule:         core.MonthlySchedule{Day: anchor},
		StartDate:        start,
		Active:           true,
		CreatedAt:        at(2025, 1, 1),
	}
}

func weekly(id string, weekday int, start core.Date) core.RecurrenceRule {
	r := monthly(id, 1, start)
	r.Schedule = core.WeeklySchedule{Weekday: weekday}
	return r
}

func mustCreateRule(t *testing.T, st RuleWriter, r core.RecurrenceRule) core.RecurrenceRule {
	t.Helper()
	saved, err := st.CreateRule(context.Background(), r)
	if err != nil {
		t.Fatalf("create rule %s: %v", r.ID, err)
	}
	return saved
}

func instancesOf(t *testing.T, st testStore, ruleID string) []core.OccurrenceInstance {
	t.Helper()
	out, err := st.ListInstances(context.Background(), ruleID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	return out
}

func assertSummary(t *testing.T, got core.JobSummary, created, resolved, skipped, errored int) {
	t.Helper()
	if got.Created != created || got.Resolved != resolved || got.Skipped != skipped || got.Errored != errored {
		t.Errorf("summary = {created:%d resolved:%d skipped:%d errored:%d}, want {created:%d resolved:%d skipped:%d errored:%d}",
			got.Created, got.Resolved, got.Skipped, got.Errored, created, resolved, skipped, errored)
	}
}

// flakyLedger wraps a LedgerWriter, counts calls and fails the next
// failNext calls.
type flakyLedger struct {
	next LedgerWriter

	mu       sync.Mutex
	failNext int
	calls    int
	drafts   []core.ExpenseDraft
}

func newLedger(repo LedgerRepository) *flakyLedger {
	return &flakyLedger{next: NewLedgerService(repo, nil)}
}

func (l *flakyLedger) CreateExpense(ctx context.Context, d core.ExpenseDraft) (string, error) {
	l.mu.Lock()
	l.calls++
	if l.failNext > 0 {
		l.failNext--
		l.mu.Unlock()
		return "", fmt.Errorf("%w: ledger offline", core.ErrLedgerWrite)
	}
	l.drafts = append(l.drafts, d)
	l.mu.Unlock()
	return l.next.CreateExpense(ctx, d)
}

func (l *flakyLedger) failFor(n int) {
	l.mu.Lock()
	l.failNext = n
	l.mu.Unlock()
}

func (l *flakyLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

var errBackendDown = errors.New("backend down")

// brokenRules fails the initial listing.
type brokenRules struct{ RuleStore }

func (brokenRules) GetActiveRules(context.Context) ([]core.RecurrenceRule, error) {
	return nil, fmt.Errorf("%w: get active rules: %w", core.ErrStoreUnavailable, errBackendDown)
}

// brokenInstances fails inserts for one rule and, optionally, the due listing.
type brokenInstances struct {
	InstanceStore
	ruleID  string
	failDue bool
}

func (b brokenInstances) InsertPending(ctx context.Context, ruleID string, date core.Date, now time.Time) (core.OccurrenceInstance, error) {
	if ruleID == b.ruleID {
		return core.OccurrenceInstance{}, fmt.Errorf("%w: insert instance: %w", core.ErrStoreUnavailable, errBackendDown)
	}
	return b.InstanceStore.InsertPending(ctx, ruleID, date, now)
}

func (b brokenInstances) FindDueInstances(ctx context.Context, today core.Date) ([]core.OccurrenceInstance, error) {
	if b.failDue {
		return nil, fmt.Errorf("%w: find due instances: %w", core.ErrStoreUnavailable, errBackendDown)
	}
	return b.InstanceStore.FindDueInstances(ctx, today)
}
