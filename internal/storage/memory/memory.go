package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ricorrenti/internal/core"
)

// Store keeps rules, instances and ledger entries in process memory. It is
// used for DATA_BACKEND=memory and in tests.
type Store struct {
	mu        sync.Mutex
	rules     map[string]core.RecurrenceRule
	ruleOrder []string

	instances map[string]core.OccurrenceInstance // by instance ID

	entries    map[string]core.LedgerEntry // by entry ID
	entryOrder []string
	byInstance map[string]string // source instance ID -> entry ID
	attempts   map[string]int
}

func New() *Store {
	return &Store{
		rules:      make(map[string]core.RecurrenceRule),
		instances:  make(map[string]core.OccurrenceInstance),
		entries:    make(map[string]core.LedgerEntry),
		byInstance: make(map[string]string),
		attempts:   make(map[string]int),
	}
}

// CreateRule stores the rule, assigning an ID when it has none.
func (s *Store) CreateRule(_ context.Context, r core.RecurrenceRule) (core.RecurrenceRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; ok {
		return r, fmt.Errorf("rule %s already exists", r.ID)
	}
	s.rules[r.ID] = r
	s.ruleOrder = append(s.ruleOrder, r.ID)
	return r, nil
}

func (s *Store) GetRule(_ context.Context, id string) (core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.RecurrenceRule{}, core.ErrRuleNotFound
	}
	return r, nil
}

// GetActiveRules returns active rules in creation order.
func (s *Store) GetActiveRules(_ context.Context) ([]core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurrenceRule
	for _, id := range s.ruleOrder {
		if r := s.rules[id]; r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) SetRuleActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.ErrRuleNotFound
	}
	r.Active = active
	s.rules[id] = r
	return nil
}

func (s *Store) SetRuleEndDate(_ context.Context, id string, end core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.ErrRuleNotFound
	}
	r.EndDate = end
	s.rules[id] = r
	return nil
}

func (s *Store) FindInstance(_ context.Context, ruleID string, date core.Date) (*core.OccurrenceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[core.InstanceID(ruleID, date)]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *Store) InsertPending(ctx context.Context, ruleID string, date core.Date, now time.Time) (core.OccurrenceInstance, error) {
	return s.insert(ctx, core.NewPendingInstance(ruleID, date, now))
}

func (s *Store) InsertResolved(ctx context.Context, ruleID string, date core.Date, state core.InstanceState, ledgerRef string, now time.Time) (core.OccurrenceInstance, error) {
	if !state.Terminal() {
		return core.OccurrenceInstance{}, fmt.Errorf("insert resolved instance: state %q is not terminal", state)
	}
	inst := core.NewPendingInstance(ruleID, date, now)
	inst.State = state
	inst.LedgerRef = ledgerRef
	inst.ResolvedAt = now
	return s.insert(ctx, inst)
}

func (s *Store) insert(_ context.Context, inst core.OccurrenceInstance) (core.OccurrenceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[inst.RuleID]; !ok {
		return core.OccurrenceInstance{}, core.ErrRuleNotFound
	}
	if existing, ok := s.instances[inst.ID]; ok {
		return existing, core.ErrDuplicateInstance
	}
	s.instances[inst.ID] = inst
	return inst, nil
}

// Transition resolves a pending instance. It reports false when the instance
// has already left pending.
func (s *Store) Transition(_ context.Context, instanceID string, to core.InstanceState, ledgerRef string, now time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition to non-terminal state %q", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return false, core.ErrInstanceNotFound
	}
	if inst.State != core.Pending {
		return false, nil
	}
	inst.State = to
	inst.LedgerRef = ledgerRef
	inst.ResolvedAt = now
	s.instances[instanceID] = inst
	return true, nil
}

func (s *Store) FindDueInstances(_ context.Context, today core.Date) ([]core.OccurrenceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OccurrenceInstance
	for _, inst := range s.instances {
		if inst.State == core.Pending && !inst.ScheduledDate.After(today) {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

// ListInstances returns every instance of a rule ordered by date.
func (s *Store) ListInstances(_ context.Context, ruleID string) ([]core.OccurrenceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OccurrenceInstance
	for _, inst := range s.instances {
		if inst.RuleID == ruleID {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

// AppendExpense stores a ledger entry once per source instance.
func (s *Store) AppendExpense(_ context.Context, d core.ExpenseDraft) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.SourceInstanceID != "" {
		if id, ok := s.byInstance[d.SourceInstanceID]; ok {
			return id, false, nil
		}
	}
	e := core.LedgerEntry{
		ID:               uuid.NewString(),
		SourceInstanceID: d.SourceInstanceID,
		Owner:            d.Owner,
		Description:      d.Description,
		Amount:           d.Amount,
		CategoryRef:      d.CategoryRef,
		PaymentMethodRef: d.PaymentMethodRef,
		Date:             d.Date,
		SyncStatus:       core.SyncPending,
		CreatedAt:        time.Now().UTC(),
	}
	s.entries[e.ID] = e
	s.entryOrder = append(s.entryOrder, e.ID)
	if d.SourceInstanceID != "" {
		s.byInstance[d.SourceInstanceID] = e.ID
	}
	return e.ID, true, nil
}

func (s *Store) GetLedgerEntry(_ context.Context, id string) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, fmt.Errorf("ledger entry %s not found", id)
	}
	return e, nil
}

// LedgerEntries returns all entries in insertion order.
func (s *Store) LedgerEntries(_ context.Context) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.LedgerEntry, 0, len(s.entryOrder))
	for _, id := range s.entryOrder {
		out = append(out, s.entries[id])
	}
	return out, nil
}

func (s *Store) ListPendingSync(_ context.Context, limit int) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, id := range s.entryOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e := s.entries[id]; e.SyncStatus == core.SyncPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, id string) error {
	return s.setSyncStatus(id, core.SyncSynced)
}

func (s *Store) MarkSyncError(_ context.Context, id string) error {
	return s.setSyncStatus(id, core.SyncError)
}

func (s *Store) RecordSyncFailure(_ context.Context, id string, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return 0, fmt.Errorf("ledger entry %s not found", id)
	}
	s.attempts[id]++
	return s.attempts[id], nil
}

func (s *Store) setSyncStatus(id string, status core.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("ledger entry %s not found", id)
	}
	e.SyncStatus = status
	s.entries[id] = e
	return nil
}

func sortInstances(in []core.OccurrenceInstance) {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].ScheduledDate.Equal(in[j].ScheduledDate) {
			return in[i].ScheduledDate.Before(in[j].ScheduledDate)
		}
		return in[i].RuleID < in[j].RuleID
	})
}
