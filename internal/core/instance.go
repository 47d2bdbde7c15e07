package core

import (
	"time"

	"github.com/google/uuid"
)

const (
	Pending   InstanceState = "pending"
	Generated InstanceState = "generated"
	Skipped   InstanceState = "skipped"
)

type (
	InstanceState string

	// OccurrenceInstance is one scheduled occurrence of a rule. It is created
	// pending and resolved at most once.
	OccurrenceInstance struct {
		ID            string
		RuleID        string
		ScheduledDate Date
		State         InstanceState
		LedgerRef     string    // set only when generated
		ResolvedAt    time.Time // zero while pending
		CreatedAt     time.Time
	}
)

// instanceNamespace seeds the name-based instance IDs.
var instanceNamespace = uuid.MustParse("6f1f0c52-5b0e-4f43-9a57-3c1b8f5c2d7e")

// InstanceID derives the instance identifier from its idempotency key, so
// every process computes the same ID for the same (rule, date).
func InstanceID(ruleID string, date Date) string {
	return uuid.NewSHA1(instanceNamespace, []byte(ruleID+"|"+date.String())).String()
}

// Valid reports whether s is one of the known states.
func (s InstanceState) Valid() bool {
	switch s {
	case Pending, Generated, Skipped:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s InstanceState) Terminal() bool {
	return s == Generated || s == Skipped
}

// NewPendingInstance builds the pending instance for (ruleID, date).
func NewPendingInstance(ruleID string, date Date, now time.Time) OccurrenceInstance {
	return OccurrenceInstance{
		ID:            InstanceID(ruleID, date),
		RuleID:        ruleID,
		ScheduledDate: date,
		State:         Pending,
		CreatedAt:     now,
	}
}
