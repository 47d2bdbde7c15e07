package core

import "errors"

var (
	// ErrInvalidRule marks a rule whose frequency and anchor fields disagree
	// or whose anchor is out of range.
	ErrInvalidRule = errors.New("invalid recurrence rule")

	// ErrStoreUnavailable wraps any failure to reach the rule or instance store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLedgerWrite marks a failed attempt to realize an occurrence.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrDuplicateInstance is returned together with the existing instance when
	// an insert hits the (rule_id, scheduled_date) uniqueness key. Callers treat
	// it as success with no state change.
	ErrDuplicateInstance = errors.New("duplicate occurrence instance")

	ErrRuleNotFound     = errors.New("recurrence rule not found")
	ErrInstanceNotFound = errors.New("occurrence instance not found")

	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyOwner       = errors.New("empty owner")
)
