package core

import (
	"errors"
	"strings"
	"time"
)

// ExpenseDraft is everything the ledger needs to realize one occurrence.
// SourceInstanceID lets the ledger recognise a repeated request for the same
// occurrence and answer with the entry it already created.
type ExpenseDraft struct {
	Owner            string
	Description      string
	Amount           Money
	CategoryRef      string
	PaymentMethodRef string
	Date             Date
	SourceInstanceID string
}

// DraftFor copies the rule payload for the occurrence on date.
func DraftFor(rule RecurrenceRule, instanceID string, date Date) ExpenseDraft {
	return ExpenseDraft{
		Owner:            rule.Owner,
		Description:      rule.Description,
		Amount:           rule.Amount,
		CategoryRef:      rule.CategoryRef,
		PaymentMethodRef: rule.PaymentMethodRef,
		Date:             date,
		SourceInstanceID: instanceID,
	}
}

func (e ExpenseDraft) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Owner) == "" {
		return ErrEmptyOwner
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return e.Amount.Validate()
}

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// SyncStatus tracks whether a ledger entry reached the downstream mirror.
type SyncStatus string

// LedgerEntry is an expense as stored by the ledger.
type LedgerEntry struct {
	ID               string
	SourceInstanceID string
	Owner            string
	Description      string
	Amount           Money
	CategoryRef      string
	PaymentMethodRef string
	Date             Date
	SyncStatus       SyncStatus
	CreatedAt        time.Time
}
