package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// LedgerEntryMessage announces a ledger entry to mirror. It carries only the
// entry ID; the worker reads the entry itself from the database.
type LedgerEntryMessage struct {
	EntryID   string    `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerEntryMessage creates a new sync message for entryID
func NewLedgerEntryMessage(entryID string) *LedgerEntryMessage {
	return &LedgerEntryMessage{
		EntryID:   entryID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEntryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEntryMessageFromJSON creates a message from JSON bytes
func LedgerEntryMessageFromJSON(data []byte) (*LedgerEntryMessage, error) {
	var msg LedgerEntryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.EntryID == "" {
		return nil, errors.New("message without entry_id")
	}
	return &msg, nil
}
