package memory

import (
	"context"
	"fmt"
	"sync"

	"ricorrenti/internal/core"
)

// Store is an in-process stand-in for the spreadsheet, used when no
// spreadsheet is configured and in tests.
type Store struct {
	mu   sync.Mutex
	rows []core.LedgerEntry
}

func New() *Store {
	return &Store{}
}

// AppendEntry stores the entry and returns a synthetic row reference.
func (s *Store) AppendEntry(_ context.Context, e core.LedgerEntry) (string, error) {
	if err := e.Amount.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the appended entries.
func (s *Store) Rows() []core.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LedgerEntry(nil), s.rows...)
}
