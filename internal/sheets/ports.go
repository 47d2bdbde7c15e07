package sheets

import (
	"context"

	"ricorrenti/internal/core"
)

// Ports for outbound adapters.
type (
	// EntryWriter appends a realized ledger entry as a spreadsheet row.
	EntryWriter interface {
		AppendEntry(ctx context.Context, e core.LedgerEntry) (rowRef string, err error)
	}
)
