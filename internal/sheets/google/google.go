package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"ricorrenti/internal/core"
	ports "ricorrenti/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultSheetName is the base name of the ledger sheet; the entry's year is
// prefixed to it, e.g. "2025 Ricorrenti".
const DefaultSheetName = "Ricorrenti"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
}

// Ensure interface conformance
var _ ports.EntryWriter = (*Client)(nil)

// Options configures New. Credentials come from CredentialsJSON, then
// CredentialsFile, then GOOGLE_APPLICATION_CREDENTIALS.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(opts.SheetName)
	if base == "" {
		base = DefaultSheetName
	}

	svc, err := newSheetsService(ctx, opts.CredentialsJSON, opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
	}, nil
}

func newSheetsService(ctx context.Context, credentialsJSON, credentialsFile string) (*gsheet.Service, error) {
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var creds []byte
	switch {
	case credentialsJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", credentialsFile)
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendEntry appends e after the last row of its year's sheet and returns
// the updated range.
func (c *Client) AppendEntry(ctx context.Context, e core.LedgerEntry) (string, error) {
	if err := e.Amount.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if e.Date.IsEmpty() {
		return "", errors.New("validation failed: entry without date")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := c.sheetFor(e)
	vr := &gsheet.ValueRange{Values: [][]any{entryRow(e)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:H", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return sheet, nil
}

func (c *Client) sheetFor(e core.LedgerEntry) string {
	return yearPrefixedName(c.sheetBase, e.Date.Year())
}

// entryRow lays out one ledger entry: date, description, amount, category,
// payment method, owner, entry ID, occurrence ID.
func entryRow(e core.LedgerEntry) []any {
	return []any{
		e.Date.String(),
		e.Description,
		e.Amount.String(),
		e.CategoryRef,
		e.PaymentMethodRef,
		e.Owner,
		e.ID,
		e.SourceInstanceID,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
