package google

import (
	"context"
	"strings"
	"testing"

	"ricorrenti/internal/core"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), Options{SpreadsheetID: "test-id"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Options{
		SpreadsheetID:   "test-id",
		CredentialsFile: t.TempDir() + "/missing.json",
	})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestClient_AppendEntryValidation(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: DefaultSheetName} // svc is nil

	tests := []struct {
		name    string
		entry   core.LedgerEntry
		wantErr string
	}{
		{"zero amount", core.LedgerEntry{Date: core.NewDate(2025, 3, 5)}, "validation failed"},
		{"missing date", core.LedgerEntry{Amount: core.Money{Cents: 100}}, "validation failed"},
		{"uninitialized service", core.LedgerEntry{Date: core.NewDate(2025, 3, 5), Amount: core.Money{Cents: 100}}, "sheets service not initialized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.AppendEntry(context.Background(), tt.entry)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("AppendEntry() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestEntryRow(t *testing.T) {
	e := core.LedgerEntry{
		ID:               "entry-1",
		SourceInstanceID: "inst-1",
		Owner:            "u1",
		Description:      "Affitto",
		Amount:           core.Money{Cents: 90050},
		CategoryRef:      "Casa",
		PaymentMethodRef: "bonifico",
		Date:             core.NewDate(2025, 3, 5),
	}

	got := entryRow(e)
	want := []any{"2025-03-05", "Affitto", "900.50", "Casa", "bonifico", "u1", "entry-1", "inst-1"}
	if len(got) != len(want) {
		t.Fatalf("row has %d cells, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSheetForUsesEntryYear(t *testing.T) {
	c := &Client{sheetBase: DefaultSheetName}
	if got := c.sheetFor(core.LedgerEntry{Date: core.NewDate(2026, 1, 28)}); got != "2026 Ricorrenti" {
		t.Errorf("sheetFor() = %q", got)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Ricorrenti", 2025, "2025 Ricorrenti"},
		{"2024 Ricorrenti", 2025, "2024 Ricorrenti"},
		{"  Spese  ", 2025, "2025 Spese"},
		{"", 2025, ""},
		{"12345", 2025, "2025 12345"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}
