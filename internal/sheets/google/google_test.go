package google

import (
	"context"
	"strings"
	"testing"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet", CredentialsFile: "/nonexistent/creds.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.ExportCharge(context.Background(), core.Charge{}); err == nil {
		t.Error("expected error with nil service")
	}
	if err := c.ExportBalances(context.Background(), 1, ledger.BalanceSheet{}); err == nil {
		t.Error("expected error with nil service")
	}
}

func TestChargeRow(t *testing.T) {
	c := core.Charge{
		ID:          10,
		GroupID:     2,
		PayerID:     1,
		Amount:      core.Money{Cents: 3000, Currency: "USD"},
		Description: "dinner",
		Version:     3,
		OccurredAt:  time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC),
		Items:       []core.Item{{No: 1, Description: "pizza", Cents: 3000}},
		Splits: []core.SplitRecord{
			{UserID: 1, ItemNo: 1, Cents: 2000, Policy: core.PolicyShares, AuditValue: "2"},
			{UserID: 2, ItemNo: 1, Cents: 1000, Policy: core.PolicyShares, AuditValue: "1"},
		},
	}

	row := chargeRow(c)

	if len(row) != 11 {
		t.Fatalf("expected 11 columns, got %d", len(row))
	}
	if row[2] != "2024-03-09" || row[5] != int64(3000) || row[6] != "USD" || row[8] != "active" {
		t.Errorf("unexpected row: %v", row)
	}
	if row[9] != "#1/1:2000(2); #1/2:1000(1)" {
		t.Errorf("unexpected splits column: %q", row[9])
	}
	if row[10] != "1. pizza 3000" {
		t.Errorf("unexpected items column: %q", row[10])
	}

	c.DeletedAt = time.Now()
	if chargeRow(c)[8] != "deleted" {
		t.Error("deleted charge should be marked deleted")
	}
}

func TestBalanceRowsAreSorted(t *testing.T) {
	sheet := ledger.BalanceSheet{
		"USD": {3: -100, 1: 100},
		"EUR": {2: 0},
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := balanceRows(7, sheet, at)

	want := [][]any{
		{"2024-01-01T00:00:00Z", int64(7), "EUR", int64(2), int64(0)},
		{"2024-01-01T00:00:00Z", int64(7), "USD", int64(1), int64(100)},
		{"2024-01-01T00:00:00Z", int64(7), "USD", int64(3), int64(-100)},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Errorf("row %d col %d = %v, want %v", i, j, rows[i][j], want[i][j])
			}
		}
	}
}
