package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
	ports "splitledger/internal/sheets"
)

var _ ports.Exporter = (*Client)(nil)

// Config selects the target spreadsheet and its tabs.
type Config struct {
	SpreadsheetID string
	ChargesSheet  string
	BalancesSheet string
	// Service account credentials, inline or as a file path. When both are
	// empty GOOGLE_APPLICATION_CREDENTIALS is used.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	chargesSheet  string
	balancesSheet string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if cfg.ChargesSheet == "" {
		cfg.ChargesSheet = "Charges"
	}
	if cfg.BalancesSheet == "" {
		cfg.BalancesSheet = "Balances"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		chargesSheet:  cfg.ChargesSheet,
		balancesSheet: cfg.BalancesSheet,
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credsFile := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && credsFile == "" {
		credsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case credsFile != "":
		b, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created", "credentials_size", len(credentialsJSON))
	return svc, nil
}

// ExportCharge appends one row per charge revision. Rows are never
// rewritten; the sheet is an audit log and the highest version wins.
func (c *Client) ExportCharge(ctx context.Context, ch core.Charge) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:K", c.chargesSheet)
	return c.appendRows(ctx, rng, [][]any{chargeRow(ch)})
}

// ExportBalances appends a timestamped snapshot of every balance in the sheet.
func (c *Client) ExportBalances(ctx context.Context, groupID core.GroupID, sheet ledger.BalanceSheet) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	rows := balanceRows(groupID, sheet, nowFunc())
	if len(rows) == 0 {
		return nil
	}
	rng := fmt.Sprintf("%s!A:E", c.balancesSheet)
	_, err := c.appendRows(ctx, rng, rows)
	return err
}

func (c *Client) appendRows(ctx context.Context, rng string, rows [][]any) (string, error) {
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", rng, err)
	}
	if resp.Updates == nil {
		return rng, nil
	}
	return resp.Updates.UpdatedRange, nil
}
