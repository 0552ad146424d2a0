package google

import (
	"strconv"
	"strings"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
)

var nowFunc = func() time.Time { return time.Now().UTC() }

// Charge columns: ID, Group, Date, Description, Payer, Amount (cents),
// Currency, Version, Status, Splits, Items.
func chargeRow(c core.Charge) []any {
	status := "active"
	if !c.Active() {
		status = "deleted"
	}
	return []any{
		int64(c.ID),
		int64(c.GroupID),
		c.OccurredAt.UTC().Format("2006-01-02"),
		c.Description,
		int64(c.PayerID),
		c.Amount.Cents,
		string(c.Amount.Currency),
		c.Version,
		status,
		formatSplits(c.Splits),
		formatItems(c.Items),
	}
}

// formatSplits renders "user:cents" pairs, prefixed with "#item/" for
// itemized records.
func formatSplits(splits []core.SplitRecord) string {
	parts := make([]string, 0, len(splits))
	for _, s := range splits {
		var b strings.Builder
		if s.ItemNo > 0 {
			b.WriteString("#")
			b.WriteString(strconv.Itoa(s.ItemNo))
			b.WriteString("/")
		}
		b.WriteString(strconv.FormatInt(int64(s.UserID), 10))
		b.WriteString(":")
		b.WriteString(strconv.FormatInt(s.Cents, 10))
		if s.AuditValue != "" {
			b.WriteString("(")
			b.WriteString(s.AuditValue)
			b.WriteString(")")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "; ")
}

func formatItems(items []core.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, strconv.Itoa(it.No)+". "+it.Description+" "+strconv.FormatInt(it.Cents, 10))
	}
	return strings.Join(parts, "; ")
}

// Balance columns: Snapshot time, Group, Currency, User, Balance (cents).
// Rows are ordered by currency then user.
func balanceRows(groupID core.GroupID, sheet ledger.BalanceSheet, at time.Time) [][]any {
	stamp := at.Format(time.RFC3339)
	var rows [][]any
	for _, cur := range sheet.Currencies() {
		for _, user := range sheet.Users(cur) {
			rows = append(rows, []any{stamp, int64(groupID), string(cur), int64(user), sheet[cur][user]})
		}
	}
	return rows
}
