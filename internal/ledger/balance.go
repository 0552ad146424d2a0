// Package ledger folds charges and repayments into per-currency net balances.
//
// A positive balance means the user is owed money; a negative balance means
// the user owes. Every function here is pure: the same inputs always produce
// the same sheet, and nothing is cached or mutated.
package ledger

import (
	"maps"
	"sort"

	"splitledger/internal/core"
)

// BalanceSheet maps currency to user to net balance in minor units.
// Only currencies and users touched by an active charge or a repayment
// appear; a user may be present with a zero balance.
type BalanceSheet map[core.Currency]map[core.UserID]int64

func (s BalanceSheet) add(cur core.Currency, user core.UserID, cents int64) {
	users, ok := s[cur]
	if !ok {
		users = make(map[core.UserID]int64)
		s[cur] = users
	}
	users[user] += cents
}

// Sum returns the total of all balances in a currency. It is zero for any
// sheet built by ComputeBalances.
func (s BalanceSheet) Sum(cur core.Currency) int64 {
	var total int64
	for _, v := range s[cur] {
		total += v
	}
	return total
}

// Users returns the users present in a currency in ascending ID order.
func (s BalanceSheet) Users(cur core.Currency) []core.UserID {
	users := make([]core.UserID, 0, len(s[cur]))
	for id := range s[cur] {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Currencies returns the currencies present in ascending order.
func (s BalanceSheet) Currencies() []core.Currency {
	out := make([]core.Currency, 0, len(s))
	for cur := range s {
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy that shares no maps with s.
func (s BalanceSheet) Clone() BalanceSheet {
	if s == nil {
		return nil
	}
	out := make(BalanceSheet, len(s))
	for cur, users := range s {
		out[cur] = maps.Clone(users)
	}
	return out
}

// ComputeBalances credits each active charge's payer with the charge amount
// and debits every split participant by their share. Repayments debit the
// sender and credit the receiver. Soft-deleted charges are ignored entirely.
func ComputeBalances(charges []core.Charge, repayments []core.Repayment) BalanceSheet {
	sheet := make(BalanceSheet)

	for _, c := range charges {
		if !c.Active() {
			continue
		}
		cur := c.Amount.Currency
		sheet.add(cur, c.PayerID, c.Amount.Cents)
		for _, sp := range c.Splits {
			sheet.add(cur, sp.UserID, -sp.Cents)
		}
	}

	for _, r := range repayments {
		cur := r.Amount.Currency
		sheet.add(cur, r.FromID, -r.Amount.Cents)
		sheet.add(cur, r.ToID, r.Amount.Cents)
	}

	return sheet
}

// BalanceFor returns one user's net balance in one currency, zero when the
// user has no activity there.
func BalanceFor(charges []core.Charge, repayments []core.Repayment, user core.UserID, cur core.Currency) int64 {
	return ComputeBalances(charges, repayments)[cur][user]
}

// TotalBalances returns the user's balance in every currency that appears in
// the computed sheet, including currencies where the user has no activity.
func TotalBalances(charges []core.Charge, repayments []core.Repayment, user core.UserID) map[core.Currency]int64 {
	sheet := ComputeBalances(charges, repayments)
	out := make(map[core.Currency]int64, len(sheet))
	for cur, users := range sheet {
		out[cur] = users[user]
	}
	return out
}
