// Package memory is an in-process export target used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"splitledger/internal/core"
	"splitledger/internal/ledger"
	ports "splitledger/internal/sheets"
)

var _ ports.Exporter = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	charges  []core.Charge
	balances map[core.GroupID]ledger.BalanceSheet
}

func New() *Store {
	return &Store{balances: make(map[core.GroupID]ledger.BalanceSheet)}
}

func (s *Store) ExportCharge(_ context.Context, c core.Charge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges = append(s.charges, c)
	return fmt.Sprintf("mem:%d", len(s.charges)), nil
}

// ExportBalances keeps the latest snapshot per group.
func (s *Store) ExportBalances(_ context.Context, groupID core.GroupID, sheet ledger.BalanceSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[groupID] = sheet.Clone()
	return nil
}

// Charges returns every exported charge revision in export order.
func (s *Store) Charges() []core.Charge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Charge(nil), s.charges...)
}

// Balances returns the last snapshot written for a group.
func (s *Store) Balances(groupID core.GroupID) (ledger.BalanceSheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.balances[groupID]
	return sheet.Clone(), ok
}
