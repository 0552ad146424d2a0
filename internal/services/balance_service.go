package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"splitledger/internal/cache"
	"splitledger/internal/core"
	"splitledger/internal/ledger"
	"splitledger/internal/log"
)

// LedgerReader loads the entries balances are computed from.
type LedgerReader interface {
	IsMember(ctx context.Context, groupID core.GroupID, userID core.UserID) (bool, error)
	ListGroupCharges(ctx context.Context, groupID core.GroupID, includeDeleted bool) ([]core.Charge, error)
	ListGroupRepayments(ctx context.Context, groupID core.GroupID) ([]core.Repayment, error)
	ListUserCharges(ctx context.Context, userID core.UserID) ([]core.Charge, error)
	ListUserRepayments(ctx context.Context, userID core.UserID) ([]core.Repayment, error)
}

// BalanceService serves balance sheets, caching one per group until the
// next write to that group.
type BalanceService struct {
	store  LedgerReader
	cache  *cache.LRUCache[core.GroupID, ledger.BalanceSheet]
	logger *log.Logger
}

func NewBalanceService(store LedgerReader, size int, ttl time.Duration, logger *log.Logger) *BalanceService {
	return &BalanceService{
		store:  store,
		cache:  cache.NewLRUCache[core.GroupID, ledger.BalanceSheet](size, ttl),
		logger: logger.WithComponent(log.ComponentBalance),
	}
}

// Cache exposes the underlying cache so it can be registered for cleanup.
func (s *BalanceService) Cache() cache.Cleaner {
	return s.cache
}

func (s *BalanceService) Invalidate(groupID core.GroupID) {
	s.cache.Delete(groupID)
}

// GroupBalances returns the group's sheet to one of its members.
func (s *BalanceService) GroupBalances(ctx context.Context, groupID core.GroupID, actor core.UserID) (ledger.BalanceSheet, error) {
	ok, err := s.store.IsMember(ctx, groupID, actor)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("user %d, group %d: %w", actor, groupID, ErrNotMember)
	}
	return s.SheetFor(ctx, groupID)
}

// SheetFor computes or returns the cached sheet for a group without any
// membership check. Callers get their own copy.
func (s *BalanceService) SheetFor(ctx context.Context, groupID core.GroupID) (ledger.BalanceSheet, error) {
	if sheet, ok := s.cache.Get(groupID); ok {
		return sheet.Clone(), nil
	}

	gen := s.cache.Generation(groupID)

	var (
		charges    []core.Charge
		repayments []core.Repayment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		charges, err = s.store.ListGroupCharges(gctx, groupID, false)
		return err
	})
	g.Go(func() error {
		var err error
		repayments, err = s.store.ListGroupRepayments(gctx, groupID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load group %d ledger: %w", groupID, err)
	}

	sheet := ledger.ComputeBalances(charges, repayments)
	if !s.cache.SetIfCurrent(groupID, sheet, gen) {
		s.logger.DebugContext(ctx, "Group changed while computing balances, not caching", log.FieldGroupID, int64(groupID))
	}
	return sheet.Clone(), nil
}

// UserTotals sums the user's balances across every group they belong to.
func (s *BalanceService) UserTotals(ctx context.Context, userID core.UserID) (map[core.Currency]int64, error) {
	var (
		charges    []core.Charge
		repayments []core.Repayment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		charges, err = s.store.ListUserCharges(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		repayments, err = s.store.ListUserRepayments(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load ledger for user %d: %w", userID, err)
	}

	return ledger.TotalBalances(charges, repayments, userID), nil
}
