package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/storage"
)

type balancesFlags struct {
	GroupID int64
	UserID  int64
}

func newBalancesCmd(root *rootFlags) *cobra.Command {
	flags := &balancesFlags{}

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show the net balance of every member of a group",
		Long: `Show the net balance of every member of a group, per currency.
Positive means the group owes the member; negative means the member owes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.GroupID <= 0 {
				return errors.New("--group is required")
			}
			return withLedger(cmd.Context(), root.DBPath, func(ctx context.Context, repo *storage.SQLiteRepository, svc *services.BalanceService) error {
				if _, err := repo.GetGroup(ctx, core.GroupID(flags.GroupID)); err != nil {
					return fmt.Errorf("group %d: %w", flags.GroupID, err)
				}
				sheet, err := svc.SheetFor(ctx, core.GroupID(flags.GroupID))
				if err != nil {
					return err
				}

				data := pterm.TableData{{"Currency", "User", "Balance"}}
				for _, cur := range sheet.Currencies() {
					precision := precisionOf(ctx, repo, cur)
					for _, u := range sheet.Users(cur) {
						data = append(data, []string{string(cur), core.FormatUserID(u), signed(sheet[cur][u], precision)})
					}
				}
				if len(data) == 1 {
					pterm.Info.Printf("Group %d is settled\n", flags.GroupID)
					return nil
				}
				return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
			})
		},
	}

	cmd.Flags().Int64VarP(&flags.GroupID, "group", "g", 0, "Group ID")
	return cmd
}

func newUserBalancesCmd(root *rootFlags) *cobra.Command {
	flags := &balancesFlags{}

	cmd := &cobra.Command{
		Use:   "user-balances",
		Short: "Show a user's net position across all groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.UserID <= 0 {
				return errors.New("--user is required")
			}
			return withLedger(cmd.Context(), root.DBPath, func(ctx context.Context, repo *storage.SQLiteRepository, svc *services.BalanceService) error {
				if _, err := repo.GetUser(ctx, core.UserID(flags.UserID)); err != nil {
					return fmt.Errorf("user %d: %w", flags.UserID, err)
				}
				totals, err := svc.UserTotals(ctx, core.UserID(flags.UserID))
				if err != nil {
					return err
				}

				currencies := make([]core.Currency, 0, len(totals))
				for cur := range totals {
					currencies = append(currencies, cur)
				}
				slices.Sort(currencies)

				data := pterm.TableData{{"Currency", "Balance"}}
				for _, cur := range currencies {
					data = append(data, []string{string(cur), signed(totals[cur], precisionOf(ctx, repo, cur))})
				}
				return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
			})
		},
	}

	cmd.Flags().Int64VarP(&flags.UserID, "user", "u", 0, "User ID")
	return cmd
}

// withLedger opens the database and a balance service for a single command.
func withLedger(ctx context.Context, dbPath string, fn func(context.Context, *storage.SQLiteRepository, *services.BalanceService) error) error {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	logger := log.New(log.Config{Output: io.Discard, Component: log.ComponentCLI})
	svc := services.NewBalanceService(repo, 1, time.Minute, logger)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return fn(ctx, repo, svc)
}

func precisionOf(ctx context.Context, repo *storage.SQLiteRepository, cur core.Currency) int32 {
	p, err := repo.CurrencyPrecision(ctx, cur)
	if err != nil {
		return core.DefaultPrecision
	}
	return p
}

// signed formats minor units with an explicit sign for non-zero values.
func signed(cents int64, precision int32) string {
	s := core.FormatCents(cents, precision)
	if cents > 0 {
		return "+" + s
	}
	return s
}
