// Command ledgerctl inspects a splitledger database and previews splits.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"splitledger/internal/cli"
	"splitledger/internal/config"
)

type rootFlags struct {
	DBPath string
}

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(cfg).ExecuteContext(ctx)
	stop()
	if err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect splitledger balances and preview split allocations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.DBPath, "db", cfg.SQLiteDBPath, "SQLite database path")

	rootCmd.AddCommand(newBalancesCmd(flags))
	rootCmd.AddCommand(newUserBalancesCmd(flags))
	rootCmd.AddCommand(newSplitCmd())
	rootCmd.AddCommand(newMigrateCmd(flags))
	return rootCmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
