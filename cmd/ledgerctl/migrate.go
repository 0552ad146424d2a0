package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"splitledger/internal/storage"
)

func newMigrateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(root.DBPath), 0o755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			version, err := storage.RunMigrations(root.DBPath)
			if err != nil {
				return err
			}
			pterm.Success.Printf("Database %s at schema version %d\n", root.DBPath, version)
			return nil
		},
	}
}
