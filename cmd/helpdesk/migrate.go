package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/tg-helpdesk/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, _, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", database.NormalizeDriver(cfg.Database.Driver))
		return nil
	},
}
