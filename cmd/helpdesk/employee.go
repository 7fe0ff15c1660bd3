package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
)

var employeeCmd = &cobra.Command{
	Use:     "employee",
	Aliases: []string{"emp"},
	Short:   "Manage registered employees",
}

var employeeAdmin bool

var employeeAddCmd = &cobra.Command{
	Use:   "add <account-id> <login>",
	Short: "Register an employee, typically the first console admin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account id %q", args[0])
		}
		login := args[1]
		if !support.ValidLogin(login) {
			return fmt.Errorf("invalid login %q", login)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		e := &models.Employee{AccountID: accountID, Login: login, IsAdmin: employeeAdmin, CreatedAt: time.Now()}
		if err := store.CreateEmployee(cmd.Context(), e); err != nil {
			return fmt.Errorf("create employee: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %d as %s (admin=%t)\n", e.AccountID, e.Login, e.IsAdmin)
		return nil
	},
}

var employeeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := store.ListEmployees(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tLOGIN\tADMIN")
		for _, e := range list {
			fmt.Fprintf(w, "%d\t%s\t%t\n", e.AccountID, e.Login, e.IsAdmin)
		}
		return w.Flush()
	},
}

var employeePromoteCmd = &cobra.Command{
	Use:   "promote <account-id>",
	Short: "Grant console access to an employee (use --admin=false to revoke)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid account id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.SetEmployeeAdmin(cmd.Context(), accountID, employeeAdmin); err != nil {
			return fmt.Errorf("update employee %d: %w", accountID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "employee %d admin=%t\n", accountID, employeeAdmin)
		return nil
	},
}

func init() {
	employeeAddCmd.Flags().BoolVar(&employeeAdmin, "admin", false, "grant console access")
	employeePromoteCmd.Flags().BoolVar(&employeeAdmin, "admin", true, "admin flag to set")

	employeeCmd.AddCommand(employeeAddCmd)
	employeeCmd.AddCommand(employeeListCmd)
	employeeCmd.AddCommand(employeePromoteCmd)
}
