package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage TreePro database",
	Long: sym.DB + ` Database operations.

Examples:
  treepro db migrate    # Apply pending migrations
  treepro db stats      # Show record counts and job state breakdown`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Printf("%s Database is up to date\n", sym.DB)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	path, err := config.GetDatabasePath()
	if err != nil {
		return err
	}

	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n\n", path)

	counts := []struct {
		label string
		table string
	}{
		{"Jobs", "jobs"},
		{"Transitions", "job_transitions"},
		{"Clients", "clients"},
		{"Invoices", "invoices"},
		{"Automation Rules", "automation_rules"},
		{"Automation Runs", "automation_runs"},
		{"Recurring Series", "recurring_series"},
		{"Recurring Instances", "recurring_instances"},
	}
	for _, c := range counts {
		var n int
		if err := database.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(&n); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to count %s: %w", c.table, err)
		}
		fmt.Printf("%-20s %d\n", c.label+":", n)
	}

	fmt.Printf("\nJobs by state:\n")
	for _, state := range lifecycle.AllStates {
		var n int
		err := database.QueryRow("SELECT COUNT(*) FROM jobs WHERE state = ?", state).Scan(&n)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to count jobs in %s: %w", state, err)
		}
		if n > 0 {
			fmt.Printf("  %-16s %d\n", state, n)
		}
	}
	return nil
}
