package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/cmd/treepro/commands"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
)

var rootCmd = &cobra.Command{
	Use:   "treepro",
	Short: "TreePro - field service job lifecycle and automation",
	Long: `TreePro - job lifecycle state machine, automation engine and
recurrence generator for field service work.

Available commands:
  daemon - Run the automation daemon (event bus, rules, recurrence, stream)
  job    - Create, transition and inspect jobs
  rule   - Manage automation rules and inspect their runs
  series - Manage recurring series and generate instances
  db     - Manage database operations
  config - Show and edit configuration

Examples:
  treepro daemon                          # Run the daemon in foreground
  treepro job create --client client_1    # Create a Draft job
  treepro job transition job_x Scheduled  # Request a transition
  treepro rule ls                         # List automation rules
  treepro series generate                 # Run one recurrence pass`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.RuleCmd)
	rootCmd.AddCommand(commands.SeriesCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
