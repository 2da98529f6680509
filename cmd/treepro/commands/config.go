package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// ConfigCmd groups configuration operations.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: sym.Config + " Show and edit configuration",
	Long: sym.Config + ` Configuration management.

Settings merge from /etc/treepro, ~/.treepro, a project-local
treepro.toml and TREEPRO_* environment variables, in rising precedence.
Edits write to the user config file with rotating backups.

Examples:
  treepro config show
  treepro config set-db-path /var/lib/treepro/treepro.db
  treepro config set-max-fires 120`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Println(cfg.String())
		return nil
	},
}

var configSetDbPathCmd = &cobra.Command{
	Use:   "set-db-path <path>",
	Short: "Persist a new database path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateDatabasePath(args[0]); err != nil {
			return fmt.Errorf("failed to update database path: %w", err)
		}
		pterm.Success.Printf("Database path set to %s\n", args[0])
		return nil
	},
}

var configSetMaxFiresCmd = &cobra.Command{
	Use:   "set-max-fires <n>",
	Short: "Persist the default rule firing limit per hour",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 0 {
			return fmt.Errorf("invalid firing limit %q", args[0])
		}
		if err := config.UpdateAutomationMaxFiresPerHour(n); err != nil {
			return fmt.Errorf("failed to update firing limit: %w", err)
		}
		pterm.Success.Printf("Default max fires per hour set to %d\n", n)
		return nil
	},
}

var configSetLookaheadCmd = &cobra.Command{
	Use:   "set-lookahead <days>",
	Short: "Persist the recurrence lookahead horizon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var days int
		if _, err := fmt.Sscanf(args[0], "%d", &days); err != nil || days <= 0 {
			return fmt.Errorf("invalid lookahead days %q", args[0])
		}
		if err := config.UpdateRecurrenceLookaheadDays(days); err != nil {
			return fmt.Errorf("failed to update lookahead: %w", err)
		}
		pterm.Success.Printf("Recurrence lookahead set to %d days\n", days)
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetDbPathCmd)
	ConfigCmd.AddCommand(configSetMaxFiresCmd)
	ConfigCmd.AddCommand(configSetLookaheadCmd)
}
