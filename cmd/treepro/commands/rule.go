package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/automation"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// RuleCmd groups automation rule operations.
var RuleCmd = &cobra.Command{
	Use:   "rule",
	Short: sym.Rule + " Manage automation rules",
	Long: sym.Rule + ` Automation rule management.

Rules react to bus events: a trigger event type plus optional payload
conditions fire an ordered list of actions. Every matched firing leaves
a run record, visible with 'rule runs'.

Examples:
  treepro rule ls                      # List all rules
  treepro rule disable rule_abc        # Disable a rule
  treepro rule runs rule_abc           # Show a rule's recent firings
  treepro rule runs --job job_x        # Show firings for a job`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var ruleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List automation rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabledOnly, _ := cmd.Flags().GetBool("enabled")
		return runRuleLs(enabledOnly)
	},
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRuleSetEnabled(args[0], true)
	},
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRuleSetEnabled(args[0], false)
	},
}

var ruleRunsCmd = &cobra.Command{
	Use:   "runs [rule-id]",
	Short: "Show recent rule firings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		limit, _ := cmd.Flags().GetInt("limit")
		ruleID := ""
		if len(args) == 1 {
			ruleID = args[0]
		}
		return runRuleRuns(ruleID, jobID, limit)
	},
}

func init() {
	ruleLsCmd.Flags().Bool("enabled", false, "Show only enabled rules")

	ruleRunsCmd.Flags().String("job", "", "Filter runs by job ID")
	ruleRunsCmd.Flags().Int("limit", 20, "Maximum number of runs to display")

	RuleCmd.AddCommand(ruleLsCmd)
	RuleCmd.AddCommand(ruleEnableCmd)
	RuleCmd.AddCommand(ruleDisableCmd)
	RuleCmd.AddCommand(ruleRunsCmd)
}

func runRuleLs(enabledOnly bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := automation.NewRuleStore(database)
	if err := automation.EnsureDefaultRules(cmdContext(), store, logger.Logger); err != nil {
		return fmt.Errorf("failed to ensure default rules: %w", err)
	}

	rules, err := store.List(cmdContext(), enabledOnly)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(rules) == 0 {
		fmt.Printf("%s No rules found\n", sym.Rule)
		return nil
	}

	fmt.Printf("%-30s %-24s %-18s %-8s %-7s %s\n", "RULE ID", "NAME", "TRIGGER", "ENABLED", "FIRES", "ACTIONS")
	fmt.Printf("%-30s %-24s %-18s %-8s %-7s %s\n", "-------", "----", "-------", "-------", "-----", "-------")
	for _, r := range rules {
		enabled := "no"
		if r.Enabled {
			enabled = "yes"
		}
		names := make([]string, len(r.Actions))
		for i, a := range r.Actions {
			names[i] = a.Name
		}
		fmt.Printf("%-30s %-24s %-18s %-8s %-7d %s\n",
			truncate(r.ID, 30),
			truncate(r.Name, 24),
			r.TriggerType,
			enabled,
			r.FireCount,
			strings.Join(names, ", "))
	}
	fmt.Printf("\nTotal: %d rule(s)\n", len(rules))
	return nil
}

func runRuleSetEnabled(ruleID string, enabled bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := automation.NewRuleStore(database)
	if err := store.SetEnabled(cmdContext(), ruleID, enabled); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if enabled {
		pterm.Success.Printf("Rule %s enabled\n", ruleID)
	} else {
		pterm.Warning.Printf("Rule %s disabled\n", ruleID)
	}
	return nil
}

func runRuleRuns(ruleID, jobID string, limit int) error {
	if ruleID == "" && jobID == "" {
		return fmt.Errorf("provide a rule ID argument or --job filter")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := automation.NewRunStore(database)
	var runs []*automation.Run
	if ruleID != "" {
		runs, err = store.ListByRule(cmdContext(), ruleID, limit)
	} else {
		runs, err = store.ListByJob(cmdContext(), jobID, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Printf("%s No runs found\n", sym.Rule)
		return nil
	}

	fmt.Printf("%-28s %-18s %-28s %-18s %s\n", "RUN ID", "STATUS", "JOB", "EVENT TYPE", "AT")
	fmt.Printf("%-28s %-18s %-28s %-18s %s\n", "------", "------", "---", "----------", "--")
	for _, run := range runs {
		fmt.Printf("%-28s %-18s %-28s %-18s %s\n",
			truncate(run.ID, 28),
			run.Status,
			truncate(run.JobID, 28),
			run.EventType,
			run.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, ar := range run.ActionResults {
			outcome := "ok"
			if !ar.Success {
				outcome = "FAILED: " + ar.Detail
			}
			fmt.Printf("    %-24s %s (%dms)\n", ar.Action, outcome, ar.DurationMS)
		}
	}
	fmt.Printf("\nTotal: %d run(s)\n", len(runs))
	return nil
}
