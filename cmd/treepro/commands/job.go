package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/automation"
	"github.com/DKmica/TreeProAIv2-sub008/automation/actions"
	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/display"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// JobCmd groups job lifecycle operations.
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Job + " Create, transition and inspect jobs",
	Long: sym.Job + ` Job lifecycle operations.

Jobs move through a guarded state machine; every transition is
validated against the transition table, audited, and announced on the
event bus where automation rules react to it.

Examples:
  treepro job create --client client_1 --cost '{"amount": 450}'
  treepro job ls --state Scheduled
  treepro job transition job_abc Scheduled --role sales
  treepro job allowed job_abc --role crew
  treepro job history job_abc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job in Draft state",
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, _ := cmd.Flags().GetString("client")
		cost, _ := cmd.Flags().GetString("cost")
		schedule, _ := cmd.Flags().GetString("schedule")
		return runJobCreate(clientID, cost, schedule)
	},
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFilter, _ := cmd.Flags().GetString("state")
		return runJobLs(stateFilter, display.ShouldOutputJSON(cmd))
	},
}

var jobTransitionCmd = &cobra.Command{
	Use:   "transition <job-id> <to-state>",
	Short: "Request a state transition",
	Long: `Request a state transition for a job.

The transition is validated against the transition table for the given
actor role. On success the resulting event is processed by the
automation rules before the command returns.

Example:
  treepro job transition job_abc InProgress --role crew --reason "on site"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, _ := cmd.Flags().GetString("actor")
		role, _ := cmd.Flags().GetString("role")
		reason, _ := cmd.Flags().GetString("reason")
		return runJobTransition(args[0], args[1], actorID, role, reason)
	},
}

var jobAllowedCmd = &cobra.Command{
	Use:   "allowed <job-id>",
	Short: "Show transitions available to an actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, _ := cmd.Flags().GetString("actor")
		role, _ := cmd.Flags().GetString("role")
		return runJobAllowed(args[0], actorID, role)
	},
}

var jobHistoryCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show a job's transition audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobHistory(args[0])
	},
}

func init() {
	jobCreateCmd.Flags().String("client", "", "Client the job belongs to (required)")
	jobCreateCmd.Flags().String("cost", "", `Cost payload as JSON, e.g. '{"amount": 450}'`)
	jobCreateCmd.Flags().String("schedule", "", "Scheduled start date (YYYY-MM-DD)")
	jobCreateCmd.MarkFlagRequired("client")

	jobLsCmd.Flags().String("state", "", "Filter by state (e.g. Draft, Scheduled, InProgress)")
	jobLsCmd.Flags().BoolP("json", "j", false, "Output jobs as JSON")

	jobTransitionCmd.Flags().String("actor", "cli", "Acting user identifier")
	jobTransitionCmd.Flags().String("role", "admin", "Actor role (admin, sales, dispatch, crew, office)")
	jobTransitionCmd.Flags().String("reason", "", "Optional reason recorded on the audit row")

	jobAllowedCmd.Flags().String("actor", "cli", "Acting user identifier")
	jobAllowedCmd.Flags().String("role", "admin", "Actor role")

	JobCmd.AddCommand(jobCreateCmd)
	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobTransitionCmd)
	JobCmd.AddCommand(jobAllowedCmd)
	JobCmd.AddCommand(jobHistoryCmd)
}

func runJobCreate(clientID, cost, schedule string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	job := &lifecycle.Job{ClientID: clientID}
	if cost != "" {
		if !json.Valid([]byte(cost)) {
			return fmt.Errorf("cost payload is not valid JSON")
		}
		job.CostPayload = json.RawMessage(cost)
	}
	if schedule != "" {
		start, err := time.ParseInLocation("2006-01-02", schedule, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid schedule date %q (want YYYY-MM-DD): %w", schedule, err)
		}
		job.ScheduledStart = &start
	}

	store := lifecycle.NewJobStore(database)
	if err := store.Create(cmdContext(), job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	pterm.Success.Printf("Created job %s in state %s\n", job.ID, job.State)
	return nil
}

func runJobLs(stateFilter string, asJSON bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var state *lifecycle.State
	if stateFilter != "" {
		s, err := lifecycle.ParseState(stateFilter)
		if err != nil {
			return err
		}
		state = &s
	}

	store := lifecycle.NewJobStore(database)
	jobs, err := store.List(cmdContext(), state)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if asJSON {
		return display.OutputJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Job)
		return nil
	}

	fmt.Printf("%-30s %-16s %-22s %-12s %s\n", "JOB ID", "STATE", "CLIENT", "SCHEDULED", "CREATED")
	fmt.Printf("%-30s %-16s %-22s %-12s %s\n", "------", "-----", "------", "---------", "-------")
	for _, job := range jobs {
		scheduled := "-"
		if job.ScheduledStart != nil {
			scheduled = job.ScheduledStart.Format("2006-01-02")
		}
		fmt.Printf("%-30s %-16s %-22s %-12s %s\n",
			truncate(job.ID, 30),
			job.State,
			truncate(job.ClientID, 22),
			scheduled,
			job.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobTransition(jobID, toStateArg, actorID, roleArg, reason string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	toState, err := lifecycle.ParseState(toStateArg)
	if err != nil {
		return err
	}
	role, err := lifecycle.ParseRole(roleArg)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	// Wire the full event path so automation side effects run in this
	// process before the command exits.
	bus := event.NewBus(logger.Logger)
	registry := automation.NewRegistry()
	if err := actions.RegisterBuiltins(registry, database, logger.Logger); err != nil {
		return fmt.Errorf("failed to register action handlers: %w", err)
	}
	ruleStore := automation.NewRuleStore(database)
	runStore := automation.NewRunStore(database)
	if err := automation.EnsureDefaultRules(cmdContext(), ruleStore, logger.Logger); err != nil {
		return fmt.Errorf("failed to ensure default rules: %w", err)
	}
	autoEngine := automation.NewEngine(ruleStore, runStore, registry, logger.Logger,
		automation.WithActionTimeout(time.Duration(cfg.Automation.ActionTimeoutSeconds)*time.Second),
		automation.WithDefaultMaxFires(cfg.Automation.DefaultMaxFiresPerHour),
	)
	autoEngine.Attach(bus)

	engine := lifecycle.NewEngine(lifecycle.NewJobStore(database), lifecycle.DefaultTable(), bus, logger.Logger)
	engine.SetLockTimeout(time.Duration(cfg.Lifecycle.LockTimeoutSeconds) * time.Second)

	result, err := engine.RequestTransition(cmdContext(), jobID, toState, lifecycle.Actor{ID: actorID, Role: role}, reason)
	// Close drains pending automation work whether or not the
	// transition succeeded.
	bus.Close()
	if err != nil {
		return fmt.Errorf("transition failed: %w", err)
	}

	pterm.Success.Printf("Job %s is now %s (transition %s)\n", jobID, result.State, result.TransitionID)
	return nil
}

func runJobAllowed(jobID, actorID, roleArg string) error {
	role, err := lifecycle.ParseRole(roleArg)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	engine := lifecycle.NewEngine(lifecycle.NewJobStore(database), lifecycle.DefaultTable(), bus, logger.Logger)

	states, err := engine.GetAllowedTransitions(cmdContext(), jobID, lifecycle.Actor{ID: actorID, Role: role})
	if err != nil {
		return fmt.Errorf("failed to get allowed transitions: %w", err)
	}

	if len(states) == 0 {
		fmt.Printf("%s No transitions available for role %s\n", sym.Job, role)
		return nil
	}
	fmt.Printf("%s Available transitions for role %s:\n", sym.Job, role)
	for _, s := range states {
		fmt.Printf("  -> %s\n", s)
	}
	return nil
}

func runJobHistory(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	bus := event.NewBus(nil)
	defer bus.Close()
	engine := lifecycle.NewEngine(lifecycle.NewJobStore(database), lifecycle.DefaultTable(), bus, logger.Logger)

	history, err := engine.GetTransitionHistory(cmdContext(), jobID)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	if len(history) == 0 {
		fmt.Printf("%s No transitions recorded for %s\n", sym.Job, jobID)
		return nil
	}

	fmt.Printf("%-16s %-16s %-12s %-10s %-8s %s\n", "FROM", "TO", "ACTOR", "ROLE", "SYSTEM", "AT")
	fmt.Printf("%-16s %-16s %-12s %-10s %-8s %s\n", "----", "--", "-----", "----", "------", "--")
	for _, tr := range history {
		system := ""
		if tr.SystemTriggered {
			system = "yes"
		}
		fmt.Printf("%-16s %-16s %-12s %-10s %-8s %s\n",
			tr.FromState,
			tr.ToState,
			truncate(tr.ActorID, 12),
			tr.ActorRole,
			system,
			tr.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
