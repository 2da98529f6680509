package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/display"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
	"github.com/DKmica/TreeProAIv2-sub008/recurrence"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// SeriesCmd groups recurring series operations.
var SeriesCmd = &cobra.Command{
	Use:   "series",
	Short: sym.Series + " Manage recurring series",
	Long: sym.Series + ` Recurring series management.

A series defines a repetition pattern (daily, weekly, monthly, or a
custom day interval). The generator projects series into dated
instances and materializes near-term instances into Draft jobs.

Examples:
  treepro series create --client client_1 --frequency weekly --start 2026-03-02
  treepro series ls
  treepro series pause series_abc
  treepro series generate        # Run one generation pass now`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var seriesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a recurring series",
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, _ := cmd.Flags().GetString("client")
		frequency, _ := cmd.Flags().GetString("frequency")
		interval, _ := cmd.Flags().GetInt("interval-days")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		cost, _ := cmd.Flags().GetString("cost")
		return runSeriesCreate(clientID, frequency, interval, start, end, cost)
	},
}

var seriesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recurring series",
	RunE: func(cmd *cobra.Command, args []string) error {
		activeOnly, _ := cmd.Flags().GetBool("active")
		return runSeriesLs(activeOnly, display.ShouldOutputJSON(cmd))
	},
}

var seriesPauseCmd = &cobra.Command{
	Use:   "pause <series-id>",
	Short: "Pause a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeriesSetState(args[0], recurrence.SeriesPaused)
	},
}

var seriesResumeCmd = &cobra.Command{
	Use:   "resume <series-id>",
	Short: "Resume a paused series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeriesSetState(args[0], recurrence.SeriesActive)
	},
}

var seriesDeleteCmd = &cobra.Command{
	Use:   "rm <series-id>",
	Short: "Mark a series deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeriesSetState(args[0], recurrence.SeriesDeleted)
	},
}

var seriesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one recurrence generation pass",
	Long: `Run one recurrence generation pass immediately.

Safe to run repeatedly: instances already projected or materialized are
never duplicated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeriesGenerate()
	},
}

func init() {
	seriesCreateCmd.Flags().String("client", "", "Client the series belongs to (required)")
	seriesCreateCmd.Flags().String("frequency", "", "Frequency: daily, weekly, monthly or custom (required)")
	seriesCreateCmd.Flags().Int("interval-days", 0, "Day interval for custom frequency")
	seriesCreateCmd.Flags().String("start", "", "Start date YYYY-MM-DD (required)")
	seriesCreateCmd.Flags().String("end", "", "Optional end date YYYY-MM-DD")
	seriesCreateCmd.Flags().String("cost", "", "Cost payload copied onto generated jobs, as JSON")
	seriesCreateCmd.MarkFlagRequired("client")
	seriesCreateCmd.MarkFlagRequired("frequency")
	seriesCreateCmd.MarkFlagRequired("start")

	seriesLsCmd.Flags().Bool("active", false, "Show only active series")
	seriesLsCmd.Flags().BoolP("json", "j", false, "Output series as JSON")

	SeriesCmd.AddCommand(seriesCreateCmd)
	SeriesCmd.AddCommand(seriesLsCmd)
	SeriesCmd.AddCommand(seriesPauseCmd)
	SeriesCmd.AddCommand(seriesResumeCmd)
	SeriesCmd.AddCommand(seriesDeleteCmd)
	SeriesCmd.AddCommand(seriesGenerateCmd)
}

func runSeriesCreate(clientID, frequency string, interval int, start, end, cost string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	startDate, err := time.ParseInLocation(recurrence.DateLayout, start, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid start date %q (want YYYY-MM-DD): %w", start, err)
	}

	s := &recurrence.RecurringSeries{
		ClientID:     clientID,
		Frequency:    recurrence.Frequency(frequency),
		IntervalDays: interval,
		StartDate:    startDate,
	}
	if end != "" {
		endDate, err := time.ParseInLocation(recurrence.DateLayout, end, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid end date %q (want YYYY-MM-DD): %w", end, err)
		}
		s.EndDate = &endDate
	}
	if cost != "" {
		if !json.Valid([]byte(cost)) {
			return fmt.Errorf("cost payload is not valid JSON")
		}
		s.CostPayload = json.RawMessage(cost)
	}

	store := recurrence.NewSeriesStore(database)
	if err := store.Create(cmdContext(), s); err != nil {
		return fmt.Errorf("failed to create series: %w", err)
	}

	pterm.Success.Printf("Created series %s (%s from %s)\n", s.ID, s.Frequency, s.StartDate.Format(recurrence.DateLayout))
	return nil
}

func runSeriesLs(activeOnly bool, asJSON bool) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := recurrence.NewSeriesStore(database)
	series, err := store.List(cmdContext(), activeOnly)
	if err != nil {
		return fmt.Errorf("failed to list series: %w", err)
	}

	if asJSON {
		return display.OutputJSON(series)
	}

	if len(series) == 0 {
		fmt.Printf("%s No series found\n", sym.Series)
		return nil
	}

	fmt.Printf("%-32s %-22s %-10s %-12s %-12s %s\n", "SERIES ID", "CLIENT", "FREQ", "START", "END", "STATE")
	fmt.Printf("%-32s %-22s %-10s %-12s %-12s %s\n", "---------", "------", "----", "-----", "---", "-----")
	for _, s := range series {
		end := "-"
		if s.EndDate != nil {
			end = s.EndDate.Format(recurrence.DateLayout)
		}
		freq := string(s.Frequency)
		if s.Frequency == recurrence.FrequencyCustom {
			freq = fmt.Sprintf("%dd", s.IntervalDays)
		}
		fmt.Printf("%-32s %-22s %-10s %-12s %-12s %s\n",
			truncate(s.ID, 32),
			truncate(s.ClientID, 22),
			freq,
			s.StartDate.Format(recurrence.DateLayout),
			end,
			s.State)
	}
	fmt.Printf("\nTotal: %d series\n", len(series))
	return nil
}

func runSeriesSetState(seriesID string, state recurrence.SeriesState) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := recurrence.NewSeriesStore(database)
	if err := store.SetState(cmdContext(), seriesID, state); err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}

	pterm.Success.Printf("Series %s is now %s\n", seriesID, state)
	return nil
}

func runSeriesGenerate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	bus := event.NewBus(logger.Logger)

	generator := recurrence.NewGenerator(
		recurrence.NewSeriesStore(database),
		recurrence.NewInstanceStore(database),
		lifecycle.NewJobStore(database),
		bus,
		recurrence.GeneratorConfig{
			LookaheadDays:   cfg.Recurrence.LookaheadDays,
			MaterializeDays: cfg.Recurrence.MaterializeDays,
		},
		logger.Logger)

	spinner, _ := pterm.DefaultSpinner.Start("Running recurrence pass...")
	stats, err := generator.GenerateOnce(cmdContext(), time.Now())
	bus.Close()
	if err != nil {
		if spinner != nil {
			spinner.Fail(fmt.Sprintf("Recurrence pass finished with errors: %v", err))
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("Recurrence pass complete: %d series, %d instances, %d jobs",
			stats.SeriesSeen, stats.InstancesCreated, stats.JobsMaterialized))
	}
	return nil
}
