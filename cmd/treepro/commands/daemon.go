package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DKmica/TreeProAIv2-sub008/automation"
	"github.com/DKmica/TreeProAIv2-sub008/automation/actions"
	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
	"github.com/DKmica/TreeProAIv2-sub008/recurrence"
	"github.com/DKmica/TreeProAIv2-sub008/stream"
	"github.com/DKmica/TreeProAIv2-sub008/sym"
)

// DaemonCmd runs all long-lived components in one foreground process.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Stream + " Run the TreePro daemon",
	Long: sym.Stream + ` TreePro daemon - long-running automation process.

The daemon runs:
- Event bus with the automation engine attached
- Recurrence generator (projects series into instances and Draft jobs)
- Automation run log retention pruner
- Websocket stream server for live event subscribers
- Config file watcher for live settings reload

Run until interrupted (Ctrl+C); components stop in reverse start order.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	bus := event.NewBus(logger.Logger)

	// Automation: built-in actions, canonical rules, engine on the bus.
	registry := automation.NewRegistry()
	if err := actions.RegisterBuiltins(registry, database, logger.Logger); err != nil {
		return fmt.Errorf("failed to register action handlers: %w", err)
	}
	ruleStore := automation.NewRuleStore(database)
	runStore := automation.NewRunStore(database)
	if err := automation.EnsureDefaultRules(cmd.Context(), ruleStore, logger.Logger); err != nil {
		return fmt.Errorf("failed to ensure default rules: %w", err)
	}
	autoEngine := automation.NewEngine(ruleStore, runStore, registry, logger.Logger,
		automation.WithActionTimeout(time.Duration(cfg.Automation.ActionTimeoutSeconds)*time.Second),
		automation.WithDefaultMaxFires(cfg.Automation.DefaultMaxFiresPerHour),
	)
	autoEngine.Attach(bus)

	pruner := automation.NewRetentionPruner(runStore,
		time.Duration(cfg.Automation.RunRetentionDays)*24*time.Hour,
		time.Duration(cfg.Automation.CleanupIntervalSeconds)*time.Second,
		logger.Logger)
	pruner.Start()

	// Recurrence generator feeding the same job store the engine serves.
	generator := recurrence.NewGenerator(
		recurrence.NewSeriesStore(database),
		recurrence.NewInstanceStore(database),
		lifecycle.NewJobStore(database),
		bus,
		recurrence.GeneratorConfig{
			LookaheadDays:   cfg.Recurrence.LookaheadDays,
			MaterializeDays: cfg.Recurrence.MaterializeDays,
			Interval:        time.Duration(cfg.Recurrence.TickerIntervalSeconds) * time.Second,
		},
		logger.Logger)
	generator.Start()

	// Websocket stream for external observers.
	hub := stream.NewHub(cfg.GetServerAllowedOrigins(), logger.Logger)
	hub.Attach(bus)
	streamServer := stream.NewServer(hub, cfg.Server.Port, logger.Logger)
	streamServer.Start()

	// Config watcher is best-effort: a missing user config file just
	// means nothing to watch.
	var watcher *config.ConfigWatcher
	if w, err := config.NewConfigWatcher(config.GetUserConfigPath()); err == nil {
		watcher = w
		watcher.OnReload(func(newCfg *config.Config) error {
			autoEngine.SetActionTimeout(time.Duration(newCfg.Automation.ActionTimeoutSeconds) * time.Second)
			autoEngine.SetDefaultMaxFires(newCfg.Automation.DefaultMaxFiresPerHour)
			generator.SetHorizons(newCfg.Recurrence.LookaheadDays, newCfg.Recurrence.MaterializeDays)
			logger.Logger.Infow("Configuration reloaded",
				"action_timeout_seconds", newCfg.Automation.ActionTimeoutSeconds,
				"max_fires_per_hour", newCfg.Automation.DefaultMaxFiresPerHour,
				"lookahead_days", newCfg.Recurrence.LookaheadDays,
				"materialize_days", newCfg.Recurrence.MaterializeDays)
			return nil
		})
		watcher.Start()
		config.SetGlobalWatcher(watcher)
	} else {
		logger.Logger.Debugw("Config watcher not started", "error", err)
	}

	fmt.Printf("%s TreePro daemon started\n", sym.Stream)
	fmt.Printf("  Database: %s\n", cfg.GetDatabasePath())
	fmt.Printf("  Stream port: %d\n", cfg.Server.Port)
	fmt.Printf("  Action timeout: %ds\n", cfg.Automation.ActionTimeoutSeconds)
	fmt.Printf("  Recurrence: every %ds, lookahead %dd, materialize %dd\n",
		cfg.Recurrence.TickerIntervalSeconds, cfg.Recurrence.LookaheadDays, cfg.Recurrence.MaterializeDays)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Stream)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.Stream)

	// Stop in reverse order of startup.
	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := streamServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warnw("Stream server shutdown error", "error", err)
	}
	generator.Stop()
	pruner.Stop()
	bus.Close()

	fmt.Printf("%s TreePro daemon stopped\n", sym.Stream)
	return nil
}
