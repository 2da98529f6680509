package config

import "github.com/DKmica/TreeProAIv2-sub008/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "treepro.db" per defaults.go

	// Server port: negative is invalid, 0 means default
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be >= 0, got %d", c.Server.Port)
	}

	// Lock timeout: 0 = fail immediately on contention, negative = invalid
	if c.Lifecycle.LockTimeoutSeconds < 0 {
		return errors.Newf("lifecycle.lock_timeout_seconds must be >= 0, got %d", c.Lifecycle.LockTimeoutSeconds)
	}

	// Action timeout: must be positive, an action with no timeout could wedge the engine
	if c.Automation.ActionTimeoutSeconds <= 0 {
		return errors.Newf("automation.action_timeout_seconds must be > 0, got %d", c.Automation.ActionTimeoutSeconds)
	}

	// Firing limit: 0 = unlimited, negative = invalid
	if c.Automation.DefaultMaxFiresPerHour < 0 {
		return errors.Newf("automation.default_max_fires_per_hour must be >= 0, got %d", c.Automation.DefaultMaxFiresPerHour)
	}

	// Retention: 0 = keep forever, negative = invalid
	if c.Automation.RunRetentionDays < 0 {
		return errors.Newf("automation.run_retention_days must be >= 0, got %d", c.Automation.RunRetentionDays)
	}

	// Cleanup interval: 0 = no periodic cleanup, negative = invalid
	if c.Automation.CleanupIntervalSeconds < 0 {
		return errors.Newf("automation.cleanup_interval_seconds must be >= 0, got %d", c.Automation.CleanupIntervalSeconds)
	}

	// Recurrence horizons: materialize window cannot exceed the generation window
	if c.Recurrence.LookaheadDays <= 0 {
		return errors.Newf("recurrence.lookahead_days must be > 0, got %d", c.Recurrence.LookaheadDays)
	}
	if c.Recurrence.MaterializeDays < 0 {
		return errors.Newf("recurrence.materialize_days must be >= 0, got %d", c.Recurrence.MaterializeDays)
	}
	if c.Recurrence.MaterializeDays > c.Recurrence.LookaheadDays {
		return errors.Newf("recurrence.materialize_days (%d) cannot exceed recurrence.lookahead_days (%d)",
			c.Recurrence.MaterializeDays, c.Recurrence.LookaheadDays)
	}

	// Generator ticker: 0 = manual only, negative = invalid
	if c.Recurrence.TickerIntervalSeconds < 0 {
		return errors.Newf("recurrence.ticker_interval_seconds must be >= 0, got %d", c.Recurrence.TickerIntervalSeconds)
	}

	return nil
}
