package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "treepro.db")

	// Lifecycle defaults
	v.SetDefault("lifecycle.lock_timeout_seconds", 5)

	// Automation defaults
	v.SetDefault("automation.action_timeout_seconds", 30)
	v.SetDefault("automation.default_max_fires_per_hour", 60)
	v.SetDefault("automation.run_retention_days", 90)
	v.SetDefault("automation.cleanup_interval_seconds", 3600)

	// Recurrence defaults
	v.SetDefault("recurrence.lookahead_days", 90)
	v.SetDefault("recurrence.materialize_days", 14)
	v.SetDefault("recurrence.ticker_interval_seconds", 3600)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "TREEPRO_DATABASE_PATH")
	v.BindEnv("server.port", "TREEPRO_SERVER_PORT")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "treepro.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Recurrence: {LookaheadDays: %d}}",
		c.Database.Path, c.Server.Port, c.Recurrence.LookaheadDays)
}
