package config

// Config represents the core TreePro configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Automation AutomationConfig `mapstructure:"automation"`
	Recurrence RecurrenceConfig `mapstructure:"recurrence"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the TreePro event stream server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 7410 // Event stream port
)

// LifecycleConfig configures the job state machine
type LifecycleConfig struct {
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"` // Per-job lock acquisition timeout (default: 5)
}

// AutomationConfig configures the rule engine
type AutomationConfig struct {
	ActionTimeoutSeconds    int `mapstructure:"action_timeout_seconds"`     // Per-action execution timeout (default: 30)
	DefaultMaxFiresPerHour  int `mapstructure:"default_max_fires_per_hour"` // Fallback firing limit for rules without one (default: 60)
	RunRetentionDays        int `mapstructure:"run_retention_days"`         // How long automation run records are kept (default: 90)
	CleanupIntervalSeconds  int `mapstructure:"cleanup_interval_seconds"`   // How often expired runs are pruned (default: 3600)
}

// RecurrenceConfig configures the recurring series generator
type RecurrenceConfig struct {
	LookaheadDays         int `mapstructure:"lookahead_days"`          // How far ahead instances are generated (default: 90)
	MaterializeDays       int `mapstructure:"materialize_days"`        // Instances inside this horizon become draft jobs (default: 14)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // Generator wake-up interval (default: 3600)
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
