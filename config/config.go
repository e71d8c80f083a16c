// Package config loads and persists the Slate configuration.
//
// Sources, lowest to highest precedence: built-in defaults, /etc/slate,
// ~/.slate/config.toml, a project-local slate.toml found by walking up from
// the working directory, then environment variables. The canonical
// environment names (API_PORT, MAX_CONCURRENT_JOBS, ...) are bound
// explicitly so deployments can run without any file at all.
package config

// Config represents the core Slate configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Calendar     CalendarConfig     `mapstructure:"calendar"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig configures the HTTP/WebSocket API server
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           *int     `mapstructure:"port"` // nil = default 8000, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerPort is the API port used when server.port is unset.
const DefaultServerPort = 8000

// StoreConfig configures the job store
type StoreConfig struct {
	// URL is opaque at this layer; db.ResolveStoreURL translates it.
	// Default: ~/.slate/slate.db
	URL string `mapstructure:"url"`
}

// SchedulerConfig configures the dispatcher and housekeeping
type SchedulerConfig struct {
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"` // dispatcher scan period (default: 60)
	Timezone             string `mapstructure:"timezone"`               // IANA zone for recurring fires and calendar dates (default: UTC)
	RetentionDays        int    `mapstructure:"retention_days"`         // terminal jobs older than this are swept; 0 disables
}

// ExecutorConfig configures concurrency and retry behaviour
type ExecutorConfig struct {
	MaxConcurrentJobs     int    `mapstructure:"max_concurrent_jobs"`     // executor semaphore size (default: 2)
	MaxRetries            int    `mapstructure:"max_retries"`             // attempts after the first (default: 3)
	RetryStrategy         string `mapstructure:"retry_strategy"`          // none, fixed, linear, exponential (default: exponential)
	RetryBaseDelaySeconds int    `mapstructure:"retry_base_delay_seconds"` // back-off base (default: 60)
	RetryMaxDelaySeconds  int    `mapstructure:"retry_max_delay_seconds"`  // back-off ceiling (default: 3600)
	AttemptTimeoutSeconds int    `mapstructure:"attempt_timeout_seconds"`  // per-attempt timeout; 0 = no timeout
	CancelGraceSeconds    int    `mapstructure:"cancel_grace_seconds"`     // wait for cooperative cancel (default: 30)
}

// CalendarConfig configures slot reservation rules
type CalendarConfig struct {
	MinGapHours       int      `mapstructure:"min_gap_hours"`       // minimum start-to-start spacing (default: 6)
	MaxPerDay         int      `mapstructure:"max_per_day"`         // non-cancelled slots per local date (default: 3)
	SlotBufferMinutes int      `mapstructure:"slot_buffer_minutes"` // post-production buffer added to each slot (default: 30)
	PreferredHours    []int    `mapstructure:"preferred_hours"`     // suggestion candidates, local hours (default: 10, 14, 18)
	BlackoutDates     []string `mapstructure:"blackout_dates"`      // YYYY-MM-DD local dates that refuse reservations
}

// CapabilitiesConfig configures the external capability adapters
type CapabilitiesConfig struct {
	// ManifestPath points at capabilities.toml; empty means built-in
	// simulated capabilities only.
	ManifestPath string `mapstructure:"manifest_path"`

	// AllowPrivateEndpoints disables the SSRF private-address guard for
	// HTTP capabilities. Required when capability services run on
	// localhost (typical development setup).
	AllowPrivateEndpoints bool `mapstructure:"allow_private_endpoints"`

	// HTTPTimeoutSeconds bounds a single capability HTTP call.
	HTTPTimeoutSeconds int `mapstructure:"http_timeout_seconds"`
}

// LogConfig configures logging output
type LogConfig struct {
	Verbose bool `mapstructure:"verbose"` // debug-level logging
	JSON    bool `mapstructure:"json"`    // machine-readable output
}
