package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	DefaultDirPermissions  = 0o755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0o644 // Standard file permissions (rw-r--r--)
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Store defaults
	v.SetDefault("store.url", defaultStorePath())

	// Scheduler defaults
	v.SetDefault("scheduler.check_interval_seconds", 60)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.retention_days", 0) // disabled unless configured

	// Executor defaults
	v.SetDefault("executor.max_concurrent_jobs", 2)
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_strategy", "exponential")
	v.SetDefault("executor.retry_base_delay_seconds", 60)
	v.SetDefault("executor.retry_max_delay_seconds", 3600)
	v.SetDefault("executor.attempt_timeout_seconds", 1800)
	v.SetDefault("executor.cancel_grace_seconds", 30)

	// Calendar defaults
	v.SetDefault("calendar.min_gap_hours", 6)
	v.SetDefault("calendar.max_per_day", 3)
	v.SetDefault("calendar.slot_buffer_minutes", 30)
	v.SetDefault("calendar.preferred_hours", []int{10, 14, 18})
	v.SetDefault("calendar.blackout_dates", []string{})

	// Capability defaults
	v.SetDefault("capabilities.manifest_path", "")
	v.SetDefault("capabilities.allow_private_endpoints", false)
	v.SetDefault("capabilities.http_timeout_seconds", 600)

	// Log defaults
	v.SetDefault("log.verbose", false)
	v.SetDefault("log.json", false)
}

// BindEnvVars binds the canonical environment variable names. These are the
// documented deployment surface; viper's SLATE_-prefixed automatic names
// work too, but these exact names must always win a merge.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("server.host", "API_HOST")
	v.BindEnv("server.port", "API_PORT")
	v.BindEnv("store.url", "JOB_STORE_URL")
	v.BindEnv("scheduler.check_interval_seconds", "CHECK_INTERVAL_SECONDS")
	v.BindEnv("scheduler.timezone", "TIMEZONE")
	v.BindEnv("executor.max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	v.BindEnv("executor.max_retries", "MAX_RETRIES")
	v.BindEnv("executor.retry_base_delay_seconds", "RETRY_BASE_DELAY_SECONDS")
	v.BindEnv("executor.retry_max_delay_seconds", "RETRY_MAX_DELAY_SECONDS")
	v.BindEnv("calendar.min_gap_hours", "CALENDAR_MIN_GAP_HOURS")
	v.BindEnv("calendar.max_per_day", "CALENDAR_MAX_PER_DAY")
}

// defaultStorePath is ~/.slate/slate.db, falling back to the working
// directory when the home directory cannot be determined.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "slate.db"
	}
	return filepath.Join(home, ".slate", "slate.db")
}
