package config

import (
	"time"

	"github.com/slatehq/slate/errors"
)

// Validate checks that the configuration is valid. A non-nil return means
// the process must exit with the configuration-error code.
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && (*c.Server.Port < 0 || *c.Server.Port > 65535) {
		return errors.Newf("server.port must be in 1..65535, got %d", *c.Server.Port)
	}

	if c.Store.URL == "" {
		return errors.New("store.url cannot be empty")
	}

	if c.Scheduler.CheckIntervalSeconds <= 0 {
		return errors.Newf("scheduler.check_interval_seconds must be > 0, got %d", c.Scheduler.CheckIntervalSeconds)
	}
	if c.Scheduler.RetentionDays < 0 {
		return errors.Newf("scheduler.retention_days must be >= 0, got %d", c.Scheduler.RetentionDays)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return errors.Wrapf(err, "scheduler.timezone %q is not a valid IANA zone", c.Scheduler.Timezone)
	}

	if c.Executor.MaxConcurrentJobs <= 0 {
		return errors.Newf("executor.max_concurrent_jobs must be > 0, got %d", c.Executor.MaxConcurrentJobs)
	}
	if c.Executor.MaxRetries < 0 {
		return errors.Newf("executor.max_retries must be >= 0, got %d", c.Executor.MaxRetries)
	}
	switch c.Executor.RetryStrategy {
	case "none", "fixed", "linear", "exponential":
	default:
		return errors.Newf("executor.retry_strategy must be none, fixed, linear, or exponential, got %q", c.Executor.RetryStrategy)
	}
	if c.Executor.RetryBaseDelaySeconds < 0 {
		return errors.Newf("executor.retry_base_delay_seconds must be >= 0, got %d", c.Executor.RetryBaseDelaySeconds)
	}
	if c.Executor.RetryMaxDelaySeconds < c.Executor.RetryBaseDelaySeconds {
		return errors.Newf("executor.retry_max_delay_seconds (%d) must be >= retry_base_delay_seconds (%d)",
			c.Executor.RetryMaxDelaySeconds, c.Executor.RetryBaseDelaySeconds)
	}
	if c.Executor.AttemptTimeoutSeconds < 0 {
		return errors.Newf("executor.attempt_timeout_seconds must be >= 0, got %d", c.Executor.AttemptTimeoutSeconds)
	}
	if c.Executor.CancelGraceSeconds < 0 {
		return errors.Newf("executor.cancel_grace_seconds must be >= 0, got %d", c.Executor.CancelGraceSeconds)
	}

	if c.Calendar.MinGapHours < 0 {
		return errors.Newf("calendar.min_gap_hours must be >= 0, got %d", c.Calendar.MinGapHours)
	}
	if c.Calendar.MaxPerDay <= 0 {
		return errors.Newf("calendar.max_per_day must be > 0, got %d", c.Calendar.MaxPerDay)
	}
	if c.Calendar.SlotBufferMinutes < 0 {
		return errors.Newf("calendar.slot_buffer_minutes must be >= 0, got %d", c.Calendar.SlotBufferMinutes)
	}
	for _, hour := range c.Calendar.PreferredHours {
		if hour < 0 || hour > 23 {
			return errors.Newf("calendar.preferred_hours entries must be in 0..23, got %d", hour)
		}
	}
	for _, date := range c.Calendar.BlackoutDates {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return errors.Wrapf(err, "calendar.blackout_dates entry %q must be YYYY-MM-DD", date)
		}
	}

	if c.Capabilities.HTTPTimeoutSeconds <= 0 {
		return errors.Newf("capabilities.http_timeout_seconds must be > 0, got %d", c.Capabilities.HTTPTimeoutSeconds)
	}

	return nil
}

// ServerPort resolves the configured port, applying the default.
func (c *Config) ServerPort() int {
	if c.Server.Port != nil {
		return *c.Server.Port
	}
	return DefaultServerPort
}

// Location resolves the scheduler timezone. Call Validate first; an
// unparseable zone falls back to UTC here.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CheckInterval returns the dispatcher scan period as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalSeconds) * time.Second
}
