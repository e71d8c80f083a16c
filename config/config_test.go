package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/slatehq/slate/internal/util"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != nil {
		t.Errorf("expected nil port (use default %d), got %d", DefaultServerPort, *cfg.Server.Port)
	}
	if cfg.ServerPort() != DefaultServerPort {
		t.Errorf("expected resolved port %d, got %d", DefaultServerPort, cfg.ServerPort())
	}
	if cfg.Executor.MaxConcurrentJobs != 2 {
		t.Errorf("expected default max_concurrent_jobs 2, got %d", cfg.Executor.MaxConcurrentJobs)
	}
	if cfg.Executor.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Executor.MaxRetries)
	}
	if cfg.Scheduler.CheckIntervalSeconds != 60 {
		t.Errorf("expected default check interval 60, got %d", cfg.Scheduler.CheckIntervalSeconds)
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %q", cfg.Scheduler.Timezone)
	}
	if cfg.Calendar.MinGapHours != 6 {
		t.Errorf("expected default min gap 6, got %d", cfg.Calendar.MinGapHours)
	}
	if cfg.Calendar.MaxPerDay != 3 {
		t.Errorf("expected default max per day 3, got %d", cfg.Calendar.MaxPerDay)
	}
	if got := cfg.Calendar.PreferredHours; len(got) != 3 || got[0] != 10 || got[1] != 14 || got[2] != 18 {
		t.Errorf("expected preferred hours [10 14 18], got %v", got)
	}
	if cfg.Store.URL == "" {
		t.Error("expected non-empty default store url")
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"server.host", "0.0.0.0"},
		{"scheduler.check_interval_seconds", 60},
		{"scheduler.timezone", "UTC"},
		{"executor.max_concurrent_jobs", 2},
		{"executor.max_retries", 3},
		{"executor.retry_strategy", "exponential"},
		{"executor.retry_base_delay_seconds", 60},
		{"executor.retry_max_delay_seconds", 3600},
		{"executor.cancel_grace_seconds", 30},
		{"calendar.min_gap_hours", 6},
		{"calendar.max_per_day", 3},
		{"calendar.slot_buffer_minutes", 30},
		{"capabilities.http_timeout_seconds", 600},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := v.Get(tt.key)
			if got != tt.expected {
				t.Errorf("default %s = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	v := viper.New()
	BindEnvVars(v)
	SetDefaults(v)

	t.Setenv("API_PORT", "9100")
	t.Setenv("MAX_CONCURRENT_JOBS", "5")
	t.Setenv("CHECK_INTERVAL_SECONDS", "15")
	t.Setenv("TIMEZONE", "America/New_York")

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Server.Port == nil || *cfg.Server.Port != 9100 {
		t.Errorf("expected API_PORT to set port 9100, got %v", cfg.Server.Port)
	}
	if cfg.Executor.MaxConcurrentJobs != 5 {
		t.Errorf("expected MAX_CONCURRENT_JOBS to set 5, got %d", cfg.Executor.MaxConcurrentJobs)
	}
	if cfg.Scheduler.CheckIntervalSeconds != 15 {
		t.Errorf("expected CHECK_INTERVAL_SECONDS to set 15, got %d", cfg.Scheduler.CheckIntervalSeconds)
	}
	if cfg.Scheduler.Timezone != "America/New_York" {
		t.Errorf("expected TIMEZONE to set zone, got %q", cfg.Scheduler.Timezone)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	// A file value merged below env bindings must lose to the env var.
	v := viper.New()
	BindEnvVars(v)
	SetDefaults(v)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	content := "[executor]\nmax_concurrent_jobs = 7\nmax_retries = 9\n"
	if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	fileViper := viper.New()
	fileViper.SetConfigFile(configPath)
	fileViper.SetConfigType("toml")
	if err := fileViper.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	v.MergeConfigMap(fileViper.AllSettings())

	t.Setenv("MAX_CONCURRENT_JOBS", "11")

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Executor.MaxConcurrentJobs != 11 {
		t.Errorf("env must beat file: expected 11, got %d", cfg.Executor.MaxConcurrentJobs)
	}
	// File value without a competing env var still applies.
	if cfg.Executor.MaxRetries != 9 {
		t.Errorf("file must beat default: expected 9, got %d", cfg.Executor.MaxRetries)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "slate.toml")
	content := `
[server]
host = "127.0.0.1"
port = 9000

[scheduler]
check_interval_seconds = 30
timezone = "Europe/Berlin"

[calendar]
min_gap_hours = 4
blackout_dates = ["2026-12-25"]
`
	if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host from file, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port == nil || *cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000 from file, got %v", cfg.Server.Port)
	}
	if cfg.Scheduler.CheckIntervalSeconds != 30 {
		t.Errorf("expected check interval 30 from file, got %d", cfg.Scheduler.CheckIntervalSeconds)
	}
	if cfg.Scheduler.Timezone != "Europe/Berlin" {
		t.Errorf("expected timezone from file, got %q", cfg.Scheduler.Timezone)
	}
	if cfg.Calendar.MinGapHours != 4 {
		t.Errorf("expected min gap 4 from file, got %d", cfg.Calendar.MinGapHours)
	}
	// Unset keys keep defaults
	if cfg.Executor.MaxConcurrentJobs != 2 {
		t.Errorf("expected default max_concurrent_jobs 2, got %d", cfg.Executor.MaxConcurrentJobs)
	}

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := LoadWithViper(v)
		if err != nil {
			t.Fatalf("LoadWithViper() failed: %v", err)
		}
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"explicit port is valid", func(c *Config) { c.Server.Port = util.Ptr(8080) }, false},
		{"zero port is invalid", func(c *Config) { c.Server.Port = util.Ptr(0) }, true},
		{"negative port is invalid", func(c *Config) { c.Server.Port = util.Ptr(-1) }, true},
		{"port over 65535 is invalid", func(c *Config) { c.Server.Port = util.Ptr(70000) }, true},
		{"empty store url is invalid", func(c *Config) { c.Store.URL = "" }, true},
		{"zero check interval is invalid", func(c *Config) { c.Scheduler.CheckIntervalSeconds = 0 }, true},
		{"bad timezone is invalid", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, true},
		{"zero concurrency is invalid", func(c *Config) { c.Executor.MaxConcurrentJobs = 0 }, true},
		{"zero retries is valid (no retry)", func(c *Config) { c.Executor.MaxRetries = 0 }, false},
		{"negative retries is invalid", func(c *Config) { c.Executor.MaxRetries = -1 }, true},
		{"linear retry strategy is valid", func(c *Config) { c.Executor.RetryStrategy = "linear" }, false},
		{"unknown retry strategy is invalid", func(c *Config) { c.Executor.RetryStrategy = "jitter" }, true},
		{"max delay below base is invalid", func(c *Config) {
			c.Executor.RetryBaseDelaySeconds = 120
			c.Executor.RetryMaxDelaySeconds = 60
		}, true},
		{"zero grace is valid (immediate)", func(c *Config) { c.Executor.CancelGraceSeconds = 0 }, false},
		{"zero min gap is valid (disabled)", func(c *Config) { c.Calendar.MinGapHours = 0 }, false},
		{"negative min gap is invalid", func(c *Config) { c.Calendar.MinGapHours = -1 }, true},
		{"zero max per day is invalid", func(c *Config) { c.Calendar.MaxPerDay = 0 }, true},
		{"preferred hour 24 is invalid", func(c *Config) { c.Calendar.PreferredHours = []int{10, 24} }, true},
		{"malformed blackout date is invalid", func(c *Config) { c.Calendar.BlackoutDates = []string{"25-12-2026"} }, true},
		{"well-formed blackout date is valid", func(c *Config) { c.Calendar.BlackoutDates = []string{"2026-12-25"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("found in ancestor", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "proj", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)
		os.WriteFile(filepath.Join(tmpDir, "proj", "slate.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Fatal("expected to find config file")
		}
		if filepath.Base(result) != "slate.toml" {
			t.Errorf("expected slate.toml, got %s", filepath.Base(result))
		}
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "empty", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestCheckInterval(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}
	if cfg.CheckInterval().Seconds() != 60 {
		t.Errorf("expected 60s check interval, got %v", cfg.CheckInterval())
	}
}

func TestLocation(t *testing.T) {
	cfg := Config{Scheduler: SchedulerConfig{Timezone: "UTC"}}
	if cfg.Location().String() != "UTC" {
		t.Errorf("expected UTC, got %v", cfg.Location())
	}

	cfg.Scheduler.Timezone = "not-a-zone"
	if cfg.Location().String() != "UTC" {
		t.Errorf("expected UTC fallback for bad zone, got %v", cfg.Location())
	}
}
