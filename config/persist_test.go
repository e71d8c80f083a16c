package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeHome points HOME at a temp dir so Save and Load never touch the
// real user config.
func fakeHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	Reset()
	t.Cleanup(Reset)
	return tmpDir
}

func TestSaveTo_CreatesFileAndBackups(t *testing.T) {
	fakeHome(t)
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if err := SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	// First save has nothing to back up.
	if _, err := os.Stat(backupPath(path, 1)); err == nil {
		t.Error("expected no backup after first save")
	}

	// Second save rotates the original into .back1.
	GetViper().Set("executor.max_retries", 5)
	if err := SaveTo(path); err != nil {
		t.Fatalf("second SaveTo() failed: %v", err)
	}
	if _, err := os.Stat(backupPath(path, 1)); err != nil {
		t.Fatalf("expected .back1 after second save: %v", err)
	}

	// Third save shifts .back1 to .back2.
	GetViper().Set("executor.max_retries", 6)
	if err := SaveTo(path); err != nil {
		t.Fatalf("third SaveTo() failed: %v", err)
	}
	if _, err := os.Stat(backupPath(path, 2)); err != nil {
		t.Fatalf("expected .back2 after third save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "max_retries = 6") {
		t.Errorf("expected current file to carry latest value, got:\n%s", data)
	}
	back1, _ := os.ReadFile(backupPath(path, 1))
	if !strings.Contains(string(back1), "max_retries = 5") {
		t.Errorf("expected .back1 to carry previous value, got:\n%s", back1)
	}
}

func TestSetValue(t *testing.T) {
	home := fakeHome(t)

	if err := SetValue("executor.max_concurrent_jobs", "4"); err != nil {
		t.Fatalf("SetValue() failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Executor.MaxConcurrentJobs != 4 {
		t.Errorf("expected live config updated to 4, got %d", cfg.Executor.MaxConcurrentJobs)
	}

	data, err := os.ReadFile(filepath.Join(home, ".slate", "config.toml"))
	if err != nil {
		t.Fatalf("expected user config written: %v", err)
	}
	if !strings.Contains(string(data), "max_concurrent_jobs = 4") {
		t.Errorf("expected persisted value, got:\n%s", data)
	}

	// A fresh load from disk sees the persisted value.
	Reset()
	cfg, err = Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Executor.MaxConcurrentJobs != 4 {
		t.Errorf("expected persisted value on reload, got %d", cfg.Executor.MaxConcurrentJobs)
	}
}

func TestSetValue_RejectsUnknownKey(t *testing.T) {
	fakeHome(t)

	if err := SetValue("nonsense.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue_RejectsInvalidValue(t *testing.T) {
	fakeHome(t)

	if err := SetValue("executor.max_concurrent_jobs", "0"); err == nil {
		t.Error("expected validation error for zero concurrency")
	}
}

func TestCoerceValue(t *testing.T) {
	if v, ok := coerceValue("42").(int); !ok || v != 42 {
		t.Errorf("expected int 42, got %v", coerceValue("42"))
	}
	if v, ok := coerceValue("true").(bool); !ok || !v {
		t.Errorf("expected bool true, got %v", coerceValue("true"))
	}
	if v, ok := coerceValue("UTC").(string); !ok || v != "UTC" {
		t.Errorf("expected string UTC, got %v", coerceValue("UTC"))
	}
}
