package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		verbose    bool
		jsonOutput bool
	}{
		{
			name:       "JSON output mode",
			jsonOutput: true,
		},
		{
			name: "Console output mode",
		},
		{
			name:    "Verbose console mode",
			verbose: true,
		},
		{
			name:       "Verbose JSON mode",
			verbose:    true,
			jsonOutput: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset global logger
			Logger = nil
			JSONOutput = false

			err := Initialize(tt.verbose, tt.jsonOutput)
			if err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}

			if Logger == nil {
				t.Error("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("Initialize() JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}

			if tt.verbose {
				if !Logger.Desugar().Core().Enabled(zap.DebugLevel) {
					t.Error("verbose Initialize() should enable debug level")
				}
			} else {
				if Logger.Desugar().Core().Enabled(zap.DebugLevel) {
					t.Error("non-verbose Initialize() should not enable debug level")
				}
			}

			// Cleanup
			if Logger != nil {
				Logger.Sync()
				Logger = nil
			}
		})
	}
}

func TestPackageHelpersNilSafe(t *testing.T) {
	// Helpers must not panic when Initialize was never called
	// and the global has been cleared outright.
	Logger = nil
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("package helpers panicked with nil Logger: %v", r)
		}
		Logger = zap.NewNop().Sugar()
	}()

	Info("info")
	Infof("info %d", 1)
	Infow("info", "k", "v")
	Warn("warn")
	Warnf("warn %d", 1)
	Warnw("warn", "k", "v")
	Error("error")
	Errorf("error %d", 1)
	Errorw("error", "k", "v")
	Debug("debug")
	Debugf("debug %d", 1)
	Debugw("debug", "k", "v")
	Cleanup()
}

func TestNopDefault(t *testing.T) {
	// init() installs a no-op logger so early log calls are safe
	Logger = zap.NewNop().Sugar()

	Infow("should not panic", "job_id", "job_123")
	Errorw("should not panic either", "error", "boom")
}
