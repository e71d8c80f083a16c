package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the Slate configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults apply, but environment variables are deliberately not bound
	// for this targeted load.
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// SLATE_-prefixed variables work for every key
	v.SetEnvPrefix("SLATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Canonical deployment names (API_PORT, MAX_CONCURRENT_JOBS, ...)
	BindEnvVars(v)

	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// UserConfigPath returns ~/.slate/config.toml.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".slate", "config.toml")
}

// findProjectConfig searches for slate.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, "slate.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// ActiveConfigPath returns the config file that wins the merge for
// file-backed settings: the project slate.toml if present, else the user
// config path (which may not exist yet).
func ActiveConfigPath() string {
	if project := findProjectConfig(); project != "" {
		return project
	}
	return UserConfigPath()
}

// mergeConfigFiles manually merges configuration files in the correct
// precedence order. Precedence (lowest to highest): system < user < project.
// Environment variables override all files via the bindings in initViper.
func mergeConfigFiles(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	// Ensure ~/.slate exists so first-run persistence has somewhere to write
	slateDir := filepath.Join(home, ".slate")
	os.MkdirAll(slateDir, DefaultDirPermissions)

	configPaths := []string{
		"/etc/slate/config.toml", // System config (lowest precedence)
		filepath.Join(slateDir, "config.toml"),
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			tempViper := viper.New()
			tempViper.SetConfigFile(configPath)
			tempViper.SetConfigType("toml")

			// MergeConfigMap keeps file values below environment bindings
			if err := tempViper.ReadInConfig(); err == nil {
				v.MergeConfigMap(tempViper.AllSettings())
			}
		}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v := initViper()
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	v := initViper()
	return v.GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}
