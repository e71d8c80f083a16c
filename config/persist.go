package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/slatehq/slate/errors"
)

const maxBackups = 3

// Save writes the current settings to the user config file, creating
// ~/.slate if needed. The previous file is rotated into .back1..back3.
func Save() error {
	path := UserConfigPath()
	if path == "" {
		return errors.New("cannot resolve user config path")
	}
	return SaveTo(path)
}

// SaveTo writes the current settings to an explicit path.
func SaveTo(path string) error {
	v := GetViper()
	if v == nil {
		return errors.New("configuration not loaded")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "creating config directory")
	}

	if _, err := os.Stat(path); err == nil {
		if err := createBackup(path); err != nil {
			return errors.Wrap(err, "backing up config")
		}
	}

	data, err := toml.Marshal(v.AllSettings())
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}

	if watcher := activeWatcher(); watcher != nil {
		watcher.MarkOwnWrite()
	}

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "writing config")
	}
	return nil
}

// createBackup rotates existing backups and copies the current file to
// .back1. Oldest backup (.back3) is dropped.
func createBackup(path string) error {
	for i := maxBackups - 1; i >= 1; i-- {
		src := backupPath(path, i)
		dst := backupPath(path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return errors.Wrapf(err, "rotating backup %d", i)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading current config")
	}
	if err := os.WriteFile(backupPath(path, 1), data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "writing backup")
	}
	return nil
}

func backupPath(path string, n int) string {
	return path + ".back" + strconv.Itoa(n)
}

// SetValue updates a single dotted key (e.g. "executor.max_retries") in
// the live configuration and persists the result. String values that
// parse as ints or bools are coerced so `slate config set` round-trips
// typed fields correctly.
func SetValue(key, value string) error {
	v := GetViper()
	if v == nil {
		if _, err := Load(); err != nil {
			return err
		}
		v = GetViper()
	}

	if !knownKey(key) {
		return errors.Newf("unknown config key %q", key)
	}

	v.Set(key, coerceValue(value))

	// Reject the change before writing it out.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return errors.Wrapf(err, "applying %s", key)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	globalConfig = &cfg

	return Save()
}

func knownKey(key string) bool {
	v := GetViper()
	for _, k := range v.AllKeys() {
		if k == key {
			return true
		}
	}
	// Keys with nil defaults (e.g. server.port) are absent from AllKeys
	// until set; accept anything under a known section.
	section, _, found := strings.Cut(key, ".")
	if !found {
		return false
	}
	switch section {
	case "server", "store", "scheduler", "executor", "calendar", "capabilities", "log":
		return true
	}
	return false
}

func coerceValue(value string) any {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
