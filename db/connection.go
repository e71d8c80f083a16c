// Package db owns the SQLite connection and schema migrations for the
// job store. The store location comes from config (JOB_STORE_URL);
// everything above this package sees plain database/sql.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/slatehq/slate/errors"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before
// returning SQLITE_BUSY. WAL mode plus this timeout covers the dispatcher,
// ticker, and HTTP handlers sharing one file without lock errors.
const SQLiteBusyTimeoutMS = 5000

// Open opens a SQLite database at the specified path with optimized settings.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies any pending migrations.
// This is the entry point the server command uses; tests that want a raw
// connection use Open directly.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	database, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := Migrate(database, logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return database, nil
}

// ResolveStoreURL turns a JOB_STORE_URL value into a filesystem path for
// Open. Accepted forms: a bare path, sqlite:///abs/path, sqlite://rel/path,
// file:path, or :memory:. The URL is otherwise opaque to callers.
func ResolveStoreURL(storeURL string) (string, error) {
	if storeURL == "" {
		return "", fmt.Errorf("empty store URL")
	}
	if storeURL == ":memory:" {
		return storeURL, nil
	}

	switch {
	case strings.HasPrefix(storeURL, "sqlite:///"):
		return "/" + strings.TrimPrefix(storeURL, "sqlite:///"), nil
	case strings.HasPrefix(storeURL, "sqlite://"):
		return strings.TrimPrefix(storeURL, "sqlite://"), nil
	case strings.HasPrefix(storeURL, "sqlite:"):
		return strings.TrimPrefix(storeURL, "sqlite:"), nil
	case strings.HasPrefix(storeURL, "file:"):
		return strings.TrimPrefix(storeURL, "file:"), nil
	}

	if i := strings.Index(storeURL, "://"); i >= 0 {
		return "", fmt.Errorf("unsupported store URL scheme %q", storeURL[:i])
	}

	return storeURL, nil
}
