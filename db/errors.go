package db

import (
	"strings"

	"github.com/slatehq/slate/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically during graceful shutdown when the connection closes
// before the dispatcher and ticker goroutines have drained.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed. The string matching fallback is necessary because the underlying
// sql driver returns its own error types that we cannot wrap at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
