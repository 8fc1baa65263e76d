package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrInvalidConfig marks connection settings that no amount of retrying can fix.
var ErrInvalidConfig = errors.New("invalid database configuration")

// isRetryableError reports whether a connection or statement error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidConfig) {
		return false
	}

	if class, ok := sqlStateClass(err); ok {
		switch class {
		case "08": // Connection exceptions
			return true
		case "53": // Insufficient resources (connection limit, out of memory, disk full)
			return true
		case "57": // Operator intervention (shutdown in progress, etc)
			return true
		case "58": // System errors (IO errors, etc)
			return true
		case "28": // Invalid authorisation - NOT retryable
			return false
		case "3D": // Unknown database - NOT retryable
			return false
		case "23": // Integrity constraint violations - NOT retryable (bad data)
			return false
		case "22": // Data exceptions (invalid input, etc) - NOT retryable (bad data)
			return false
		case "42": // Syntax errors or missing objects - NOT retryable
			return false
		default:
			return true
		}
	}

	if errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errMsg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"too many clients",
	}
	for _, connErr := range connectionErrors {
		if strings.Contains(errMsg, connErr) {
			return true
		}
	}

	// Default: assume it's retryable, startup is bounded by MaxAttempts
	return true
}

// sqlStateClass extracts the two-character SQLSTATE class from either driver's error type.
func sqlStateClass(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return pgErr.Code[:2], true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()), true
	}

	return "", false
}
