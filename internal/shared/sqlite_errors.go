// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// ConflictRetry bounds retries of SQLite writes that hit lock contention.
type ConflictRetry struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultConflictRetry retries three times: 100ms, 200ms.
var DefaultConflictRetry = ConflictRetry{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// Do runs fn, retrying with exponential backoff while it fails with a
// SQLite conflict error. Other errors are returned immediately.
func (r ConflictRetry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := max(r.Attempts, 1)
	var err error
	for i := range attempts {
		err = fn(ctx)
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := r.BaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
