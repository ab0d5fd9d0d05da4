package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// Classify maps a driver error onto the apperrors taxonomy. op names the
// failed operation ("get role", "insert user role") and ends up in the message.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrTransient):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, op)
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %s: %v", apperrors.ErrConflict, op, err)
	case isTransient(err):
		return apperrors.Transient(op, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// IsUniqueViolation reports whether err is a unique constraint violation on
// either supported driver
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}
