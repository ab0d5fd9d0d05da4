package storage

import (
	"context"
	"database/sql"
	"time"
)

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InTx runs fn inside a transaction and commits when fn returns nil
func InTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Classify("begin "+op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return Classify("commit "+op, tx.Commit())
}

// BumpSpecRevision advances the gateway spec revision. The revision is the
// change time in unix milliseconds, or the previous revision plus one when
// the clock has not moved past it, so it never repeats or decreases.
//
// Every write that changes what the spec snapshot renders (endpoints, their
// permissions, grants, role names) calls this in the same transaction.
func BumpSpecRevision(ctx context.Context, exec Execer, now time.Time) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE spec_revision
		SET revision = CASE WHEN revision < $1 THEN $1 ELSE revision + 1 END
		WHERE id = 1
	`, now.UnixMilli())
	return Classify("bump spec revision", err)
}

// SpecRevision returns the current revision, 0 before the first change
func SpecRevision(ctx context.Context, db *sql.DB) (int64, error) {
	var revision int64
	err := db.QueryRowContext(ctx, `SELECT revision FROM spec_revision WHERE id = 1`).Scan(&revision)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, Classify("read spec revision", err)
	}
	return revision, nil
}
