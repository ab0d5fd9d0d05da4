// Package storage provides the SQL and Redis plumbing shared by the gatekeeper
// stores.
//
// # Drivers
//
// Two SQL drivers are supported:
//
//   - postgres: lib/pq, with optional read replicas selected round-robin
//   - sqlite: mattn/go-sqlite3, for single-node deployments and tests
//
// All queries in the repository use $N placeholders in increasing order so the
// same statement text runs on both drivers.
//
// # Errors
//
// Classify converts driver errors into the apperrors taxonomy:
//
//	sql.ErrNoRows                      -> apperrors.ErrNotFound
//	unique violation (23505 / sqlite)  -> apperrors.ErrConflict
//	deadline, cancel, bad conn, net    -> apperrors.ErrTransient
//
// # Migrations
//
// Migrate applies the embedded schema migrations in version order and records
// them in schema_migrations. Re-running it is a no-op.
package storage
