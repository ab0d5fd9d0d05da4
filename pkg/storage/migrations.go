package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in version order.
// The statements are restricted to the SQL dialect shared by Postgres and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create identity tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					status VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(64) PRIMARY KEY,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_tenant_id ON organizations(tenant_id);

				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					identifier VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					phone_number VARCHAR(64) NOT NULL DEFAULT '',
					hashed_password VARCHAR(255) NOT NULL,
					status VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(identifier, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_users_identifier ON users(identifier);

				CREATE TABLE IF NOT EXISTS services (
					id VARCHAR(64) PRIMARY KEY,
					service_code VARCHAR(128) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(32) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create RBAC tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					scope VARCHAR(32) NOT NULL,
					tenant_id VARCHAR(64) REFERENCES tenants(id) ON DELETE CASCADE,
					service_id VARCHAR(64) REFERENCES services(id) ON DELETE CASCADE,
					type VARCHAR(16) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_scope_name
					ON roles(COALESCE(tenant_id, ''), COALESCE(service_id, ''), name);

				CREATE TABLE IF NOT EXISTS permissions (
					id VARCHAR(64) PRIMARY KEY,
					perm_key VARCHAR(255) NOT NULL UNIQUE,
					resource VARCHAR(128) NOT NULL,
					action VARCHAR(128) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					type VARCHAR(16) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id VARCHAR(64) NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create permission_endpoints table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_endpoints (
					id VARCHAR(64) PRIMARY KEY,
					permission_id VARCHAR(64) NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					service_name VARCHAR(128) NOT NULL,
					url_pattern VARCHAR(1024) NOT NULL,
					static_prefix VARCHAR(1024) NOT NULL,
					http_method VARCHAR(16) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_public BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					deleted_at TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_permission_endpoints_live
					ON permission_endpoints(url_pattern, http_method) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_permission_endpoints_method ON permission_endpoints(http_method);
				CREATE INDEX IF NOT EXISTS idx_permission_endpoints_service ON permission_endpoints(service_name);
			`,
		},
		{
			Version:     4,
			Description: "Create refresh_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS refresh_tokens (
					token_id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL,
					token_hash VARCHAR(128) NOT NULL UNIQUE,
					issued_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);
				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create spec_revision counter",
			SQL: `
				CREATE TABLE IF NOT EXISTS spec_revision (
					id INTEGER PRIMARY KEY,
					revision BIGINT NOT NULL
				);

				INSERT INTO spec_revision (id, revision) VALUES (1, 0);
			`,
		},
	}
}

// Migrate applies all pending migrations. Each migration runs in its own
// transaction together with its schema_migrations bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return 0, Classify("create schema_migrations", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return 0, Classify("list applied migrations", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return 0, Classify("scan migration version", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, Classify("list applied migrations", err)
	}

	count := 0
	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Classify("begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
		m.Version, m.Description, time.Now().UTC(),
	)
	if err != nil {
		return Classify("record migration", err)
	}

	return tx.Commit()
}
