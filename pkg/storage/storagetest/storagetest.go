// Package storagetest provides in-memory SQL and Redis backends for tests.
package storagetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// NewSQLiteDB opens a migrated in-memory SQLite database that is closed when
// the test finishes
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverSQLite

	db, err := storage.OpenDB(cfg, "file::memory:?cache=private", 1)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// NewRedis starts a miniredis server and returns it together with a client.
// Both are closed when the test finishes.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}
