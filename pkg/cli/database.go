package cli

import (
	"database/sql"
	"flag"
	"os"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// dbFlags are shared by every command that talks to the database directly.
// Defaults come from the same environment variables the server reads.
type dbFlags struct {
	driver      *string
	databaseURL *string
}

func addDBFlags(fs *flag.FlagSet) dbFlags {
	defaults := storage.DefaultConfig()
	return dbFlags{
		driver:      fs.String("driver", envOr("GATEKEEPER_DB_DRIVER", defaults.Driver), "Database driver (postgres or sqlite)"),
		databaseURL: fs.String("database-url", envOr("GATEKEEPER_DATABASE_URL", defaults.DatabaseURL), "Database connection URL"),
	}
}

func (f dbFlags) open() (*sql.DB, error) {
	cfg := storage.DefaultConfig()
	cfg.Driver = *f.driver
	cfg.DatabaseURL = *f.databaseURL
	return storage.OpenDB(cfg, cfg.DatabaseURL, 4)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
