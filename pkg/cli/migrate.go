package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	db := addDBFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	conn, err := db.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := storage.Migrate(context.Background(), conn)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Applied %d migration(s)\n", applied)
	return nil
}
