package cmd

import (
	"flag"

	"github.com/modsift/modsift/db"
	"github.com/modsift/modsift/internal/config"
)

// runMigrate applies pending warehouse schema migrations.
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return db.Migrate(cfg.PostgresURL())
}
