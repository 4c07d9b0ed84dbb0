package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/tasknest/tasknest/pkg/storage"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := storage.OpenPostgres(ctx, cfg.Database.Postgres())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, migrationSets()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Migrations applied")
	return nil
}
