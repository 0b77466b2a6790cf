package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkeep/pkg/pg"
	store "github.com/dmitrymomot/tierkeep/svc/subscription"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		log, _, err := newLogger()
		if err != nil {
			return err
		}

		pool, cfg, err := connectDB(ctx, log)
		if err != nil {
			return err
		}
		defer pool.Close()

		version, err := pg.MigrationVersion(ctx, pool, store.Migrations(), cfg, log)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "database schema is up to date", slog.Int64("version", version))
		return nil
	},
}
