package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tierkeep/pkg/scheduler"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		return sweepJob(a)(cmd.Context())
	},
}

func sweepJob(a *app) scheduler.Job {
	return func(ctx context.Context) error {
		report, err := a.service.Sweep(ctx)
		if err != nil {
			return err
		}
		a.log.InfoContext(ctx, "sweep finished",
			slog.Int("downgraded", report.Downgraded),
			slog.Int("extended", report.Extended),
			slog.Int("cancelled", report.Cancelled),
			slog.Int("fail_safe", report.FailSafe),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed),
		)
		return nil
	}
}
