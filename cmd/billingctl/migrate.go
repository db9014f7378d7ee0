package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/config"
	"github.com/josh-kwaku/territory-billing/internal/jobs"
	"github.com/josh-kwaku/territory-billing/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the billing schema and the job queue schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, log *slog.Logger) error {
				applied, err := migrations.Apply(ctx, a.DB, log)
				if err != nil {
					return err
				}
				if err := jobs.Migrate(ctx, a.Pool); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d schema migrations applied; job queue up to date\n", len(applied))
				return nil
			})
		},
	}
}
