package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/config"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for the territory billing core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(plansCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(subscriptionsCmd())
	rootCmd.AddCommand(webhooksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, wires the core and hands it to fn. Every
// command that touches the database goes through here.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, cfg *config.Config, log *slog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.Init("billingctl", cfg.LogLevel, cfg.AppEnv)

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, cfg, log)
}
