package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/config"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Subscription maintenance",
	}
	cmd.AddCommand(subscriptionsExpireCmd())
	cmd.AddCommand(subscriptionsSyncCmd())
	return cmd
}

func subscriptionsExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Apply period-end cancellations and ended trials now",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				n, err := a.Subscriptions.ExpireDue(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d subscriptions changed\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 500, "Maximum subscriptions per run")
	return cmd
}

func subscriptionsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [subscription-id]",
		Short: "Pull status and period from the billing gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("subscription id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				sub, err := a.Subscriptions.SyncFromGateway(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s period_end=%s\n", sub.ID, sub.Status, sub.CurrentPeriodEnd.Format("2006-01-02"))
				return nil
			})
		},
	}
}
