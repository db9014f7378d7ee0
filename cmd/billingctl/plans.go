package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/catalog"
	"github.com/josh-kwaku/territory-billing/internal/config"
)

func plansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage the subscription plan catalog",
	}
	cmd.AddCommand(plansValidateCmd())
	cmd.AddCommand(plansSeedCmd())
	cmd.AddCommand(plansVerifyCmd())
	cmd.AddCommand(plansListCmd())
	return cmd
}

func plansValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog file without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			c, err := catalog.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d plans\n", len(c.Plans))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Catalog YAML (default: built-in catalog)")
	return cmd
}

func plansSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create catalog plans that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			return withApp(cmd, func(ctx context.Context, a *app.App, cfg *config.Config, _ *slog.Logger) error {
				if path == "" {
					path = cfg.PlanCatalogPath
				}
				c, err := catalog.Load(path)
				if err != nil {
					return err
				}
				res, err := catalog.Seed(ctx, a.Plans, c, app.SystemActorID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, code := range res.Created {
					fmt.Fprintf(out, "created  %s\n", code)
				}
				for _, code := range res.Existing {
					fmt.Fprintf(out, "existing %s\n", code)
				}
				return a.Plans.VerifyDefaults(ctx)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "Catalog YAML (default: PLAN_CATALOG_PATH or built-in catalog)")
	return cmd
}

func plansVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Fail when no global FREE plan is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				if err := a.Plans.VerifyDefaults(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "default FREE plan present")
				return nil
			})
		},
	}
}

func plansListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans in a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			territory, _ := cmd.Flags().GetString("territory")
			all, _ := cmd.Flags().GetBool("all")

			var territoryID *uuid.UUID
			if territory != "" {
				id, err := uuid.Parse(territory)
				if err != nil {
					return fmt.Errorf("--territory: %w", err)
				}
				territoryID = &id
			}

			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				plans, err := a.Plans.ListPlans(ctx, territoryID, !all)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "CODE\tTIER\tPRICE\tCURRENCY\tCYCLE\tACTIVE")
				for _, p := range plans {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\n",
						p.Code, p.Tier, p.PricePerCycleMinorUnits, p.Currency, p.BillingCycle, p.IsActive)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("territory", "", "Territory ID (default: global plans)")
	cmd.Flags().Bool("all", false, "Include inactive plans")
	return cmd
}
