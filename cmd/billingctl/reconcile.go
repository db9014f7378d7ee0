package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/config"
	"github.com/josh-kwaku/territory-billing/internal/jobs"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run and resolve settlement reconciliations",
	}
	cmd.AddCommand(reconcileRunCmd())
	cmd.AddCommand(reconcileEnqueueCmd())
	cmd.AddCommand(reconcileDiscrepanciesCmd())
	cmd.AddCommand(reconcileResolveCmd())
	return cmd
}

// parseDate defaults to the previous UTC day.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().AddDate(0, 0, -1), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date: %w", err)
	}
	return d, nil
}

func reconcileRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile every territory for one date in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date, err := parseDate(raw)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				s, err := a.Reconciliations.RunDaily(ctx, date)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: reconciled=%d discrepancies=%d failed=%d\n",
					s.Date.Format(time.DateOnly), s.Reconciled, s.Discrepancies, s.Failed)
				if s.Failed > 0 {
					return fmt.Errorf("%d territories failed", s.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("date", "", "UTC date YYYY-MM-DD (default: yesterday)")
	return cmd
}

func reconcileEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a reconciliation run for the billing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date, err := parseDate(raw)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, log *slog.Logger) error {
				q, err := jobs.NewInserter(a.Pool, log)
				if err != nil {
					return err
				}
				if err := q.ReconcileNow(ctx, date); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued reconciliation for %s\n", date.Format(time.DateOnly))
				return nil
			})
		},
	}
	cmd.Flags().String("date", "", "UTC date YYYY-MM-DD (default: yesterday)")
	return cmd
}

func reconcileDiscrepanciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discrepancies",
		Short: "List unresolved discrepancies",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				recs, err := a.Reconciliations.ListDiscrepancies(ctx, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTERRITORY\tDATE\tCURRENCY\tEXPECTED\tACTUAL\tDIFF")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
						r.ID, r.TerritoryID, r.ReconciliationDate.Format(time.DateOnly), r.Currency,
						r.ExpectedAmountMinorUnits, r.ActualAmountMinorUnits, r.DifferenceMinorUnits)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum records")
	return cmd
}

func reconcileResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [reconciliation-id]",
		Short: "Accept a discrepancy by hand; the difference stays on record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("reconciliation id: %w", err)
			}
			actor, _ := cmd.Flags().GetString("actor")
			actorID, err := uuid.Parse(actor)
			if err != nil {
				return fmt.Errorf("--actor: %w", err)
			}
			note, _ := cmd.Flags().GetString("note")

			return withApp(cmd, func(ctx context.Context, a *app.App, _ *config.Config, _ *slog.Logger) error {
				rec, err := a.Reconciliations.MarkAsReconciled(ctx, id, actorID, note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (difference %d kept)\n", rec.ID, rec.Status, rec.DifferenceMinorUnits)
				return nil
			})
		},
	}
	cmd.Flags().String("actor", "", "Operator ID")
	cmd.Flags().String("note", "", "Why the difference is acceptable")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}
