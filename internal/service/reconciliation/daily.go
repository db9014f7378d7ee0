package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type RunSummary struct {
	Date          time.Time
	Reconciled    int
	Discrepancies int
	Failed        int
}

// RunDaily reconciles every territory that has a balance against the
// settlement report for date. A failing territory is logged and counted;
// the rest still run.
func (s *Service) RunDaily(ctx context.Context, date time.Time) (*RunSummary, error) {
	log := logging.FromContext(ctx)
	day := domain.TruncateToDate(date)

	balances, err := s.balances.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("RunDaily: %w", err)
	}

	summary := &RunSummary{Date: day}
	for _, b := range balances {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("RunDaily: %w", err)
		}

		var actual int64
		err := gateway.Call(ctx, s.reporter, "settled_amount", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
			var err error
			actual, err = s.reporter.SettledAmount(ctx, b.TerritoryID, b.Currency, day)
			return err
		})
		if err == nil {
			var rec *domain.ReconciliationRecord
			rec, err = s.Reconcile(ctx, b.TerritoryID, day, b.Currency, actual)
			if err == nil {
				if rec.Status == domain.ReconciliationStatusDiscrepancy {
					summary.Discrepancies++
				} else {
					summary.Reconciled++
				}
				continue
			}
		}
		summary.Failed++
		log.Error("territory reconciliation failed",
			"territory_id", b.TerritoryID,
			"date", day.Format(time.DateOnly),
			"error", err,
		)
	}

	log.Info("daily reconciliation finished",
		"date", day.Format(time.DateOnly),
		"reconciled", summary.Reconciled,
		"discrepancies", summary.Discrepancies,
		"failed", summary.Failed,
	)
	return summary, nil
}
