package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/service/reconciliation"
)

const dateLayout = "2006-01-02"

// ReconcileDailyArgs reconciles every territory for Date (YYYY-MM-DD). An
// empty Date means the previous UTC day.
type ReconcileDailyArgs struct {
	Date string `json:"date,omitempty"`
}

func (ReconcileDailyArgs) Kind() string { return "reconcile_daily" }

type ExpireSubscriptionsArgs struct{}

func (ExpireSubscriptionsArgs) Kind() string { return "expire_subscriptions" }

type CancelMirrorArgs struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	AtPeriodEnd    bool      `json:"at_period_end"`
}

func (CancelMirrorArgs) Kind() string { return "subscription_cancel_mirror" }

type dailyReconciler interface {
	RunDaily(ctx context.Context, date time.Time) (*reconciliation.RunSummary, error)
}

type subscriptionExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type cancelMirrorRetrier interface {
	RetryCancelMirror(ctx context.Context, id uuid.UUID, atPeriodEnd bool) error
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileDailyArgs]
	reconciler dailyReconciler
	now        func() time.Time
}

func NewReconcileWorker(r dailyReconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: r, now: func() time.Time { return time.Now().UTC() }}
}

func (w *ReconcileWorker) Timeout(*river.Job[ReconcileDailyArgs]) time.Duration {
	return 10 * time.Minute
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileDailyArgs]) error {
	ctx, log := withJob(ctx, job.Args, job.JobRow)
	date := w.now().AddDate(0, 0, -1)
	if job.Args.Date != "" {
		d, err := time.Parse(dateLayout, job.Args.Date)
		if err != nil {
			return river.JobCancel(fmt.Errorf("invalid date %q: %w", job.Args.Date, err))
		}
		date = d
	}

	summary, err := w.reconciler.RunDaily(ctx, date)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", date.Format(dateLayout), err)
	}
	log.Info("daily reconciliation finished",
		"date", summary.Date.Format(dateLayout),
		"reconciled", summary.Reconciled,
		"discrepancies", summary.Discrepancies,
		"failed", summary.Failed,
	)
	if summary.Failed > 0 {
		return fmt.Errorf("reconcile %s: %d territories failed", date.Format(dateLayout), summary.Failed)
	}
	return nil
}

type ExpireWorker struct {
	river.WorkerDefaults[ExpireSubscriptionsArgs]
	expirer   subscriptionExpirer
	batchSize int
}

func NewExpireWorker(e subscriptionExpirer, batchSize int) *ExpireWorker {
	return &ExpireWorker{expirer: e, batchSize: batchSize}
}

func (w *ExpireWorker) Work(ctx context.Context, job *river.Job[ExpireSubscriptionsArgs]) error {
	ctx, log := withJob(ctx, job.Args, job.JobRow)
	n, err := w.expirer.ExpireDue(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("expire subscriptions: %w", err)
	}
	if n > 0 {
		log.Info("subscription expiry sweep finished", "changed", n)
	}
	return nil
}

// CancelMirrorWorker retries a gateway cancellation that failed when the
// subscription was canceled locally.
type CancelMirrorWorker struct {
	river.WorkerDefaults[CancelMirrorArgs]
	subs cancelMirrorRetrier
}

func NewCancelMirrorWorker(subs cancelMirrorRetrier) *CancelMirrorWorker {
	return &CancelMirrorWorker{subs: subs}
}

func (w *CancelMirrorWorker) Work(ctx context.Context, job *river.Job[CancelMirrorArgs]) error {
	ctx, _ = withJob(ctx, job.Args, job.JobRow, "subscription_id", job.Args.SubscriptionID)
	return w.subs.RetryCancelMirror(ctx, job.Args.SubscriptionID, job.Args.AtPeriodEnd)
}

func withJob(ctx context.Context, args river.JobArgs, row *rivertype.JobRow, extra ...any) (context.Context, *slog.Logger) {
	attrs := []any{"job_kind", args.Kind()}
	if row != nil {
		attrs = append(attrs, "job_id", row.ID, "attempt", row.Attempt)
	}
	return logging.With(ctx, append(attrs, extra...)...)
}
