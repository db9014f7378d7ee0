// Package jobs runs the billing background work on River: the daily
// reconciliation, the subscription expiry sweep and retries of gateway
// cancellation mirrors.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

const cancelMirrorMaxAttempts = 12

type Config struct {
	Workers           int
	ReconcileInterval time.Duration
	ExpiryInterval    time.Duration
	ExpiryBatchSize   int
}

type Deps struct {
	Reconciler dailyReconciler
	Expirer    subscriptionExpirer
	Mirrors    cancelMirrorRetrier
}

type Queue struct {
	client *river.Client[pgx.Tx]
}

// Migrate applies River's own schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("jobs.Migrate: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("jobs.Migrate: %w", err)
	}
	return nil
}

func New(pool *pgxpool.Pool, cfg Config, deps Deps, logger *slog.Logger) (*Queue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewReconcileWorker(deps.Reconciler))
	river.AddWorker(workers, NewExpireWorker(deps.Expirer, cfg.ExpiryBatchSize))
	river.AddWorker(workers, NewCancelMirrorWorker(deps.Mirrors))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Workers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(cfg),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("jobs.New: %w", err)
	}
	return &Queue{client: client}, nil
}

// NewInserter returns a Queue that can only enqueue jobs. Operator tooling
// uses it to hand work to the running workers.
func NewInserter(pool *pgxpool.Pool, logger *slog.Logger) (*Queue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("jobs.NewInserter: %w", err)
	}
	return &Queue{client: client}, nil
}

func periodicJobs(cfg Config) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.ReconcileInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ReconcileDailyArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.ExpiryInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ExpireSubscriptionsArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

func (q *Queue) Start(ctx context.Context) error { return q.client.Start(ctx) }

func (q *Queue) Stop(ctx context.Context) error { return q.client.Stop(ctx) }

// EnqueueCancelMirror queues a retry of a failed gateway cancellation.
// Retries for the same subscription and mode collapse into one job.
func (q *Queue) EnqueueCancelMirror(ctx context.Context, subscriptionID uuid.UUID, atPeriodEnd bool) error {
	_, err := q.client.Insert(ctx, CancelMirrorArgs{SubscriptionID: subscriptionID, AtPeriodEnd: atPeriodEnd}, &river.InsertOpts{
		MaxAttempts: cancelMirrorMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("EnqueueCancelMirror: %w", err)
	}
	return nil
}

// ReconcileNow queues a reconciliation run for one UTC date.
func (q *Queue) ReconcileNow(ctx context.Context, date time.Time) error {
	_, err := q.client.Insert(ctx, ReconcileDailyArgs{Date: date.UTC().Format(dateLayout)}, nil)
	if err != nil {
		return fmt.Errorf("ReconcileNow: %w", err)
	}
	return nil
}
