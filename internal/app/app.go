// Package app assembles the billing core from configuration. Both the
// worker and the operator CLI build on it so they share one wiring.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/josh-kwaku/territory-billing/internal/config"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
	"github.com/josh-kwaku/territory-billing/internal/metrics"
	"github.com/josh-kwaku/territory-billing/internal/repository"
	"github.com/josh-kwaku/territory-billing/internal/service/coupon"
	"github.com/josh-kwaku/territory-billing/internal/service/ledger"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
	"github.com/josh-kwaku/territory-billing/internal/service/reconciliation"
	"github.com/josh-kwaku/territory-billing/internal/service/subscription"
)

// SystemActorID attributes changes made by the deployment itself, such as
// catalog seeding.
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// fakeGatewayName is shared by every fake adapter so webhook events,
// subscriptions and settlements route to the same processor name.
const fakeGatewayName = "fake"

type Gateways struct {
	Payments      *gateway.Registry[gateway.PaymentGateway]
	Payouts       *gateway.Registry[gateway.PayoutGateway]
	Subscriptions *gateway.Registry[gateway.SubscriptionGateway]
	Settlements   gateway.SettlementReporter
}

type App struct {
	DB       *sql.DB
	Pool     *pgxpool.Pool
	Registry *prometheus.Registry
	Observer *metrics.Async
	Gateways Gateways

	Events          *repository.GatewayEventRepository
	Ledger          *ledger.Service
	Plans           *plan.Service
	Coupons         *coupon.Service
	Subscriptions   *subscription.Service
	Reconciliations *reconciliation.Service
}

func newGateways(cfg *config.Config) (Gateways, error) {
	switch cfg.GatewayDriver {
	case "fake":
		return Gateways{
			Payments:      gateway.NewRegistry[gateway.PaymentGateway](fake.NewPayments(fakeGatewayName, cfg.WebhookSecret)),
			Payouts:       gateway.NewRegistry[gateway.PayoutGateway](fake.NewPayouts(fakeGatewayName)),
			Subscriptions: gateway.NewRegistry[gateway.SubscriptionGateway](fake.NewSubscriptions(fakeGatewayName)),
			Settlements:   fake.NewSettlements(fakeGatewayName),
		}, nil
	default:
		return Gateways{}, fmt.Errorf("unsupported gateway driver %q", cfg.GatewayDriver)
	}
}

// Build opens both database handles and wires every service. Callers own
// Close and, if they want metrics delivered, Observer.Run.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	gws, err := newGateways(cfg)
	if err != nil {
		return nil, fmt.Errorf("app.Build: %w", err)
	}

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		return nil, fmt.Errorf("app.Build: %w", err)
	}

	pool, err := repository.NewPgxPool(ctx, cfg.DatabaseURL, int32(cfg.JobWorkers+5))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app.Build: %w", err)
	}

	reg := prometheus.NewRegistry()
	observer := metrics.NewAsync(metrics.NewPrometheus(reg), 1024, logger)

	uow := repository.NewDB(db, cfg.UOWMaxRetries)
	entries := repository.NewLedgerRepository(db)
	balances := repository.NewBalanceRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	events := repository.NewGatewayEventRepository(db)

	ledgerSvc := ledger.NewService(uow, entries,
		repository.NewStatusHistoryRepository(db),
		balances,
		repository.NewProjectionRepository(db),
		gws.Payments, gws.Payouts, observer, cfg.GatewayTimeout)
	plans := plan.NewService(uow, repository.NewPlanRepository(db), subRepo)
	coupons := coupon.NewService(uow, repository.NewCouponRepository(db), observer)
	subs := subscription.NewService(uow, subRepo, plans, coupons, ledgerSvc,
		gws.Subscriptions, observer, cfg.GatewayTimeout)
	recon := reconciliation.NewService(uow, repository.NewReconciliationRepository(db),
		entries, balances, gws.Settlements, observer, cfg.GatewayTimeout)

	reg.MustRegister(
		metrics.NewEventBacklog(events),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "billing_metrics_dropped_total",
			Help: "Observations dropped because the metrics buffer was full",
		}, func() float64 { return float64(observer.Dropped()) }),
	)

	return &App{
		DB:              db,
		Pool:            pool,
		Registry:        reg,
		Observer:        observer,
		Gateways:        gws,
		Events:          events,
		Ledger:          ledgerSvc,
		Plans:           plans,
		Coupons:         coupons,
		Subscriptions:   subs,
		Reconciliations: recon,
	}, nil
}

func (a *App) Close() {
	a.Pool.Close()
	if err := a.DB.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}
