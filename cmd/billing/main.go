package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/catalog"
	"github.com/josh-kwaku/territory-billing/internal/config"
	"github.com/josh-kwaku/territory-billing/internal/jobs"
	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/service"
	"github.com/josh-kwaku/territory-billing/migrations"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("billing", cfg.LogLevel, cfg.AppEnv)

	if err := run(cfg, logger); err != nil {
		logger.Error("billing worker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.AutoMigrate {
		if _, err := migrations.Apply(ctx, a.DB, logger); err != nil {
			return err
		}
	}

	if err := jobs.Migrate(ctx, a.Pool); err != nil {
		return err
	}
	logger.Info("job queue migrations applied")

	if err := seedPlans(ctx, cfg, a); err != nil {
		return err
	}

	queue, err := jobs.New(a.Pool, jobs.Config{
		Workers:           cfg.JobWorkers,
		ReconcileInterval: cfg.ReconcileInterval,
		ExpiryInterval:    cfg.ExpirySweepInterval,
		ExpiryBatchSize:   cfg.ExpiryBatchSize,
	}, jobs.Deps{
		Reconciler: a.Reconciliations,
		Expirer:    a.Subscriptions,
		Mirrors:    a.Subscriptions,
	}, logger)
	if err != nil {
		return err
	}
	a.Subscriptions.SetRetrier(queue)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	go a.Observer.Run(bgCtx)

	if err := queue.Start(bgCtx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}

	processor := service.NewEventProcessor(a.Events, a.Gateways.Payments, a.Ledger, a.Subscriptions,
		logger, cfg.WebhookPollInterval, cfg.WebhookBatchSize, cfg.WebhookMaxAttempts)
	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		processor.Start(bgCtx)
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a, version),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logger.Error("job queue did not stop cleanly", "error", err)
	}
	cancelBg()
	<-processorDone
	a.Observer.Wait()

	logger.Info("stopped")
	return nil
}

// seedPlans loads the plan catalog, creates missing plans and refuses to
// start without a global FREE plan.
func seedPlans(ctx context.Context, cfg *config.Config, a *app.App) error {
	c, err := catalog.Load(cfg.PlanCatalogPath)
	if err != nil {
		return err
	}
	res, err := catalog.Seed(ctx, a.Plans, c, app.SystemActorID)
	if err != nil {
		return err
	}
	slog.Info("plan catalog applied", "created", len(res.Created), "existing", len(res.Existing))

	if err := a.Plans.VerifyDefaults(ctx); err != nil {
		slog.Error("default FREE plan missing", "error", err, "alert", true)
		return err
	}
	return nil
}
