package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/territory-billing/internal/app"
	"github.com/josh-kwaku/territory-billing/internal/handler"
	"github.com/josh-kwaku/territory-billing/internal/middleware"
)

func newRouter(a *app.App, version string) http.Handler {
	health := handler.NewHealthHandler(version, map[string]handler.Check{
		"database":  a.DB.PingContext,
		"job_queue": func(ctx context.Context) error { return a.Pool.Ping(ctx) },
	})
	webhooks := handler.NewWebhookHandler(a.Events, a.Gateways.Payments.Names())
	ledger := handler.NewLedgerHandler(a.Ledger)
	recon := handler.NewReconciliationHandler(a.Reconciliations)
	entitlements := handler.NewEntitlementHandler(a.Plans)

	r := mux.NewRouter()
	r.Use(middleware.Tracing, middleware.Logging, middleware.Metrics(a.Registry), middleware.Recovery)

	r.HandleFunc("/health", health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/{gateway}", webhooks.ReceiveGatewayWebhook).Methods(http.MethodPost)

	ops := r.PathPrefix("/api/v1").Subrouter()
	ops.HandleFunc("/territories/{territoryID}/balance", ledger.GetBalance).Methods(http.MethodGet)
	ops.HandleFunc("/ledger/entries/{entryID}", ledger.GetEntry).Methods(http.MethodGet)
	ops.HandleFunc("/reconciliations/discrepancies", recon.ListDiscrepancies).Methods(http.MethodGet)
	ops.HandleFunc("/reconciliations/{reconciliationID}/resolve", recon.Resolve).Methods(http.MethodPost)
	ops.HandleFunc("/users/{userID}/entitlements", entitlements.Get).Methods(http.MethodGet)

	return r
}
