package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type Prometheus struct {
	entriesPosted     *prometheus.CounterVec
	postedMinorUnits  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	balanceMinorUnits *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	discrepancyAbs    prometheus.Histogram
	subscriptions     *prometheus.CounterVec
	couponRedemptions *prometheus.CounterVec
	gatewayCalls      *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		entriesPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ledger_entries_posted_total",
			Help: "Ledger entries created, by type and currency",
		}, []string{"type", "currency"}),
		postedMinorUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ledger_posted_minor_units_total",
			Help: "Sum of amounts of created ledger entries in minor units",
		}, []string{"type", "currency"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_ledger_transitions_total",
			Help: "Accepted ledger status transitions",
		}, []string{"from", "to"}),
		balanceMinorUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_territory_balance_minor_units_total",
			Help: "Amounts added to territory balances, by side",
		}, []string{"direction", "currency"}),
		reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_reconciliations_total",
			Help: "Reconciliation records written, by resulting status",
		}, []string{"status"}),
		discrepancyAbs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_reconciliation_difference_minor_units",
			Help:    "Absolute reconciliation difference in minor units",
			Buckets: []float64{0, 1, 10, 100, 1_000, 10_000, 100_000, 1_000_000},
		}),
		subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_subscription_changes_total",
			Help: "Subscription lifecycle changes",
		}, []string{"action", "status"}),
		couponRedemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_coupon_redemptions_total",
			Help: "Coupons applied to subscriptions",
		}, []string{"discount_type"}),
		gatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_gateway_calls_total",
			Help: "Calls to external gateways, by outcome",
		}, []string{"gateway", "operation", "outcome"}),
	}
}

func (p *Prometheus) EntryPosted(t domain.TransactionType, c domain.Currency, amount int64) {
	p.entriesPosted.WithLabelValues(string(t), string(c)).Inc()
	p.postedMinorUnits.WithLabelValues(string(t), string(c)).Add(float64(amount))
}

func (p *Prometheus) EntryTransitioned(from, to domain.TransactionStatus) {
	p.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *Prometheus) BalanceChanged(d domain.BalanceDirection, c domain.Currency, amount int64) {
	p.balanceMinorUnits.WithLabelValues(string(d), string(c)).Add(float64(amount))
}

func (p *Prometheus) Reconciled(s domain.ReconciliationStatus, diff int64) {
	p.reconciliations.WithLabelValues(string(s)).Inc()
	if diff < 0 {
		diff = -diff
	}
	p.discrepancyAbs.Observe(float64(diff))
}

func (p *Prometheus) SubscriptionChanged(action string, s domain.SubscriptionStatus) {
	p.subscriptions.WithLabelValues(action, string(s)).Inc()
}

func (p *Prometheus) CouponRedeemed(t domain.DiscountType) {
	p.couponRedemptions.WithLabelValues(string(t)).Inc()
}

func (p *Prometheus) GatewayCall(gateway, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.gatewayCalls.WithLabelValues(gateway, operation, outcome).Inc()
}
