// Package gateway defines the contracts the billing core expects from
// external payment, payout and subscription processors. Implementations
// report normalized statuses so nothing processor-specific leaks into the
// ledger or the subscription records.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// ErrAlreadyInState is returned by an adapter when the requested change is
// already in effect on the processor side. Callers treat it as success.
var ErrAlreadyInState = errors.New("gateway: already in requested state")

// Named is implemented by every adapter. The name is used for routing and
// operator-facing diagnostics.
type Named interface {
	Name() string
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

type IntentRequest struct {
	AmountMinorUnits int64
	Currency         domain.Currency
	Description      string
	Metadata         map[string]string
	IdempotencyKey   string
}

type Intent struct {
	ID          string
	RedirectURL *string
	Status      PaymentStatus
}

type RefundRequest struct {
	IntentID         string
	AmountMinorUnits int64
	Currency         domain.Currency
	Reason           string
	IdempotencyKey   string
}

type Refund struct {
	ID     string
	Status PaymentStatus
}

type EventType string

const (
	EventPaymentSucceeded     EventType = "payment.succeeded"
	EventPaymentFailed        EventType = "payment.failed"
	EventPaymentCanceled      EventType = "payment.canceled"
	EventRefundSucceeded      EventType = "refund.succeeded"
	EventRefundFailed         EventType = "refund.failed"
	EventRefundCanceled       EventType = "refund.canceled"
	EventPayoutPaid           EventType = "payout.paid"
	EventPayoutFailed         EventType = "payout.failed"
	EventPayoutCanceled       EventType = "payout.canceled"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionCanceled EventType = "subscription.canceled"
)

func (t EventType) IsSubscription() bool {
	return t == EventSubscriptionUpdated || t == EventSubscriptionCanceled
}

// Event is a webhook payload after the adapter verified and decoded it.
// Reference is the processor's identifier of the intent, refund, payout or
// subscription the event is about.
type Event struct {
	ID               string
	Gateway          string
	Type             EventType
	Reference        string
	AmountMinorUnits int64
	Currency         domain.Currency
	Reason           string
	OccurredAt       time.Time
}

type PaymentGateway interface {
	Named
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetPaymentStatus(ctx context.Context, intentID string) (PaymentStatus, error)
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusInTransit PayoutStatus = "in_transit"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusCanceled  PayoutStatus = "canceled"
)

type PayoutRequest struct {
	PayoutID           uuid.UUID
	DestinationAccount string
	AmountMinorUnits   int64
	Currency           domain.Currency
	Description        string
}

type Payout struct {
	ID     string
	Status PayoutStatus
}

type PayoutGateway interface {
	Named
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (PayoutStatus, error)
	CancelPayout(ctx context.Context, payoutID string) error
}

type SubscriptionRequest struct {
	CustomerRef     string
	CustomerID      *string
	PlanCode        string
	PriceMinorUnits int64
	Currency        domain.Currency
	BillingCycle    domain.BillingCycle
	TrialDays       int
	Metadata        map[string]string
}

// SubscriptionState is the processor's view of a subscription, already
// mapped onto the local status enum.
type SubscriptionState struct {
	ID                 string
	CustomerID         string
	Status             domain.SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

type SubscriptionGateway interface {
	Named
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionState, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, req SubscriptionRequest) (*SubscriptionState, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*SubscriptionState, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error)
}

// SettlementReporter returns what the processor actually settled for a
// territory on a UTC date, signed the same way as the ledger's expectation.
type SettlementReporter interface {
	Named
	SettledAmount(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, date time.Time) (int64, error)
}

// Wrap converts an adapter failure into a *domain.GatewayError carrying the
// adapter's name. ErrAlreadyInState passes through untouched.
func Wrap(g Named, operation string, err error) error {
	if err == nil || errors.Is(err, ErrAlreadyInState) {
		return err
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return domain.NewGatewayError(g.Name(), operation, err)
}
