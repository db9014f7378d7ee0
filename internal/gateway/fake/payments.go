package fake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownIntent    = errors.New("unknown intent")
	ErrRefundExceeds    = errors.New("refund exceeds captured amount")
	ErrIntentNotPaid    = errors.New("intent is not paid")
	ErrIntentPaid       = errors.New("intent already paid")
	ErrUnknownRefund    = errors.New("unknown refund")
)

type intent struct {
	id       string
	amount   int64
	refunded int64
	currency domain.Currency
	status   gateway.PaymentStatus
	metadata map[string]string
}

type refund struct {
	id       string
	intentID string
	amount   int64
	status   gateway.PaymentStatus
}

// Payments is an in-memory gateway.PaymentGateway.
type Payments struct {
	faults
	name   string
	secret string

	mu            sync.Mutex
	intents       map[string]*intent
	refunds       map[string]*refund
	byKey         map[string]string
	refundOutcome gateway.PaymentStatus
	Now           func() time.Time
}

func NewPayments(name, webhookSecret string) *Payments {
	return &Payments{
		name:    name,
		secret:  webhookSecret,
		intents: make(map[string]*intent),
		refunds: make(map[string]*refund),
		byKey:   make(map[string]string),
		Now:     utcNow,
	}
}

func (p *Payments) Name() string { return p.name }

func (p *Payments) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	if err := p.hit("create_intent"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := p.byKey[req.IdempotencyKey]; ok {
			in := p.intents[id]
			return &gateway.Intent{ID: in.id, Status: in.status}, nil
		}
	}

	in := &intent{
		id:       newID("pi"),
		amount:   req.AmountMinorUnits,
		currency: req.Currency,
		status:   gateway.PaymentStatusPending,
		metadata: maps.Clone(req.Metadata),
	}
	p.intents[in.id] = in
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = in.id
	}
	redirect := "https://pay.example.test/checkout/" + in.id
	return &gateway.Intent{ID: in.id, RedirectURL: &redirect, Status: in.status}, nil
}

func (p *Payments) GetPaymentStatus(ctx context.Context, intentID string) (gateway.PaymentStatus, error) {
	if err := p.hit("get_payment_status"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[intentID]
	if !ok {
		return "", ErrUnknownIntent
	}
	return in.status, nil
}

func (p *Payments) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	if err := p.hit("create_refund"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[req.IntentID]
	if !ok {
		return nil, ErrUnknownIntent
	}
	if id, ok := p.byKey["refund:"+req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		r := p.refunds[id]
		return &gateway.Refund{ID: r.id, Status: r.status}, nil
	}
	if in.status != gateway.PaymentStatusSucceeded {
		return nil, ErrIntentNotPaid
	}
	if in.refunded+req.AmountMinorUnits > in.amount {
		return nil, ErrRefundExceeds
	}

	r := &refund{id: newID("re"), intentID: in.id, amount: req.AmountMinorUnits, status: gateway.PaymentStatusSucceeded}
	if p.refundOutcome != "" {
		r.status = p.refundOutcome
	}
	if r.status != gateway.PaymentStatusFailed {
		in.refunded += req.AmountMinorUnits
	}
	p.refunds[r.id] = r
	if req.IdempotencyKey != "" {
		p.byKey["refund:"+req.IdempotencyKey] = r.id
	}
	return &gateway.Refund{ID: r.id, Status: r.status}, nil
}

// RefundOutcome sets the status later refunds are answered with. Pending
// refunds wait for SettleRefund or FailRefund; failed ones are declined on
// the spot. An empty status restores immediate success.
func (p *Payments) RefundOutcome(status gateway.PaymentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundOutcome = status
}

// SettleRefund completes a held refund and returns its signed webhook.
func (p *Payments) SettleRefund(refundID string) ([]byte, string, error) {
	return p.resolveRefund(refundID, gateway.PaymentStatusSucceeded, gateway.EventRefundSucceeded, "")
}

// FailRefund declines a held refund, releasing the amount on the intent, and
// returns its signed webhook.
func (p *Payments) FailRefund(refundID, reason string) ([]byte, string, error) {
	return p.resolveRefund(refundID, gateway.PaymentStatusFailed, gateway.EventRefundFailed, reason)
}

func (p *Payments) resolveRefund(refundID string, status gateway.PaymentStatus, evt gateway.EventType, reason string) ([]byte, string, error) {
	p.mu.Lock()
	r, ok := p.refunds[refundID]
	if !ok {
		p.mu.Unlock()
		return nil, "", ErrUnknownRefund
	}
	in := p.intents[r.intentID]
	if r.status == gateway.PaymentStatusPending && status == gateway.PaymentStatusFailed {
		in.refunded -= r.amount
	}
	r.status = status
	amount, currency := r.amount, in.currency
	p.mu.Unlock()

	return p.SignedWebhook(WebhookBody{
		ID:         newID("evt"),
		Type:       string(evt),
		Reference:  refundID,
		Amount:     amount,
		Currency:   string(currency),
		Reason:     reason,
		OccurredAt: p.Now(),
	})
}

func (p *Payments) CancelIntent(ctx context.Context, intentID string) error {
	if err := p.hit("cancel_intent"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.intents[intentID]
	if !ok {
		return ErrUnknownIntent
	}
	switch in.status {
	case gateway.PaymentStatusCanceled:
		return gateway.ErrAlreadyInState
	case gateway.PaymentStatusSucceeded:
		return ErrIntentPaid
	}
	in.status = gateway.PaymentStatusCanceled
	return nil
}

// WebhookBody is the wire format of the fake gateway's webhooks.
type WebhookBody struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (p *Payments) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*gateway.Event, error) {
	if err := p.hit("process_webhook"); err != nil {
		return nil, err
	}
	if !verify(p.secret, payload, signature) {
		return nil, ErrInvalidSignature
	}
	var body WebhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if body.ID == "" || body.Type == "" || body.Reference == "" {
		return nil, errors.New("webhook is missing id, type or reference")
	}
	return &gateway.Event{
		ID:               body.ID,
		Gateway:          p.name,
		Type:             gateway.EventType(body.Type),
		Reference:        body.Reference,
		AmountMinorUnits: body.Amount,
		Currency:         domain.Currency(body.Currency),
		Reason:           body.Reason,
		OccurredAt:       body.OccurredAt,
	}, nil
}

// Settle marks an intent as paid and returns the signed webhook the
// processor would send for it.
func (p *Payments) Settle(intentID string) ([]byte, string, error) {
	return p.resolve(intentID, gateway.PaymentStatusSucceeded, gateway.EventPaymentSucceeded, "")
}

// Decline marks an intent as failed and returns the signed webhook.
func (p *Payments) Decline(intentID, reason string) ([]byte, string, error) {
	return p.resolve(intentID, gateway.PaymentStatusFailed, gateway.EventPaymentFailed, reason)
}

func (p *Payments) resolve(intentID string, status gateway.PaymentStatus, evt gateway.EventType, reason string) ([]byte, string, error) {
	p.mu.Lock()
	in, ok := p.intents[intentID]
	if !ok {
		p.mu.Unlock()
		return nil, "", ErrUnknownIntent
	}
	in.status = status
	amount, currency := in.amount, in.currency
	p.mu.Unlock()

	return p.SignedWebhook(WebhookBody{
		ID:         newID("evt"),
		Type:       string(evt),
		Reference:  intentID,
		Amount:     amount,
		Currency:   string(currency),
		Reason:     reason,
		OccurredAt: p.Now(),
	})
}

func (p *Payments) SignedWebhook(body WebhookBody) ([]byte, string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return raw, Sign(p.secret, raw), nil
}
