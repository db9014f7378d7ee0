package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
	"github.com/josh-kwaku/territory-billing/internal/service/ledger"
	"github.com/josh-kwaku/territory-billing/internal/testutil/memstore"
)

const webhookSecret = "whsec_test"

type stubSyncer struct {
	refs []string
	err  error
}

func (s *stubSyncer) SyncByGatewayReference(ctx context.Context, gatewayName, ref string) (*domain.Subscription, error) {
	s.refs = append(s.refs, gatewayName+"/"+ref)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPastDue}, nil
}

type processorHarness struct {
	processor *EventProcessor
	store     *memstore.Store
	ledger    *ledger.Service
	payments  *fake.Payments
	syncer    *stubSyncer
}

func setupProcessor(t *testing.T) *processorHarness {
	t.Helper()
	store := memstore.New()
	payments := fake.NewPayments("fakepay", webhookSecret)
	registry := gateway.NewRegistry[gateway.PaymentGateway](payments)
	ledgerSvc := ledger.NewService(
		store,
		store.Ledger(),
		store.History(),
		store.Balances(),
		store.Projections(),
		registry,
		gateway.NewRegistry[gateway.PayoutGateway](fake.NewPayouts("fakepay")),
		nil,
		time.Second,
	)
	syncer := &stubSyncer{}
	processor := NewEventProcessor(store.GatewayEvents(), registry, ledgerSvc, syncer, slog.Default(), time.Second, 10, 2)
	return &processorHarness{processor: processor, store: store, ledger: ledgerSvc, payments: payments, syncer: syncer}
}

func (h *processorHarness) enqueue(t *testing.T, gw string, payload []byte, sig string) uuid.UUID {
	t.Helper()
	ev := &domain.GatewayEvent{
		ID:          uuid.New(),
		Gateway:     gw,
		PayloadHash: uuid.NewString(),
		Signature:   sig,
		Payload:     payload,
		Status:      domain.GatewayEventStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, h.store.GatewayEvents().Create(context.Background(), ev))
	return ev.ID
}

func (h *processorHarness) status(t *testing.T, id uuid.UUID) domain.GatewayEvent {
	t.Helper()
	ev, ok := h.store.GatewayEvents().Get(id)
	require.True(t, ok)
	return ev
}

func signed(t *testing.T, body fake.WebhookBody) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload, fake.Sign(webhookSecret, payload)
}

func TestEventProcessor_PaymentSettled(t *testing.T) {
	h := setupProcessor(t)
	ctx := context.Background()

	res, err := h.ledger.InitiatePayment(ctx, ledger.PaymentRequest{
		TerritoryID: uuid.New(), CheckoutID: uuid.New(), AmountMinorUnits: 2500, Currency: "USD",
	})
	require.NoError(t, err)
	payload, sig, err := h.payments.Settle(res.Entry.Metadata[domain.MetadataGatewayReference])
	require.NoError(t, err)

	id := h.enqueue(t, "fakepay", payload, sig)
	h.processor.poll(ctx)

	ev := h.status(t, id)
	assert.Equal(t, domain.GatewayEventStatusDispatched, ev.Status)
	assert.Equal(t, 1, ev.Attempts)

	entry, err := h.ledger.GetEntry(ctx, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, entry.Status)

	h.processor.poll(ctx)
	assert.Equal(t, 1, h.status(t, id).Attempts)
}

func TestEventProcessor_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		body    fake.WebhookBody
		badSig  bool
	}{
		{
			name:    "unknown gateway",
			gateway: "otherpay",
			body:    fake.WebhookBody{ID: "evt_1", Type: "payment.succeeded", Reference: "pi_1"},
		},
		{
			name:    "bad signature",
			gateway: "fakepay",
			body:    fake.WebhookBody{ID: "evt_2", Type: "payment.succeeded", Reference: "pi_1"},
			badSig:  true,
		},
		{
			name:    "unknown reference",
			gateway: "fakepay",
			body:    fake.WebhookBody{ID: "evt_3", Type: "payment.succeeded", Reference: "pi_missing"},
		},
		{
			name:    "unsupported type",
			gateway: "fakepay",
			body:    fake.WebhookBody{ID: "evt_4", Type: "charge.disputed", Reference: "pi_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupProcessor(t)
			payload, sig := signed(t, tt.body)
			if tt.badSig {
				sig = "deadbeef"
			}
			id := h.enqueue(t, tt.gateway, payload, sig)

			h.processor.poll(context.Background())

			ev := h.status(t, id)
			assert.Equal(t, domain.GatewayEventStatusFailed, ev.Status)
			require.NotNil(t, ev.LastError)
			assert.Equal(t, 1, ev.Attempts)
		})
	}
}

func TestEventProcessor_SubscriptionEvent(t *testing.T) {
	h := setupProcessor(t)
	payload, sig := signed(t, fake.WebhookBody{ID: "evt_5", Type: "subscription.updated", Reference: "sub_123"})
	id := h.enqueue(t, "fakepay", payload, sig)

	h.processor.poll(context.Background())

	assert.Equal(t, domain.GatewayEventStatusDispatched, h.status(t, id).Status)
	assert.Equal(t, []string{"fakepay/sub_123"}, h.syncer.refs)
}

func TestEventProcessor_TransientFailureRetriesThenGivesUp(t *testing.T) {
	h := setupProcessor(t)
	ctx := context.Background()
	h.syncer.err = domain.NewGatewayError("fakesub", "get_subscription", errors.New("timeout"))

	payload, sig := signed(t, fake.WebhookBody{ID: "evt_6", Type: "subscription.canceled", Reference: "sub_9"})
	id := h.enqueue(t, "fakepay", payload, sig)

	h.processor.poll(ctx)
	ev := h.status(t, id)
	assert.Equal(t, domain.GatewayEventStatusPending, ev.Status)
	require.NotNil(t, ev.LastError)

	h.processor.poll(ctx)
	ev = h.status(t, id)
	assert.Equal(t, domain.GatewayEventStatusFailed, ev.Status)
	assert.Equal(t, 2, ev.Attempts)
	assert.Len(t, h.syncer.refs, 2)
}
