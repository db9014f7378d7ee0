package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type eventStore interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.GatewayEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GatewayEventStatus, lastError *string) error
}

type ledgerEventHandler interface {
	HandleGatewayEvent(ctx context.Context, ev *gateway.Event) (*domain.LedgerEntry, error)
}

type subscriptionSyncer interface {
	SyncByGatewayReference(ctx context.Context, gatewayName, ref string) (*domain.Subscription, error)
}

// EventProcessor drains stored gateway webhooks. Each event is verified by
// the adapter that sent it, then routed to the ledger or, for subscription
// events, to a resync of the subscription.
type EventProcessor struct {
	events      eventStore
	gateways    *gateway.Registry[gateway.PaymentGateway]
	ledger      ledgerEventHandler
	subs        subscriptionSyncer
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewEventProcessor(
	events eventStore,
	gateways *gateway.Registry[gateway.PaymentGateway],
	ledger ledgerEventHandler,
	subs subscriptionSyncer,
	logger *slog.Logger,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
) *EventProcessor {
	return &EventProcessor{
		events:      events,
		gateways:    gateways,
		ledger:      ledger,
		subs:        subs,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

func (p *EventProcessor) Start(ctx context.Context) {
	p.logger.Info("gateway event processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("gateway event processor stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *EventProcessor) poll(ctx context.Context) {
	events, err := p.events.ClaimPending(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to claim pending gateway events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("failed to record gateway event outcome",
				"gateway_event_id", event.ID,
				"error", err,
			)
		}
	}
}

// errPermanent marks an event that will never succeed on redelivery.
var errPermanent = errors.New("permanent")

func (p *EventProcessor) processEvent(ctx context.Context, event domain.GatewayEvent) error {
	ctx = logging.WithLogger(ctx, p.logger.With("gateway_event_id", event.ID, "gateway", event.Gateway))
	err := p.dispatch(ctx, event)
	if err == nil {
		return p.events.UpdateStatus(ctx, event.ID, domain.GatewayEventStatusDispatched, nil)
	}

	msg := err.Error()
	log := p.logger.With("gateway_event_id", event.ID, "gateway", event.Gateway, "attempts", event.Attempts, "error", err)
	if errors.Is(err, errPermanent) || isPermanent(err) {
		log.Warn("gateway event rejected")
		return p.events.UpdateStatus(ctx, event.ID, domain.GatewayEventStatusFailed, &msg)
	}
	if event.Attempts >= p.maxAttempts {
		log.Error("gateway event gave up after retries", "alert", true)
		return p.events.UpdateStatus(ctx, event.ID, domain.GatewayEventStatusFailed, &msg)
	}
	log.Warn("gateway event will be retried")
	return p.events.UpdateStatus(ctx, event.ID, domain.GatewayEventStatusPending, &msg)
}

func (p *EventProcessor) dispatch(ctx context.Context, event domain.GatewayEvent) error {
	gw, err := p.gateways.Get(event.Gateway)
	if err != nil {
		return fmt.Errorf("%w: %w", errPermanent, err)
	}
	ev, err := gw.ProcessWebhook(ctx, event.Payload, event.Signature)
	if err != nil {
		return fmt.Errorf("%w: verify: %w", errPermanent, err)
	}

	if ev.Type.IsSubscription() {
		sub, err := p.subs.SyncByGatewayReference(ctx, ev.Gateway, ev.Reference)
		if err != nil {
			return err
		}
		p.logger.Info("subscription event applied",
			"gateway_event_id", event.ID, "event_type", ev.Type, "subscription_id", sub.ID, "status", sub.Status)
		return nil
	}

	entry, err := p.ledger.HandleGatewayEvent(ctx, ev)
	if err != nil {
		return err
	}
	p.logger.Info("ledger event applied",
		"gateway_event_id", event.ID, "event_type", ev.Type, "ledger_entry_id", entry.ID, "status", entry.Status)
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState)
}
