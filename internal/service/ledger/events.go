package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type eventTarget struct {
	entryType domain.TransactionType
	status    domain.TransactionStatus
}

var eventTargets = map[gateway.EventType]eventTarget{
	gateway.EventPaymentSucceeded: {domain.TransactionTypePayment, domain.TransactionStatusSucceeded},
	gateway.EventPaymentFailed:    {domain.TransactionTypePayment, domain.TransactionStatusFailed},
	gateway.EventPaymentCanceled:  {domain.TransactionTypePayment, domain.TransactionStatusCanceled},
	gateway.EventRefundSucceeded:  {domain.TransactionTypeRefund, domain.TransactionStatusSucceeded},
	gateway.EventRefundFailed:     {domain.TransactionTypeRefund, domain.TransactionStatusFailed},
	gateway.EventRefundCanceled:   {domain.TransactionTypeRefund, domain.TransactionStatusCanceled},
	gateway.EventPayoutPaid:       {domain.TransactionTypePayout, domain.TransactionStatusSucceeded},
	gateway.EventPayoutFailed:     {domain.TransactionTypePayout, domain.TransactionStatusFailed},
	gateway.EventPayoutCanceled:   {domain.TransactionTypePayout, domain.TransactionStatusCanceled},
}

// HandleGatewayEvent applies a verified payment, refund or payout event to
// the entry carrying the event's gateway reference. Redelivered events are
// no-ops. Subscription events are not handled here.
func (s *Service) HandleGatewayEvent(ctx context.Context, ev *gateway.Event) (*domain.LedgerEntry, error) {
	target, ok := eventTargets[ev.Type]
	if !ok {
		return nil, fmt.Errorf("HandleGatewayEvent: unsupported event type %q: %w", ev.Type, domain.ErrValidation)
	}

	found, err := s.entries.FindByGatewayReference(ctx, ev.Gateway, ev.Reference)
	if err != nil {
		return nil, fmt.Errorf("HandleGatewayEvent: %s %s: %w", ev.Gateway, ev.Reference, err)
	}
	if found.Type != target.entryType {
		return nil, fmt.Errorf("HandleGatewayEvent: %w", domain.NewValidationError("type",
			fmt.Sprintf("event %s does not apply to %s entry", ev.Type, found.Type)))
	}

	var reason *string
	if ev.Reason != "" {
		reason = &ev.Reason
	}

	var (
		j     journal
		entry *domain.LedgerEntry
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		e, err := s.entries.GetForUpdate(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		entry = e
		if e.Status == target.status {
			return nil
		}
		prev := e.Status
		now := s.now()
		if err := s.transition(ctx, tx, &j, e, target.status, nil, reason, now); err != nil {
			return err
		}
		if e.Type == domain.TransactionTypeRefund && prev == domain.TransactionStatusProcessing {
			return s.settleRefund(ctx, tx, &j, e, reason, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("HandleGatewayEvent: %w", err)
	}
	s.publish(&j)

	log := logging.FromContext(ctx).With(
		"gateway", ev.Gateway,
		"gateway_event_id", ev.ID,
		"event_type", ev.Type,
		"ledger_entry_id", entry.ID,
	)
	if len(j.transitions) == 0 {
		log.Info("gateway event already applied", "status", entry.Status)
	} else {
		log.Info("gateway event applied", "from", j.transitions[0].PreviousStatus, "to", entry.Status)
	}
	return entry, nil
}
