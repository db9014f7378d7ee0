package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type PaymentRequest struct {
	TerritoryID      uuid.UUID
	CheckoutID       uuid.UUID
	AmountMinorUnits int64
	Currency         domain.Currency
	Description      string
	IdempotencyKey   string
}

type PaymentResult struct {
	Entry       *domain.LedgerEntry
	RedirectURL *string
}

// InitiatePayment opens a payment intent at the primary gateway and records
// a pending payment entry for it. If the entry cannot be stored the intent
// is canceled so no money can be captured against an unknown entry.
func (s *Service) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if req.AmountMinorUnits < 0 {
		return nil, fmt.Errorf("InitiatePayment: %w", domain.ErrInvalidAmount)
	}
	if req.AmountMinorUnits == 0 {
		return nil, fmt.Errorf("InitiatePayment: %w", domain.NewValidationError("amount", "payment must be positive"))
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("InitiatePayment: %w", domain.NewValidationError("currency", "must be an ISO 4217 code"))
	}

	gw := s.payments.Primary()
	key := req.IdempotencyKey
	if key == "" {
		key = "checkout:" + req.CheckoutID.String()
	}

	var intent *gateway.Intent
	err := gateway.Call(ctx, gw, "create_intent", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		var err error
		intent, err = gw.CreateIntent(ctx, gateway.IntentRequest{
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         req.Currency,
			Description:      req.Description,
			Metadata: map[string]string{
				"territory_id": req.TerritoryID.String(),
				"checkout_id":  req.CheckoutID.String(),
			},
			IdempotencyKey: key,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}

	var (
		j     journal
		entry *domain.LedgerEntry
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		var err error
		entry, err = s.post(ctx, tx, &j, domain.NewLedgerEntryParams{
			TerritoryID:       req.TerritoryID,
			Type:              domain.TransactionTypePayment,
			AmountMinorUnits:  req.AmountMinorUnits,
			Currency:          req.Currency,
			Description:       req.Description,
			RelatedEntityID:   &req.CheckoutID,
			RelatedEntityType: ptr(domain.RelatedEntityCheckout),
			Metadata: map[string]string{
				domain.MetadataGatewayName:      gw.Name(),
				domain.MetadataGatewayReference: intent.ID,
			},
		}, domain.TransactionStatusPending, s.now())
		return err
	})
	if err != nil {
		s.cancelOrphanedIntent(ctx, gw, intent.ID)
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}
	s.publish(&j)

	logging.FromContext(ctx).Info("payment initiated",
		"ledger_entry_id", entry.ID,
		"checkout_id", req.CheckoutID,
		"gateway", gw.Name(),
		"gateway_ref", intent.ID,
		"amount", req.AmountMinorUnits,
	)
	return &PaymentResult{Entry: entry, RedirectURL: intent.RedirectURL}, nil
}

func (s *Service) cancelOrphanedIntent(ctx context.Context, gw gateway.PaymentGateway, ref string) {
	err := gateway.Call(ctx, gw, "cancel_intent", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		return gw.CancelIntent(ctx, ref)
	})
	if err != nil {
		logging.FromContext(ctx).Error("orphaned payment intent could not be canceled",
			"gateway", gw.Name(), "gateway_ref", ref, "alert", true, "error", err)
		return
	}
	logging.FromContext(ctx).Warn("canceled payment intent after local booking failed",
		"gateway", gw.Name(), "gateway_ref", ref)
}

// CancelPayment cancels an unsettled payment at its gateway, then locally.
func (s *Service) CancelPayment(ctx context.Context, entryID uuid.UUID, actorID *uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	entry, gw, err := s.paymentEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}
	if entry.Status != domain.TransactionStatusCanceled && !entry.Status.CanTransitionTo(domain.TransactionStatusCanceled) {
		return nil, fmt.Errorf("CancelPayment: %w", &domain.InvalidTransitionError{From: entry.Status, To: domain.TransactionStatusCanceled})
	}

	err = gateway.Call(ctx, gw, "cancel_intent", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		return gw.CancelIntent(ctx, entry.Metadata[domain.MetadataGatewayReference])
	})
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}

	updated, err := s.TransitionStatus(ctx, entry.ID, domain.TransactionStatusCanceled, actorID, &reason)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}
	return updated, nil
}

type RefundRequest struct {
	PaymentEntryID   uuid.UUID
	AmountMinorUnits int64
	Reason           string
	ActorID          *uuid.UUID
}

type RefundResult struct {
	Payment *domain.LedgerEntry
	Refund  *domain.LedgerEntry
}

// RefundPayment returns part or all of a settled payment. The refund entry
// follows the gateway's answer: succeeded when the processor confirmed it,
// processing when it is still in flight. A confirmed refund moves the payment
// to partially_refunded or refunded at once; an in-flight one is only held
// against the refundable remainder until its gateway event settles it.
func (s *Service) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	log := logging.FromContext(ctx)

	if req.AmountMinorUnits < 0 {
		return nil, fmt.Errorf("RefundPayment: %w", domain.ErrInvalidAmount)
	}
	if req.AmountMinorUnits == 0 {
		return nil, fmt.Errorf("RefundPayment: %w", domain.NewValidationError("amount", "refund must be positive"))
	}

	payment, gw, err := s.paymentEntry(ctx, req.PaymentEntryID)
	if err != nil {
		return nil, fmt.Errorf("RefundPayment: %w", err)
	}
	refunded, pending, err := refundState(payment)
	if err != nil {
		return nil, fmt.Errorf("RefundPayment: %w", err)
	}
	if err := checkRefundable(payment, refunded+pending, req.AmountMinorUnits); err != nil {
		return nil, fmt.Errorf("RefundPayment: %w", err)
	}

	var refund *gateway.Refund
	err = gateway.Call(ctx, gw, "create_refund", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		var err error
		refund, err = gw.CreateRefund(ctx, gateway.RefundRequest{
			IntentID:         payment.Metadata[domain.MetadataGatewayReference],
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         payment.Currency,
			Reason:           req.Reason,
			IdempotencyKey:   fmt.Sprintf("refund:%s:%d:%d", payment.ID, payment.UpdatedAt.UnixMicro(), req.AmountMinorUnits),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("RefundPayment: %w", err)
	}

	var refundStatus domain.TransactionStatus
	switch refund.Status {
	case gateway.PaymentStatusSucceeded:
		refundStatus = domain.TransactionStatusSucceeded
	case gateway.PaymentStatusPending:
		refundStatus = domain.TransactionStatusProcessing
	default:
		return nil, fmt.Errorf("RefundPayment: %w", domain.NewGatewayError(gw.Name(), "create_refund",
			fmt.Errorf("refund %s returned status %s", refund.ID, refund.Status)))
	}

	var (
		j      journal
		result *RefundResult
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		now := s.now()

		p, err := s.entries.GetForUpdate(ctx, tx, req.PaymentEntryID)
		if err != nil {
			return err
		}
		already, held, err := refundState(p)
		if err != nil {
			return err
		}
		if err := checkRefundable(p, already+held, req.AmountMinorUnits); err != nil {
			return err
		}

		reason := req.Reason
		entry, err := s.post(ctx, tx, &j, domain.NewLedgerEntryParams{
			TerritoryID:       p.TerritoryID,
			Type:              domain.TransactionTypeRefund,
			AmountMinorUnits:  req.AmountMinorUnits,
			Currency:          p.Currency,
			Description:       "refund of payment " + p.ID.String(),
			RelatedEntityID:   &p.ID,
			RelatedEntityType: ptr(domain.RelatedEntityLedgerEntry),
			RelatedIDs:        []uuid.UUID{p.ID},
			Metadata: map[string]string{
				domain.MetadataGatewayName:      gw.Name(),
				domain.MetadataGatewayReference: refund.ID,
			},
		}, refundStatus, now)
		if err != nil {
			return err
		}

		if refundStatus == domain.TransactionStatusSucceeded {
			err = s.recordRefund(ctx, tx, &j, p, already+req.AmountMinorUnits, held, req.ActorID, &reason, now)
		} else {
			p.MergeMetadata(map[string]string{domain.MetadataPendingRefund: strconv.FormatInt(held+req.AmountMinorUnits, 10)}, now)
			err = s.entries.Update(ctx, tx, p)
		}
		if err != nil {
			return err
		}
		result = &RefundResult{Payment: p, Refund: entry}
		return nil
	})
	if err != nil {
		log.Error("gateway refund issued but not recorded",
			"payment_entry_id", req.PaymentEntryID,
			"gateway", gw.Name(),
			"gateway_ref", refund.ID,
			"amount", req.AmountMinorUnits,
			"alert", true,
			"error", err,
		)
		return nil, fmt.Errorf("RefundPayment: %w", err)
	}
	s.publish(&j)

	log.Info("payment refunded",
		"payment_entry_id", result.Payment.ID,
		"refund_entry_id", result.Refund.ID,
		"amount", req.AmountMinorUnits,
		"payment_status", result.Payment.Status,
	)
	return result, nil
}

// recordRefund books refunded as the payment's confirmed refund total and
// moves the payment to partially_refunded or refunded accordingly.
func (s *Service) recordRefund(ctx context.Context, tx *sql.Tx, j *journal, p *domain.LedgerEntry, refunded, pending int64, actorID *uuid.UUID, reason *string, now time.Time) error {
	next := domain.TransactionStatusPartiallyRefunded
	if refunded == p.AmountMinorUnits {
		next = domain.TransactionStatusRefunded
	}
	p.MergeMetadata(map[string]string{
		domain.MetadataRefundedAmount: strconv.FormatInt(refunded, 10),
		domain.MetadataPendingRefund:  strconv.FormatInt(pending, 10),
	}, now)
	if p.Status == next {
		return s.entries.Update(ctx, tx, p)
	}
	return s.transition(ctx, tx, j, p, next, actorID, reason, now)
}

// settleRefund resolves an in-flight refund against its payment once the
// gateway reports the outcome. Success moves the held amount into the
// refunded total; failure or cancellation releases it.
func (s *Service) settleRefund(ctx context.Context, tx *sql.Tx, j *journal, refund *domain.LedgerEntry, reason *string, now time.Time) error {
	if refund.RelatedEntityID == nil {
		return fmt.Errorf("settleRefund: refund %s has no payment: %w", refund.ID, domain.ErrInvalidState)
	}
	p, err := s.entries.GetForUpdate(ctx, tx, *refund.RelatedEntityID)
	if err != nil {
		return fmt.Errorf("settleRefund: %w", err)
	}
	refunded, pending, err := refundState(p)
	if err != nil {
		return fmt.Errorf("settleRefund: %w", err)
	}
	if refund.AmountMinorUnits > pending {
		return fmt.Errorf("settleRefund: payment %s holds %d pending, refund %s needs %d: %w",
			p.ID, pending, refund.ID, refund.AmountMinorUnits, domain.ErrInvalidState)
	}
	pending -= refund.AmountMinorUnits

	if refund.Status == domain.TransactionStatusSucceeded {
		return s.recordRefund(ctx, tx, j, p, refunded+refund.AmountMinorUnits, pending, nil, reason, now)
	}
	p.MergeMetadata(map[string]string{domain.MetadataPendingRefund: strconv.FormatInt(pending, 10)}, now)
	return s.entries.Update(ctx, tx, p)
}

// refundState returns the confirmed and in-flight refund totals recorded on
// a payment.
func refundState(e *domain.LedgerEntry) (refunded, pending int64, err error) {
	if refunded, err = metadataAmount(e, domain.MetadataRefundedAmount); err != nil {
		return 0, 0, err
	}
	if pending, err = metadataAmount(e, domain.MetadataPendingRefund); err != nil {
		return 0, 0, err
	}
	return refunded, pending, nil
}

func metadataAmount(e *domain.LedgerEntry, key string) (int64, error) {
	raw, ok := e.Metadata[key]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("entry %s has malformed %s %q: %w", e.ID, key, raw, domain.ErrInvalidState)
	}
	return n, nil
}

// checkRefundable rejects amount when it would take committed (confirmed
// plus in-flight refunds) past the payment amount.
func checkRefundable(p *domain.LedgerEntry, committed, amount int64) error {
	if p.Type != domain.TransactionTypePayment {
		return domain.NewValidationError("payment_entry_id", "only payments can be refunded")
	}
	if p.Status != domain.TransactionStatusSucceeded && p.Status != domain.TransactionStatusPartiallyRefunded {
		return &domain.InvalidTransitionError{From: p.Status, To: domain.TransactionStatusRefunded}
	}
	if amount > p.AmountMinorUnits-committed {
		return domain.NewValidationError("amount", fmt.Sprintf("exceeds refundable remainder of %d", p.AmountMinorUnits-committed))
	}
	return nil
}

func (s *Service) paymentEntry(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, gateway.PaymentGateway, error) {
	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry.Type != domain.TransactionTypePayment {
		return nil, nil, domain.NewValidationError("entry_id", "not a payment entry")
	}
	gw, err := s.payments.Get(entry.Metadata[domain.MetadataGatewayName])
	if err != nil {
		return nil, nil, err
	}
	return entry, gw, nil
}
