package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type CheckoutFeeRequest struct {
	TerritoryID   uuid.UUID
	CheckoutID    uuid.UUID
	FeeMinorUnits int64
	Currency      domain.Currency
	Description   string
}

// RecordCheckoutFee books the platform fee of a completed checkout: a
// revenue record, a succeeded fee entry and the revenue increment, all in
// one unit of work. Retrying for the same checkout returns the first result.
func (s *Service) RecordCheckoutFee(ctx context.Context, req CheckoutFeeRequest) (*domain.RevenueRecord, error) {
	log := logging.FromContext(ctx)

	if req.CheckoutID == uuid.Nil {
		return nil, fmt.Errorf("RecordCheckoutFee: %w", domain.NewValidationError("checkout_id", "required"))
	}
	if req.FeeMinorUnits < 0 {
		return nil, fmt.Errorf("RecordCheckoutFee: %w", domain.ErrInvalidAmount)
	}

	existing, err := s.existingRevenue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("RecordCheckoutFee: %w", err)
	}
	if existing != nil {
		log.Info("checkout fee already recorded", "checkout_id", req.CheckoutID, "revenue_record_id", existing.ID)
		return existing, nil
	}

	var (
		j   journal
		rec *domain.RevenueRecord
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		now := s.now()
		rec = &domain.RevenueRecord{
			ID:            uuid.New(),
			TerritoryID:   req.TerritoryID,
			CheckoutID:    req.CheckoutID,
			FeeMinorUnits: req.FeeMinorUnits,
			Currency:      req.Currency,
			CreatedAt:     now,
		}
		if err := s.projections.CreateRevenue(ctx, tx, rec); err != nil {
			return err
		}

		description := req.Description
		if description == "" {
			description = "platform fee for checkout " + req.CheckoutID.String()
		}
		entry, err := s.post(ctx, tx, &j, domain.NewLedgerEntryParams{
			TerritoryID:       req.TerritoryID,
			Type:              domain.TransactionTypeFee,
			AmountMinorUnits:  req.FeeMinorUnits,
			Currency:          req.Currency,
			Description:       description,
			RelatedEntityID:   &req.CheckoutID,
			RelatedEntityType: ptr(domain.RelatedEntityCheckout),
		}, domain.TransactionStatusSucceeded, now)
		if err != nil {
			return err
		}

		if err := rec.AttachLedgerEntry(entry.ID); err != nil {
			return err
		}
		return s.projections.AttachRevenueEntry(ctx, tx, rec.ID, entry.ID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			existing, lookupErr := s.existingRevenue(ctx, req)
			if lookupErr != nil {
				return nil, fmt.Errorf("RecordCheckoutFee: %w", lookupErr)
			}
			if existing != nil {
				log.Info("checkout fee already recorded (race)", "checkout_id", req.CheckoutID)
				return existing, nil
			}
		}
		return nil, fmt.Errorf("RecordCheckoutFee: %w", err)
	}
	s.publish(&j)

	log.Info("checkout fee recorded",
		"checkout_id", req.CheckoutID,
		"territory_id", req.TerritoryID,
		"ledger_entry_id", *rec.LedgerEntryID,
		"fee", req.FeeMinorUnits,
		"currency", req.Currency,
	)
	return rec, nil
}

// existingRevenue returns the stored record for a replayed checkout, or an
// error when the replay disagrees with what was recorded.
func (s *Service) existingRevenue(ctx context.Context, req CheckoutFeeRequest) (*domain.RevenueRecord, error) {
	rec, err := s.projections.GetRevenueByCheckout(ctx, req.CheckoutID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.TerritoryID != req.TerritoryID || rec.FeeMinorUnits != req.FeeMinorUnits || rec.Currency != req.Currency {
		return nil, fmt.Errorf("checkout %s already recorded with different values: %w", req.CheckoutID, domain.ErrDuplicate)
	}
	return rec, nil
}
