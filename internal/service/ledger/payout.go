package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type PayoutRequest struct {
	TerritoryID        uuid.UUID
	PayoutID           uuid.UUID
	AmountMinorUnits   int64
	Currency           domain.Currency
	DestinationAccount string
	Description        string
	// SettlesEntryIDs are the fee entries this payout settles.
	SettlesEntryIDs []uuid.UUID
}

type PayoutResult struct {
	Expense *domain.ExpenseRecord
	Entry   *domain.LedgerEntry
}

// RequestPayout disburses a seller payout. The gateway is called first with
// no lock held; only then are the expense record, the processing payout
// entry and the expense increment written in one unit of work.
func (s *Service) RequestPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	log := logging.FromContext(ctx)

	if err := validatePayout(req); err != nil {
		return nil, fmt.Errorf("RequestPayout: %w", err)
	}

	if existing, err := s.existingPayout(ctx, req); err != nil || existing != nil {
		if err != nil {
			return nil, fmt.Errorf("RequestPayout: %w", err)
		}
		log.Info("payout already requested", "payout_id", req.PayoutID)
		return existing, nil
	}

	gw := s.payouts.Primary()
	var po *gateway.Payout
	err := gateway.Call(ctx, gw, "create_payout", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		var err error
		po, err = gw.CreatePayout(ctx, gateway.PayoutRequest{
			PayoutID:           req.PayoutID,
			DestinationAccount: req.DestinationAccount,
			AmountMinorUnits:   req.AmountMinorUnits,
			Currency:           req.Currency,
			Description:        req.Description,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("RequestPayout: %w", err)
	}

	var (
		j      journal
		result *PayoutResult
	)
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		now := s.now()
		exp := &domain.ExpenseRecord{
			ID:               uuid.New(),
			TerritoryID:      req.TerritoryID,
			PayoutID:         req.PayoutID,
			AmountMinorUnits: req.AmountMinorUnits,
			Currency:         req.Currency,
			CreatedAt:        now,
		}
		if err := s.projections.CreateExpense(ctx, tx, exp); err != nil {
			return err
		}

		description := req.Description
		if description == "" {
			description = "seller payout " + req.PayoutID.String()
		}
		entry, err := s.post(ctx, tx, &j, domain.NewLedgerEntryParams{
			TerritoryID:       req.TerritoryID,
			Type:              domain.TransactionTypePayout,
			AmountMinorUnits:  req.AmountMinorUnits,
			Currency:          req.Currency,
			Description:       description,
			RelatedEntityID:   &req.PayoutID,
			RelatedEntityType: ptr(domain.RelatedEntityPayout),
			RelatedIDs:        req.SettlesEntryIDs,
			Metadata: map[string]string{
				domain.MetadataGatewayName:      gw.Name(),
				domain.MetadataGatewayReference: po.ID,
			},
		}, domain.TransactionStatusProcessing, now)
		if err != nil {
			return err
		}

		if err := exp.AttachLedgerEntry(entry.ID); err != nil {
			return err
		}
		if err := s.projections.AttachExpenseEntry(ctx, tx, exp.ID, entry.ID); err != nil {
			return err
		}
		result = &PayoutResult{Expense: exp, Entry: entry}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			if existing, lookupErr := s.existingPayout(ctx, req); lookupErr == nil && existing != nil {
				log.Info("payout already requested (race)", "payout_id", req.PayoutID)
				return existing, nil
			}
		}
		s.cancelOrphanedPayout(ctx, gw, po.ID)
		return nil, fmt.Errorf("RequestPayout: %w", err)
	}
	s.publish(&j)

	log.Info("payout requested",
		"payout_id", req.PayoutID,
		"territory_id", req.TerritoryID,
		"ledger_entry_id", result.Entry.ID,
		"gateway", gw.Name(),
		"gateway_ref", po.ID,
		"amount", req.AmountMinorUnits,
	)
	return result, nil
}

func validatePayout(req PayoutRequest) error {
	if req.PayoutID == uuid.Nil {
		return domain.NewValidationError("payout_id", "required")
	}
	if req.AmountMinorUnits < 0 {
		return domain.ErrInvalidAmount
	}
	if req.AmountMinorUnits == 0 {
		return domain.NewValidationError("amount", "payout must be positive")
	}
	if req.DestinationAccount == "" {
		return domain.NewValidationError("destination_account", "required")
	}
	return nil
}

func (s *Service) existingPayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	exp, err := s.projections.GetExpenseByPayout(ctx, req.PayoutID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if exp.TerritoryID != req.TerritoryID || exp.AmountMinorUnits != req.AmountMinorUnits || exp.Currency != req.Currency {
		return nil, fmt.Errorf("payout %s already requested with different values: %w", req.PayoutID, domain.ErrDuplicate)
	}
	if exp.LedgerEntryID == nil {
		return &PayoutResult{Expense: exp}, nil
	}
	entry, err := s.entries.GetByID(ctx, *exp.LedgerEntryID)
	if err != nil {
		return nil, err
	}
	return &PayoutResult{Expense: exp, Entry: entry}, nil
}

// cancelOrphanedPayout undoes a gateway payout whose local booking failed.
func (s *Service) cancelOrphanedPayout(ctx context.Context, gw gateway.PayoutGateway, ref string) {
	err := gateway.Call(ctx, gw, "cancel_payout", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		return gw.CancelPayout(ctx, ref)
	})
	if err != nil {
		logging.FromContext(ctx).Error("orphaned gateway payout could not be canceled",
			"gateway", gw.Name(), "gateway_ref", ref, "alert", true, "error", err)
		return
	}
	logging.FromContext(ctx).Warn("canceled gateway payout after local booking failed",
		"gateway", gw.Name(), "gateway_ref", ref)
}

var payoutStatusMap = map[gateway.PayoutStatus]domain.TransactionStatus{
	gateway.PayoutStatusPending:   domain.TransactionStatusProcessing,
	gateway.PayoutStatusInTransit: domain.TransactionStatusProcessing,
	gateway.PayoutStatusPaid:      domain.TransactionStatusSucceeded,
	gateway.PayoutStatusFailed:    domain.TransactionStatusFailed,
	gateway.PayoutStatusCanceled:  domain.TransactionStatusCanceled,
}

// SyncPayoutStatus pulls the payout's status from its gateway and mirrors
// it onto the payout entry.
func (s *Service) SyncPayoutStatus(ctx context.Context, payoutID uuid.UUID) (*domain.LedgerEntry, error) {
	entry, gw, err := s.payoutEntry(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("SyncPayoutStatus: %w", err)
	}

	var status gateway.PayoutStatus
	err = gateway.Call(ctx, gw, "get_payout_status", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		var err error
		status, err = gw.GetPayoutStatus(ctx, entry.Metadata[domain.MetadataGatewayReference])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("SyncPayoutStatus: %w", err)
	}

	next, ok := payoutStatusMap[status]
	if !ok {
		return nil, fmt.Errorf("SyncPayoutStatus: unknown gateway status %q: %w", status, domain.ErrValidation)
	}
	updated, err := s.TransitionStatus(ctx, entry.ID, next, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("SyncPayoutStatus: %w", err)
	}
	return updated, nil
}

// CancelPayout cancels a payout at its gateway and then locally. The
// expense it booked is offset by a revenue adjustment.
func (s *Service) CancelPayout(ctx context.Context, payoutID uuid.UUID, actorID *uuid.UUID, reason string) (*domain.LedgerEntry, error) {
	entry, gw, err := s.payoutEntry(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("CancelPayout: %w", err)
	}
	if !entry.Status.CanTransitionTo(domain.TransactionStatusCanceled) && entry.Status != domain.TransactionStatusCanceled {
		return nil, fmt.Errorf("CancelPayout: %w", &domain.InvalidTransitionError{From: entry.Status, To: domain.TransactionStatusCanceled})
	}

	err = gateway.Call(ctx, gw, "cancel_payout", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		return gw.CancelPayout(ctx, entry.Metadata[domain.MetadataGatewayReference])
	})
	if err != nil {
		return nil, fmt.Errorf("CancelPayout: %w", err)
	}

	updated, err := s.TransitionStatus(ctx, entry.ID, domain.TransactionStatusCanceled, actorID, &reason)
	if err != nil {
		return nil, fmt.Errorf("CancelPayout: %w", err)
	}
	return updated, nil
}

func (s *Service) payoutEntry(ctx context.Context, payoutID uuid.UUID) (*domain.LedgerEntry, gateway.PayoutGateway, error) {
	exp, err := s.projections.GetExpenseByPayout(ctx, payoutID)
	if err != nil {
		return nil, nil, err
	}
	if exp.LedgerEntryID == nil {
		return nil, nil, fmt.Errorf("payout %s has no ledger entry: %w", payoutID, domain.ErrInvalidState)
	}
	entry, err := s.entries.GetByID(ctx, *exp.LedgerEntryID)
	if err != nil {
		return nil, nil, err
	}
	gw, err := s.payouts.Get(entry.Metadata[domain.MetadataGatewayName])
	if err != nil {
		return nil, nil, err
	}
	return entry, gw, nil
}
