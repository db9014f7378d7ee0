package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

const metadataActorID = "actor_id"

type AdjustmentRequest struct {
	TerritoryID      uuid.UUID
	AmountMinorUnits int64
	Currency         domain.Currency
	Direction        domain.BalanceDirection
	// CorrectsEntryID optionally names the entry this adjustment corrects.
	CorrectsEntryID *uuid.UUID
	Reason          string
	ActorID         uuid.UUID
}

// PostAdjustment books an operator correction. Ledger amounts are never
// edited in place; a mistake is offset by an adjustment on the side of the
// balance given by Direction.
func (s *Service) PostAdjustment(ctx context.Context, req AdjustmentRequest) (*domain.LedgerEntry, error) {
	if req.Direction != domain.DirectionRevenue && req.Direction != domain.DirectionExpense {
		return nil, fmt.Errorf("PostAdjustment: %w", domain.NewValidationError("direction", "must be revenue or expense"))
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("PostAdjustment: %w", domain.NewValidationError("reason", "required"))
	}
	if req.ActorID == uuid.Nil {
		return nil, fmt.Errorf("PostAdjustment: %w", domain.NewValidationError("actor_id", "required"))
	}

	p := domain.NewLedgerEntryParams{
		TerritoryID:      req.TerritoryID,
		Type:             domain.TransactionTypeAdjustment,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Description:      req.Reason,
		Metadata: map[string]string{
			domain.MetadataDirection: string(req.Direction),
			metadataActorID:          req.ActorID.String(),
		},
	}
	if req.CorrectsEntryID != nil {
		p.RelatedEntityID = req.CorrectsEntryID
		p.RelatedEntityType = ptr(domain.RelatedEntityLedgerEntry)
		p.RelatedIDs = []uuid.UUID{*req.CorrectsEntryID}
	}

	var (
		j     journal
		entry *domain.LedgerEntry
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		var err error
		entry, err = s.post(ctx, tx, &j, p, domain.TransactionStatusSucceeded, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("PostAdjustment: %w", err)
	}
	s.publish(&j)

	logging.FromContext(ctx).Info("adjustment posted",
		"ledger_entry_id", entry.ID,
		"territory_id", entry.TerritoryID,
		"direction", req.Direction,
		"amount", entry.AmountMinorUnits,
		"actor_id", req.ActorID,
	)
	return entry, nil
}
