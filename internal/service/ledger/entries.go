package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

// CreateEntry posts a new pending entry. Entry types that feed the balance
// (fees, subscriptions, payouts, refunds, adjustments) are counted now; if
// the entry later fails or is canceled an offsetting adjustment is booked.
func (s *Service) CreateEntry(ctx context.Context, p domain.NewLedgerEntryParams) (*domain.LedgerEntry, error) {
	var (
		j     journal
		entry *domain.LedgerEntry
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		var err error
		entry, err = s.post(ctx, tx, &j, p, domain.TransactionStatusPending, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("CreateEntry: %w", err)
	}
	s.publish(&j)

	logging.FromContext(ctx).Info("ledger entry created",
		"ledger_entry_id", entry.ID,
		"territory_id", entry.TerritoryID,
		"type", entry.Type,
		"amount", entry.AmountMinorUnits,
		"currency", entry.Currency,
	)
	return entry, nil
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetEntry: %w", err)
	}
	return e, nil
}

func (s *Service) GetHistory(ctx context.Context, entryID uuid.UUID) ([]domain.StatusHistoryRecord, error) {
	if _, err := s.entries.GetByID(ctx, entryID); err != nil {
		return nil, fmt.Errorf("GetHistory: %w", err)
	}
	h, err := s.history.ListByEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("GetHistory: %w", err)
	}
	return h, nil
}

// TransitionStatus moves an entry through the status state machine and
// appends exactly one history record. Requesting the current status is a
// no-op. Concurrent callers serialize on the entry row.
func (s *Service) TransitionStatus(ctx context.Context, entryID uuid.UUID, next domain.TransactionStatus, actorID *uuid.UUID, reason *string) (*domain.LedgerEntry, error) {
	var (
		j     journal
		entry *domain.LedgerEntry
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		j.reset()
		e, err := s.entries.GetForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		entry = e
		return s.transition(ctx, tx, &j, e, next, actorID, reason, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("TransitionStatus: %w", err)
	}
	s.publish(&j)

	if len(j.transitions) > 0 {
		logging.FromContext(ctx).Info("ledger entry transitioned",
			"ledger_entry_id", entry.ID,
			"from", j.transitions[0].PreviousStatus,
			"to", entry.Status,
		)
	}
	return entry, nil
}

// LinkRelated adds ids to the entry's related set. Targets must exist in the
// same territory and must not lead back to the entry.
func (s *Service) LinkRelated(ctx context.Context, entryID uuid.UUID, ids []uuid.UUID) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		e, err := s.entries.GetForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.checkLink(ctx, e, id); err != nil {
				return err
			}
		}
		e.AddRelated(ids, s.now())
		entry = e
		return s.entries.Update(ctx, tx, e)
	})
	if err != nil {
		return nil, fmt.Errorf("LinkRelated: %w", err)
	}
	return entry, nil
}

func (s *Service) checkLink(ctx context.Context, e *domain.LedgerEntry, targetID uuid.UUID) error {
	if targetID == e.ID {
		return domain.NewValidationError("related_transaction_ids", "entry cannot reference itself")
	}
	target, err := s.entries.GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("related entry %s: %w", targetID, err)
	}
	if target.TerritoryID != e.TerritoryID {
		return domain.NewValidationError("related_transaction_ids", "entries must belong to the same territory")
	}

	seen := map[uuid.UUID]bool{}
	stack := []*domain.LedgerEntry{target}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur.ID] {
			continue
		}
		seen[cur.ID] = true
		for _, next := range cur.RelatedTransactionIDs {
			if next == e.ID {
				return domain.NewValidationError("related_transaction_ids", "link would create a cycle")
			}
			if seen[next] {
				continue
			}
			n, err := s.entries.GetByID(ctx, next)
			if err != nil {
				return fmt.Errorf("walk related %s: %w", next, err)
			}
			stack = append(stack, n)
		}
	}
	return nil
}

func (s *Service) MergeMetadata(ctx context.Context, entryID uuid.UUID, kv map[string]string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		e, err := s.entries.GetForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		e.MergeMetadata(kv, s.now())
		entry = e
		return s.entries.Update(ctx, tx, e)
	})
	if err != nil {
		return nil, fmt.Errorf("MergeMetadata: %w", err)
	}
	return entry, nil
}
