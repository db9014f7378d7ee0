// Package ledger records monetary events for territories. It owns ledger
// entries and their status history, the territory balance aggregate and the
// revenue/expense projections, and talks to payment and payout gateways.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/metrics"
)

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type entryRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.LedgerEntry, error)
	Update(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	FindByGatewayReference(ctx context.Context, gateway, ref string) (*domain.LedgerEntry, error)
	ListByRelatedEntity(ctx context.Context, typ domain.RelatedEntityType, id uuid.UUID) ([]domain.LedgerEntry, error)
}

type historyRepo interface {
	Append(ctx context.Context, tx *sql.Tx, rec *domain.StatusHistoryRecord) error
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]domain.StatusHistoryRecord, error)
}

type balanceRepo interface {
	AddRevenue(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error)
	AddExpense(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error)
	Get(ctx context.Context, territoryID uuid.UUID) (*domain.TerritoryBalance, error)
}

type projectionRepo interface {
	CreateRevenue(ctx context.Context, tx *sql.Tx, rec *domain.RevenueRecord) error
	GetRevenueByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.RevenueRecord, error)
	AttachRevenueEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error
	CreateExpense(ctx context.Context, tx *sql.Tx, rec *domain.ExpenseRecord) error
	GetExpenseByPayout(ctx context.Context, payoutID uuid.UUID) (*domain.ExpenseRecord, error)
	AttachExpenseEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error
}

type Service struct {
	uow            unitOfWork
	entries        entryRepo
	history        historyRepo
	balances       balanceRepo
	projections    projectionRepo
	payments       *gateway.Registry[gateway.PaymentGateway]
	payouts        *gateway.Registry[gateway.PayoutGateway]
	observer       metrics.Observer
	gatewayTimeout time.Duration
	now            func() time.Time
}

func NewService(
	uow unitOfWork,
	entries entryRepo,
	history historyRepo,
	balances balanceRepo,
	projections projectionRepo,
	payments *gateway.Registry[gateway.PaymentGateway],
	payouts *gateway.Registry[gateway.PayoutGateway],
	observer metrics.Observer,
	gatewayTimeout time.Duration,
) *Service {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Service{
		uow:            uow,
		entries:        entries,
		history:        history,
		balances:       balances,
		projections:    projections,
		payments:       payments,
		payouts:        payouts,
		observer:       observer,
		gatewayTimeout: gatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// journal collects what a unit of work did so observers hear about it only
// after commit. It is reset at the start of every attempt.
type journal struct {
	posted      []*domain.LedgerEntry
	transitions []*domain.StatusHistoryRecord
}

func (j *journal) reset() {
	j.posted = j.posted[:0]
	j.transitions = j.transitions[:0]
}

func (j *journal) find(id uuid.UUID) *domain.LedgerEntry {
	for _, e := range j.posted {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Service) publish(j *journal) {
	for _, e := range j.posted {
		s.observer.EntryPosted(e.Type, e.Currency, e.AmountMinorUnits)
		if d := e.BalanceDirection(); d != domain.DirectionNone {
			s.observer.BalanceChanged(d, e.Currency, e.AmountMinorUnits)
		}
	}
	for _, h := range j.transitions {
		s.observer.EntryTransitioned(h.PreviousStatus, h.NewStatus)
	}
}

// post creates an entry, moves it to status and applies its balance effect,
// all inside tx. Posting is the moment an entry counts toward the territory
// balance.
func (s *Service) post(ctx context.Context, tx *sql.Tx, j *journal, p domain.NewLedgerEntryParams, status domain.TransactionStatus, now time.Time) (*domain.LedgerEntry, error) {
	e, err := domain.NewLedgerEntry(p, now)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	if err := s.checkRelated(ctx, j, e, p.RelatedIDs); err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}

	var rec *domain.StatusHistoryRecord
	if status != domain.TransactionStatusPending {
		if rec, err = e.Transition(status, nil, nil, now); err != nil {
			return nil, fmt.Errorf("post: %w", err)
		}
	}

	if err := s.entries.Create(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	if rec != nil {
		if err := s.history.Append(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("post: %w", err)
		}
		j.transitions = append(j.transitions, rec)
	}
	if err := s.applyBalance(ctx, tx, e, now); err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	j.posted = append(j.posted, e)
	return e, nil
}

func (s *Service) applyBalance(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry, now time.Time) error {
	var err error
	switch e.BalanceDirection() {
	case domain.DirectionRevenue:
		_, err = s.balances.AddRevenue(ctx, tx, e.TerritoryID, e.Currency, e.AmountMinorUnits, now)
	case domain.DirectionExpense:
		_, err = s.balances.AddExpense(ctx, tx, e.TerritoryID, e.Currency, e.AmountMinorUnits, now)
	case domain.DirectionNone:
	default:
		err = domain.NewValidationError("metadata.direction", "must be revenue or expense")
	}
	if err != nil {
		return fmt.Errorf("applyBalance: %w", err)
	}
	return nil
}

// transition applies one status change to a locked entry and, when a posted
// entry fails or is canceled, books the offsetting adjustment.
func (s *Service) transition(ctx context.Context, tx *sql.Tx, j *journal, e *domain.LedgerEntry, next domain.TransactionStatus, actorID *uuid.UUID, reason *string, now time.Time) error {
	rec, err := e.Transition(next, actorID, reason, now)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if rec == nil {
		return nil
	}
	if err := s.entries.Update(ctx, tx, e); err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if err := s.history.Append(ctx, tx, rec); err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	j.transitions = append(j.transitions, rec)

	if next == domain.TransactionStatusFailed || next == domain.TransactionStatusCanceled {
		if err := s.reverse(ctx, tx, j, e, now); err != nil {
			return fmt.Errorf("transition: %w", err)
		}
	}
	return nil
}

// reverse offsets the balance effect of an entry that will never settle.
// Totals only grow, so the offset is an adjustment on the opposite side.
func (s *Service) reverse(ctx context.Context, tx *sql.Tx, j *journal, e *domain.LedgerEntry, now time.Time) error {
	var opposite domain.BalanceDirection
	switch e.BalanceDirection() {
	case domain.DirectionRevenue:
		opposite = domain.DirectionExpense
	case domain.DirectionExpense:
		opposite = domain.DirectionRevenue
	default:
		return nil
	}

	related := domain.RelatedEntityLedgerEntry
	_, err := s.post(ctx, tx, j, domain.NewLedgerEntryParams{
		TerritoryID:       e.TerritoryID,
		Type:              domain.TransactionTypeAdjustment,
		AmountMinorUnits:  e.AmountMinorUnits,
		Currency:          e.Currency,
		Description:       fmt.Sprintf("reversal of %s %s (%s)", e.Type, e.ID, e.Status),
		RelatedEntityID:   &e.ID,
		RelatedEntityType: &related,
		RelatedIDs:        []uuid.UUID{e.ID},
		Metadata:          map[string]string{domain.MetadataDirection: string(opposite)},
	}, domain.TransactionStatusSucceeded, now)
	return err
}

// checkRelated verifies that every linked entry exists in the same
// territory. A new entry cannot be referenced by anything yet, so linking it
// never closes a cycle. Entries posted earlier in the same unit of work are
// not yet visible outside it and are checked from the journal.
func (s *Service) checkRelated(ctx context.Context, j *journal, e *domain.LedgerEntry, ids []uuid.UUID) error {
	for _, id := range ids {
		if id == e.ID {
			return domain.NewValidationError("related_transaction_ids", "entry cannot reference itself")
		}
		if other := j.find(id); other != nil {
			if other.TerritoryID != e.TerritoryID {
				return domain.NewValidationError("related_transaction_ids", "entries must belong to the same territory")
			}
			continue
		}
		other, err := s.entries.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("related entry %s: %w", id, err)
		}
		if other.TerritoryID != e.TerritoryID {
			return domain.NewValidationError("related_transaction_ids", "entries must belong to the same territory")
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
