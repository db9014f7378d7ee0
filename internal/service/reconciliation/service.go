// Package reconciliation compares what the ledger expects to have settled
// for a territory on a day with what the gateway reports. Discrepancies are
// recorded for an operator; ledger amounts are never rewritten.
package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/metrics"
)

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type recordRepo interface {
	Create(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRecord, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.ReconciliationRecord, error)
	GetByTerritoryDate(ctx context.Context, territoryID uuid.UUID, date time.Time, currency domain.Currency) (*domain.ReconciliationRecord, error)
	Update(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error
	ListByStatus(ctx context.Context, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationRecord, error)
	AppendRevision(ctx context.Context, tx *sql.Tx, rev *domain.ReconciliationRevision) error
	ListRevisions(ctx context.Context, reconciliationID uuid.UUID) ([]domain.ReconciliationRevision, error)
}

type settledSummer interface {
	SumSettled(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, from, to time.Time) (int64, error)
}

type balanceLister interface {
	List(ctx context.Context) ([]domain.TerritoryBalance, error)
}

type Service struct {
	uow            unitOfWork
	records        recordRepo
	ledger         settledSummer
	balances       balanceLister
	reporter       gateway.SettlementReporter
	observer       metrics.Observer
	gatewayTimeout time.Duration
	now            func() time.Time
}

func NewService(
	uow unitOfWork,
	records recordRepo,
	ledger settledSummer,
	balances balanceLister,
	reporter gateway.SettlementReporter,
	observer metrics.Observer,
	gatewayTimeout time.Duration,
) *Service {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Service{
		uow:            uow,
		records:        records,
		ledger:         ledger,
		balances:       balances,
		reporter:       reporter,
		observer:       observer,
		gatewayTimeout: gatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ExpectedAmount sums the settled ledger entries of a territory created on
// date's UTC day.
func (s *Service) ExpectedAmount(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, date time.Time) (int64, error) {
	from := domain.TruncateToDate(date)
	sum, err := s.ledger.SumSettled(ctx, territoryID, currency, from, from.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("ExpectedAmount: %w", err)
	}
	return sum, nil
}

// Reconcile records a verification pass for one territory, day and
// currency. Running it again for the same day replaces the actual figure
// through UpdateActualAmount so the previous one is kept as a revision.
func (s *Service) Reconcile(ctx context.Context, territoryID uuid.UUID, date time.Time, currency domain.Currency, actual int64) (*domain.ReconciliationRecord, error) {
	expected, err := s.ExpectedAmount(ctx, territoryID, currency, date)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	rec, err := domain.NewReconciliationRecord(territoryID, date, expected, actual, currency, s.now())
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.records.Create(ctx, tx, rec)
	})
	if errors.Is(err, domain.ErrDuplicate) {
		existing, lookupErr := s.records.GetByTerritoryDate(ctx, territoryID, date, currency)
		if lookupErr != nil {
			return nil, fmt.Errorf("Reconcile: %w", lookupErr)
		}
		if existing.ActualAmountMinorUnits == actual {
			return existing, nil
		}
		updated, err := s.UpdateActualAmount(ctx, existing.ID, actual, nil)
		if err != nil {
			return nil, fmt.Errorf("Reconcile: %w", err)
		}
		return updated, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	s.observer.Reconciled(rec.Status, rec.DifferenceMinorUnits)
	log := logging.FromContext(ctx).With(
		"reconciliation_id", rec.ID,
		"territory_id", territoryID,
		"date", rec.ReconciliationDate.Format(time.DateOnly),
		"currency", currency,
	)
	if rec.Status == domain.ReconciliationStatusDiscrepancy {
		log.Warn("reconciliation discrepancy",
			"expected", rec.ExpectedAmountMinorUnits,
			"actual", rec.ActualAmountMinorUnits,
			"difference", rec.DifferenceMinorUnits,
		)
	} else {
		log.Info("reconciled", "amount", rec.ActualAmountMinorUnits)
	}
	return rec, nil
}

// UpdateActualAmount corrects the gateway-reported figure. The old value is
// kept as a revision and any manual acceptance is cleared.
func (s *Service) UpdateActualAmount(ctx context.Context, id uuid.UUID, actual int64, actorID *uuid.UUID) (*domain.ReconciliationRecord, error) {
	var rec *domain.ReconciliationRecord
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := s.records.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		rev := r.UpdateActualAmount(actual, actorID, s.now())
		if err := s.records.AppendRevision(ctx, tx, rev); err != nil {
			return err
		}
		if err := s.records.Update(ctx, tx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateActualAmount: %w", err)
	}
	s.observer.Reconciled(rec.Status, rec.DifferenceMinorUnits)

	logging.FromContext(ctx).Info("reconciliation actual amount updated",
		"reconciliation_id", rec.ID,
		"actual", actual,
		"difference", rec.DifferenceMinorUnits,
		"status", rec.Status,
	)
	return rec, nil
}

// MarkAsReconciled is the manual resolution of a discrepancy. The recorded
// difference is kept; only the status, actor and note change.
func (s *Service) MarkAsReconciled(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) (*domain.ReconciliationRecord, error) {
	var rec *domain.ReconciliationRecord
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := s.records.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.MarkAsReconciled(actorID, note, s.now()); err != nil {
			return err
		}
		if err := s.records.Update(ctx, tx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("MarkAsReconciled: %w", err)
	}

	logging.FromContext(ctx).Info("reconciliation resolved manually",
		"reconciliation_id", rec.ID,
		"actor_id", actorID,
		"difference", rec.DifferenceMinorUnits,
	)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

func (s *Service) ListDiscrepancies(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error) {
	recs, err := s.records.ListByStatus(ctx, domain.ReconciliationStatusDiscrepancy, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDiscrepancies: %w", err)
	}
	return recs, nil
}

func (s *Service) ListRevisions(ctx context.Context, id uuid.UUID) ([]domain.ReconciliationRevision, error) {
	revs, err := s.records.ListRevisions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ListRevisions: %w", err)
	}
	return revs, nil
}
