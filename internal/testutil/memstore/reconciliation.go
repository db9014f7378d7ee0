package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

func cloneRecon(r domain.ReconciliationRecord) domain.ReconciliationRecord {
	r.Notes = ptrClone(r.Notes)
	r.ReconciledByActorID = ptrClone(r.ReconciledByActorID)
	r.ReconciledAt = ptrClone(r.ReconciledAt)
	return r
}

type ReconciliationRepo struct{ s *Store }

func (r *ReconciliationRepo) Create(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error {
	if err := r.s.fault("Reconciliations.Create"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		for _, existing := range t.recons {
			if existing.TerritoryID == rec.TerritoryID && existing.Currency == rec.Currency &&
				existing.ReconciliationDate.Equal(rec.ReconciliationDate) {
				return fmt.Errorf("Create: %w", domain.ErrDuplicate)
			}
		}
		t.recons[rec.ID] = cloneRecon(*rec)
		return nil
	})
}

func (r *ReconciliationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRecord, error) {
	var (
		rec domain.ReconciliationRecord
		ok  bool
	)
	r.s.read(func(t *tables) { rec, ok = t.recons[id] })
	if !ok {
		return nil, notFound("GetByID")
	}
	rec = cloneRecon(rec)
	return &rec, nil
}

func (r *ReconciliationRepo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.ReconciliationRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *ReconciliationRepo) GetByTerritoryDate(ctx context.Context, territoryID uuid.UUID, date time.Time, currency domain.Currency) (*domain.ReconciliationRecord, error) {
	day := domain.TruncateToDate(date)
	var out *domain.ReconciliationRecord
	r.s.read(func(t *tables) {
		for _, rec := range t.recons {
			if rec.TerritoryID == territoryID && rec.Currency == currency && rec.ReconciliationDate.Equal(day) {
				c := cloneRecon(rec)
				out = &c
			}
		}
	})
	if out == nil {
		return nil, notFound("GetByTerritoryDate")
	}
	return out, nil
}

func (r *ReconciliationRepo) Update(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error {
	if err := r.s.fault("Reconciliations.Update"); err != nil {
		return err
	}
	err := r.s.write(func(t *tables) error {
		cur, ok := t.recons[rec.ID]
		if !ok || cur.Version != rec.Version {
			return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
		}
		next := cloneRecon(*rec)
		next.Version++
		t.recons[rec.ID] = next
		return nil
	})
	if err != nil {
		return err
	}
	rec.Version++
	return nil
}

func (r *ReconciliationRepo) ListByStatus(ctx context.Context, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationRecord, error) {
	var out []domain.ReconciliationRecord
	r.s.read(func(t *tables) {
		for _, rec := range t.recons {
			if rec.Status == status {
				out = append(out, cloneRecon(rec))
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.ReconciliationRecord) int {
		return b.ReconciliationDate.Compare(a.ReconciliationDate)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ReconciliationRepo) AppendRevision(ctx context.Context, tx *sql.Tx, rev *domain.ReconciliationRevision) error {
	return r.s.write(func(t *tables) error {
		c := *rev
		c.ChangedByActorID = ptrClone(rev.ChangedByActorID)
		t.revisions = append(t.revisions, c)
		return nil
	})
}

func (r *ReconciliationRepo) ListRevisions(ctx context.Context, reconciliationID uuid.UUID) ([]domain.ReconciliationRevision, error) {
	var out []domain.ReconciliationRevision
	r.s.read(func(t *tables) {
		for _, rev := range t.revisions {
			if rev.ReconciliationID == reconciliationID {
				out = append(out, rev)
			}
		}
	})
	return out, nil
}
