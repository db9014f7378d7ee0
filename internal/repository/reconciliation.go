package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const reconciliationColumns = `id, territory_id, reconciliation_date, expected_amount_minor_units,
	actual_amount_minor_units, difference_minor_units, status, currency, notes,
	reconciled_by_actor_id, reconciled_at, version, created_at, updated_at`

type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Create(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reconciliation_records (`+reconciliationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.TerritoryID, rec.ReconciliationDate, rec.ExpectedAmountMinorUnits,
		rec.ActualAmountMinorUnits, rec.DifferenceMinorUnits, rec.Status, rec.Currency, rec.Notes,
		rec.ReconciledByActorID, rec.ReconciledAt, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records WHERE id = $1`, id,
	)
	return getReconciliation(row, "GetByID")
}

func (r *ReconciliationRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.ReconciliationRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records WHERE id = $1 FOR UPDATE`, id,
	)
	return getReconciliation(row, "GetForUpdate")
}

func (r *ReconciliationRepository) GetByTerritoryDate(ctx context.Context, territoryID uuid.UUID, date time.Time, currency domain.Currency) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records
		WHERE territory_id = $1 AND reconciliation_date = $2 AND currency = $3`,
		territoryID, domain.TruncateToDate(date), currency,
	)
	return getReconciliation(row, "GetByTerritoryDate")
}

func (r *ReconciliationRepository) Update(ctx context.Context, tx *sql.Tx, rec *domain.ReconciliationRecord) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reconciliation_records SET
			actual_amount_minor_units = $1, difference_minor_units = $2, status = $3, notes = $4,
			reconciled_by_actor_id = $5, reconciled_at = $6, updated_at = $7, version = version + 1
		WHERE id = $8 AND version = $9`,
		rec.ActualAmountMinorUnits, rec.DifferenceMinorUnits, rec.Status, rec.Notes,
		rec.ReconciledByActorID, rec.ReconciledAt, rec.UpdatedAt, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := expectOneRow(res, "Update"); err != nil {
		return err
	}
	rec.Version++
	return nil
}

func (r *ReconciliationRepository) ListByStatus(ctx context.Context, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_records
		WHERE status = $1 ORDER BY reconciliation_date DESC, territory_id LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByStatus: %w", err)
	}
	defer rows.Close()

	var records []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByStatus: scan: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByStatus: rows: %w", err)
	}
	return records, nil
}

func (r *ReconciliationRepository) AppendRevision(ctx context.Context, tx *sql.Tx, rev *domain.ReconciliationRevision) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reconciliation_revisions (
			id, reconciliation_id, previous_actual_minor, new_actual_minor, previous_status, changed_by_actor_id, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rev.ID, rev.ReconciliationID, rev.PreviousActualMinor, rev.NewActualMinor,
		rev.PreviousStatus, rev.ChangedByActorID, rev.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("AppendRevision: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) ListRevisions(ctx context.Context, reconciliationID uuid.UUID) ([]domain.ReconciliationRevision, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, reconciliation_id, previous_actual_minor, new_actual_minor, previous_status, changed_by_actor_id, changed_at
		FROM reconciliation_revisions WHERE reconciliation_id = $1 ORDER BY changed_at`,
		reconciliationID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListRevisions: %w", err)
	}
	defer rows.Close()

	var revs []domain.ReconciliationRevision
	for rows.Next() {
		var rev domain.ReconciliationRevision
		if err := rows.Scan(
			&rev.ID, &rev.ReconciliationID, &rev.PreviousActualMinor, &rev.NewActualMinor,
			&rev.PreviousStatus, &rev.ChangedByActorID, &rev.ChangedAt,
		); err != nil {
			return nil, fmt.Errorf("ListRevisions: scan: %w", err)
		}
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRevisions: rows: %w", err)
	}
	return revs, nil
}

func getReconciliation(row *sql.Row, op string) (*domain.ReconciliationRecord, error) {
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func scanReconciliation(s scanner) (*domain.ReconciliationRecord, error) {
	var rec domain.ReconciliationRecord
	err := s.Scan(
		&rec.ID, &rec.TerritoryID, &rec.ReconciliationDate, &rec.ExpectedAmountMinorUnits,
		&rec.ActualAmountMinorUnits, &rec.DifferenceMinorUnits, &rec.Status, &rec.Currency, &rec.Notes,
		&rec.ReconciledByActorID, &rec.ReconciledAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ReconciliationDate = domain.TruncateToDate(rec.ReconciliationDate)
	return &rec, nil
}
