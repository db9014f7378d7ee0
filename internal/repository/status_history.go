package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type StatusHistoryRepository struct {
	db *sql.DB
}

func NewStatusHistoryRepository(db *sql.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

func (r *StatusHistoryRepository) Append(ctx context.Context, tx *sql.Tx, rec *domain.StatusHistoryRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_status_history (
			id, ledger_entry_id, previous_status, new_status, changed_by_actor_id, reason, changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.LedgerEntryID, rec.PreviousStatus, rec.NewStatus,
		rec.ChangedByActorID, rec.Reason, rec.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *StatusHistoryRepository) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]domain.StatusHistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ledger_entry_id, previous_status, new_status, changed_by_actor_id, reason, changed_at
		FROM ledger_status_history WHERE ledger_entry_id = $1 ORDER BY changed_at`,
		entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByEntry: %w", err)
	}
	defer rows.Close()

	var records []domain.StatusHistoryRecord
	for rows.Next() {
		var h domain.StatusHistoryRecord
		if err := rows.Scan(
			&h.ID, &h.LedgerEntryID, &h.PreviousStatus, &h.NewStatus,
			&h.ChangedByActorID, &h.Reason, &h.ChangedAt,
		); err != nil {
			return nil, fmt.Errorf("ListByEntry: scan: %w", err)
		}
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByEntry: rows: %w", err)
	}
	return records, nil
}
