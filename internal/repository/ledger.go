package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const ledgerColumns = `id, territory_id, type, status, amount_minor_units, currency,
	description, related_entity_id, related_entity_type, related_transaction_ids,
	metadata, version, created_at, updated_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, territory_id, type, status, amount_minor_units, currency,
			description, related_entity_id, related_entity_type, related_transaction_ids,
			metadata, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.TerritoryID, e.Type, e.Status, e.AmountMinorUnits, e.Currency,
		e.Description, e.RelatedEntityID, e.RelatedEntityType, uuidArray(e.RelatedTransactionIDs),
		metadata, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return e, nil
}

// Update persists the mutable fields of e. Amount, currency, type and
// territory are never written.
func (r *LedgerRepository) Update(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries
		SET status = $1, related_transaction_ids = $2, metadata = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6`,
		e.Status, uuidArray(e.RelatedTransactionIDs), metadata, e.UpdatedAt, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := expectOneRow(res, "Update"); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (r *LedgerRepository) FindByGatewayReference(ctx context.Context, gateway, ref string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE metadata->>'gateway' = $1 AND metadata->>'gateway_ref' = $2
		ORDER BY created_at LIMIT 1`,
		gateway, ref,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("FindByGatewayReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("FindByGatewayReference: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) ListByRelatedEntity(ctx context.Context, typ domain.RelatedEntityType, id uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE related_entity_type = $1 AND related_entity_id = $2 ORDER BY created_at`,
		typ, id,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByRelatedEntity: %w", err)
	}
	return collectLedgerEntries(rows, "ListByRelatedEntity")
}

func (r *LedgerRepository) ListByTerritory(ctx context.Context, territoryID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE territory_id = $1`, territoryID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByTerritory: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE territory_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		territoryID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByTerritory: %w", err)
	}
	entries, err := collectLedgerEntries(rows, "ListByTerritory")
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SumSettled returns the signed total of settled entries created in
// [from, to): payments and subscriptions count in, payouts and refunds out.
func (r *LedgerRepository) SumSettled(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, from, to time.Time) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE
			WHEN type IN ('payment', 'subscription') THEN amount_minor_units
			WHEN type IN ('payout', 'refund') THEN -amount_minor_units
			ELSE 0 END), 0)
		FROM ledger_entries
		WHERE territory_id = $1 AND currency = $2
			AND status IN ('succeeded', 'partially_refunded', 'refunded')
			AND created_at >= $3 AND created_at < $4`,
		territoryID, currency, from, to,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumSettled: %w", err)
	}
	return sum, nil
}

func collectLedgerEntries(rows *sql.Rows, op string) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var (
		e        domain.LedgerEntry
		related  []string
		metadata []byte
	)
	err := s.Scan(
		&e.ID, &e.TerritoryID, &e.Type, &e.Status, &e.AmountMinorUnits, &e.Currency,
		&e.Description, &e.RelatedEntityID, &e.RelatedEntityType, pq.Array(&related),
		&metadata, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.RelatedTransactionIDs, err = parseUUIDs(related); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalMap[string](metadata); err != nil {
		return nil, err
	}
	return &e, nil
}
