package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// ProjectionRepository stores the revenue and expense records that tie
// checkouts and payouts to the ledger entries posting them.
type ProjectionRepository struct {
	db *sql.DB
}

func NewProjectionRepository(db *sql.DB) *ProjectionRepository {
	return &ProjectionRepository{db: db}
}

func (r *ProjectionRepository) CreateRevenue(ctx context.Context, tx *sql.Tx, rec *domain.RevenueRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO revenue_records (id, territory_id, checkout_id, fee_minor_units, currency, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TerritoryID, rec.CheckoutID, rec.FeeMinorUnits, rec.Currency, rec.LedgerEntryID, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("CreateRevenue: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("CreateRevenue: %w", err)
	}
	return nil
}

func (r *ProjectionRepository) GetRevenueByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.RevenueRecord, error) {
	var rec domain.RevenueRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, territory_id, checkout_id, fee_minor_units, currency, ledger_entry_id, created_at
		FROM revenue_records WHERE checkout_id = $1`, checkoutID,
	).Scan(&rec.ID, &rec.TerritoryID, &rec.CheckoutID, &rec.FeeMinorUnits, &rec.Currency, &rec.LedgerEntryID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetRevenueByCheckout: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetRevenueByCheckout: %w", err)
	}
	return &rec, nil
}

func (r *ProjectionRepository) AttachRevenueEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error {
	return attachEntry(ctx, tx, "AttachRevenueEntry",
		`UPDATE revenue_records SET ledger_entry_id = $1
		WHERE id = $2 AND (ledger_entry_id IS NULL OR ledger_entry_id = $1)`, id, entryID)
}

func (r *ProjectionRepository) CreateExpense(ctx context.Context, tx *sql.Tx, rec *domain.ExpenseRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO expense_records (id, territory_id, payout_id, amount_minor_units, currency, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TerritoryID, rec.PayoutID, rec.AmountMinorUnits, rec.Currency, rec.LedgerEntryID, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("CreateExpense: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("CreateExpense: %w", err)
	}
	return nil
}

func (r *ProjectionRepository) GetExpenseByPayout(ctx context.Context, payoutID uuid.UUID) (*domain.ExpenseRecord, error) {
	var rec domain.ExpenseRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, territory_id, payout_id, amount_minor_units, currency, ledger_entry_id, created_at
		FROM expense_records WHERE payout_id = $1`, payoutID,
	).Scan(&rec.ID, &rec.TerritoryID, &rec.PayoutID, &rec.AmountMinorUnits, &rec.Currency, &rec.LedgerEntryID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetExpenseByPayout: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetExpenseByPayout: %w", err)
	}
	return &rec, nil
}

func (r *ProjectionRepository) AttachExpenseEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error {
	return attachEntry(ctx, tx, "AttachExpenseEntry",
		`UPDATE expense_records SET ledger_entry_id = $1
		WHERE id = $2 AND (ledger_entry_id IS NULL OR ledger_entry_id = $1)`, id, entryID)
}

func attachEntry(ctx context.Context, tx *sql.Tx, op, query string, id, entryID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, query, entryID, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: already attached to another entry: %w", op, domain.ErrInvalidState)
	}
	return nil
}
