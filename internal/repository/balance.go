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

const balanceColumns = `territory_id, total_revenue_minor_units, total_expenses_minor_units,
	net_balance_minor_units, currency, created_at, updated_at`

type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// AddRevenue and AddExpense are single-statement upserts: the row is created
// with zero totals on first use, and concurrent postings to one territory
// serialize on the row lock. No row comes back when the stored currency
// differs.
func (r *BalanceRepository) AddRevenue(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error) {
	return r.add(ctx, tx, "AddRevenue", territoryID, currency, amount, 0, now)
}

func (r *BalanceRepository) AddExpense(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error) {
	return r.add(ctx, tx, "AddExpense", territoryID, currency, 0, amount, now)
}

func (r *BalanceRepository) add(ctx context.Context, tx *sql.Tx, op string, territoryID uuid.UUID, currency domain.Currency, revenue, expense int64, now time.Time) (*domain.TerritoryBalance, error) {
	if revenue < 0 || expense < 0 {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrInvalidAmount)
	}
	row := tx.QueryRowContext(ctx,
		`INSERT INTO territory_balances AS b (`+balanceColumns+`)
		VALUES ($1, $2, $3, $2 - $3, $4, $5, $5)
		ON CONFLICT (territory_id) DO UPDATE SET
			total_revenue_minor_units = b.total_revenue_minor_units + EXCLUDED.total_revenue_minor_units,
			total_expenses_minor_units = b.total_expenses_minor_units + EXCLUDED.total_expenses_minor_units,
			net_balance_minor_units = (b.total_revenue_minor_units + EXCLUDED.total_revenue_minor_units)
				- (b.total_expenses_minor_units + EXCLUDED.total_expenses_minor_units),
			updated_at = GREATEST(b.updated_at, EXCLUDED.updated_at)
		WHERE b.currency = EXCLUDED.currency
		RETURNING `+balanceColumns,
		territoryID, revenue, expense, currency, now,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrCurrencyMismatch)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func (r *BalanceRepository) Get(ctx context.Context, territoryID uuid.UUID) (*domain.TerritoryBalance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM territory_balances WHERE territory_id = $1`, territoryID,
	)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return b, nil
}

func (r *BalanceRepository) List(ctx context.Context) ([]domain.TerritoryBalance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM territory_balances ORDER BY territory_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var balances []domain.TerritoryBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return balances, nil
}

func scanBalance(s scanner) (*domain.TerritoryBalance, error) {
	var b domain.TerritoryBalance
	err := s.Scan(
		&b.TerritoryID, &b.TotalRevenueMinorUnits, &b.TotalExpensesMinorUnits,
		&b.NetBalanceMinorUnits, &b.Currency, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
