package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// AddRevenue increments a territory's revenue total, creating the balance on
// first use. Negative amounts are rejected.
func (s *Service) AddRevenue(ctx context.Context, territoryID uuid.UUID, amount int64, currency domain.Currency) (*domain.TerritoryBalance, error) {
	b, err := s.addToBalance(ctx, territoryID, amount, currency, domain.DirectionRevenue)
	if err != nil {
		return nil, fmt.Errorf("AddRevenue: %w", err)
	}
	return b, nil
}

func (s *Service) AddExpense(ctx context.Context, territoryID uuid.UUID, amount int64, currency domain.Currency) (*domain.TerritoryBalance, error) {
	b, err := s.addToBalance(ctx, territoryID, amount, currency, domain.DirectionExpense)
	if err != nil {
		return nil, fmt.Errorf("AddExpense: %w", err)
	}
	return b, nil
}

func (s *Service) addToBalance(ctx context.Context, territoryID uuid.UUID, amount int64, currency domain.Currency, d domain.BalanceDirection) (*domain.TerritoryBalance, error) {
	if amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !currency.IsValid() {
		return nil, domain.NewValidationError("currency", "must be an ISO 4217 code")
	}

	var b *domain.TerritoryBalance
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if d == domain.DirectionRevenue {
			b, err = s.balances.AddRevenue(ctx, tx, territoryID, currency, amount, s.now())
		} else {
			b, err = s.balances.AddExpense(ctx, tx, territoryID, currency, amount, s.now())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.observer.BalanceChanged(d, currency, amount)
	return b, nil
}

func (s *Service) GetBalance(ctx context.Context, territoryID uuid.UUID) (*domain.TerritoryBalance, error) {
	b, err := s.balances.Get(ctx, territoryID)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return b, nil
}
