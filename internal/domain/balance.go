package domain

import (
	"time"

	"github.com/google/uuid"
)

// TerritoryBalance holds running totals for one territory. Both totals only
// grow; NetBalanceMinorUnits is always revenue minus expenses. The only
// mutators are AddRevenue and AddExpense.
type TerritoryBalance struct {
	TerritoryID             uuid.UUID
	TotalRevenueMinorUnits  int64
	TotalExpensesMinorUnits int64
	NetBalanceMinorUnits    int64
	Currency                Currency
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func NewTerritoryBalance(territoryID uuid.UUID, currency Currency, now time.Time) *TerritoryBalance {
	return &TerritoryBalance{
		TerritoryID: territoryID,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (b *TerritoryBalance) AddRevenue(amount int64, currency Currency, now time.Time) error {
	if err := b.checkPosting(amount, currency); err != nil {
		return err
	}
	b.TotalRevenueMinorUnits += amount
	b.recompute(now)
	return nil
}

func (b *TerritoryBalance) AddExpense(amount int64, currency Currency, now time.Time) error {
	if err := b.checkPosting(amount, currency); err != nil {
		return err
	}
	b.TotalExpensesMinorUnits += amount
	b.recompute(now)
	return nil
}

func (b *TerritoryBalance) checkPosting(amount int64, currency Currency) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if currency != b.Currency {
		return ErrCurrencyMismatch
	}
	return nil
}

func (b *TerritoryBalance) recompute(now time.Time) {
	b.NetBalanceMinorUnits = b.TotalRevenueMinorUnits - b.TotalExpensesMinorUnits
	b.UpdatedAt = now
}

// RevenueRecord links a checkout's collected fee to the ledger entry that
// posted it.
type RevenueRecord struct {
	ID            uuid.UUID
	TerritoryID   uuid.UUID
	CheckoutID    uuid.UUID
	FeeMinorUnits int64
	Currency      Currency
	LedgerEntryID *uuid.UUID
	CreatedAt     time.Time
}

func (r *RevenueRecord) AttachLedgerEntry(entryID uuid.UUID) error {
	return attachOnce(&r.LedgerEntryID, entryID)
}

// ExpenseRecord links a seller payout to the ledger entry that posted it.
type ExpenseRecord struct {
	ID               uuid.UUID
	TerritoryID      uuid.UUID
	PayoutID         uuid.UUID
	AmountMinorUnits int64
	Currency         Currency
	LedgerEntryID    *uuid.UUID
	CreatedAt        time.Time
}

func (r *ExpenseRecord) AttachLedgerEntry(entryID uuid.UUID) error {
	return attachOnce(&r.LedgerEntryID, entryID)
}

func attachOnce(slot **uuid.UUID, entryID uuid.UUID) error {
	if *slot != nil {
		if **slot == entryID {
			return nil
		}
		return ErrInvalidState
	}
	*slot = &entryID
	return nil
}
