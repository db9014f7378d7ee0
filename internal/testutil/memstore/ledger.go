package memstore

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

func cloneEntry(e domain.LedgerEntry) domain.LedgerEntry {
	e.RelatedTransactionIDs = slices.Clone(e.RelatedTransactionIDs)
	e.Metadata = maps.Clone(e.Metadata)
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	e.RelatedEntityID = ptrClone(e.RelatedEntityID)
	e.RelatedEntityType = ptrClone(e.RelatedEntityType)
	return e
}

type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	if err := r.s.fault("Ledger.Create"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		if _, ok := t.entries[e.ID]; ok {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		t.entries[e.ID] = cloneEntry(*e)
		return nil
	})
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	var (
		e  domain.LedgerEntry
		ok bool
	)
	r.s.read(func(t *tables) { e, ok = t.entries[id] })
	if !ok {
		return nil, notFound("GetByID")
	}
	e = cloneEntry(e)
	return &e, nil
}

func (r *LedgerRepo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.LedgerEntry, error) {
	return r.GetByID(ctx, id)
}

// Update enforces the same immutability as the database trigger: amount,
// currency, type and territory cannot change.
func (r *LedgerRepo) Update(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	if err := r.s.fault("Ledger.Update"); err != nil {
		return err
	}
	err := r.s.write(func(t *tables) error {
		cur, ok := t.entries[e.ID]
		if !ok || cur.Version != e.Version {
			return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
		}
		if cur.AmountMinorUnits != e.AmountMinorUnits || cur.Currency != e.Currency ||
			cur.Type != e.Type || cur.TerritoryID != e.TerritoryID {
			return fmt.Errorf("Update: ledger entry amount, currency, type and territory are immutable")
		}
		next := cloneEntry(*e)
		next.Version++
		t.entries[e.ID] = next
		return nil
	})
	if err != nil {
		return err
	}
	e.Version++
	return nil
}

func (r *LedgerRepo) FindByGatewayReference(ctx context.Context, gateway, ref string) (*domain.LedgerEntry, error) {
	var found []domain.LedgerEntry
	r.s.read(func(t *tables) {
		for _, e := range t.entries {
			if e.Metadata[domain.MetadataGatewayName] == gateway && e.Metadata[domain.MetadataGatewayReference] == ref {
				found = append(found, cloneEntry(e))
			}
		}
	})
	if len(found) == 0 {
		return nil, notFound("FindByGatewayReference")
	}
	slices.SortFunc(found, func(a, b domain.LedgerEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return &found[0], nil
}

func (r *LedgerRepo) ListByRelatedEntity(ctx context.Context, typ domain.RelatedEntityType, id uuid.UUID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	r.s.read(func(t *tables) {
		for _, e := range t.entries {
			if e.RelatedEntityType != nil && *e.RelatedEntityType == typ && *e.RelatedEntityID == id {
				out = append(out, cloneEntry(e))
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.LedgerEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *LedgerRepo) ListByTerritory(ctx context.Context, territoryID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var all []domain.LedgerEntry
	r.s.read(func(t *tables) {
		for _, e := range t.entries {
			if e.TerritoryID == territoryID {
				all = append(all, cloneEntry(e))
			}
		}
	})
	slices.SortFunc(all, func(a, b domain.LedgerEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *LedgerRepo) SumSettled(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, from, to time.Time) (int64, error) {
	if err := r.s.fault("Ledger.SumSettled"); err != nil {
		return 0, err
	}
	var sum int64
	r.s.read(func(t *tables) {
		for _, e := range t.entries {
			if e.TerritoryID != territoryID || e.Currency != currency || !e.Status.IsSettled() {
				continue
			}
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
			sum += e.Type.SettlementSign() * e.AmountMinorUnits
		}
	})
	return sum, nil
}

// Entries returns every stored entry, oldest first.
func (r *LedgerRepo) Entries() []domain.LedgerEntry {
	var out []domain.LedgerEntry
	r.s.read(func(t *tables) {
		for _, e := range t.entries {
			out = append(out, cloneEntry(e))
		}
	})
	slices.SortFunc(out, func(a, b domain.LedgerEntry) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out
}

type HistoryRepo struct{ s *Store }

func (r *HistoryRepo) Append(ctx context.Context, tx *sql.Tx, rec *domain.StatusHistoryRecord) error {
	if err := r.s.fault("History.Append"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		for _, h := range t.history {
			if h.LedgerEntryID == rec.LedgerEntryID && h.ChangedAt.Equal(rec.ChangedAt) {
				return fmt.Errorf("Append: %w", domain.ErrDuplicate)
			}
		}
		c := *rec
		c.ChangedByActorID = ptrClone(rec.ChangedByActorID)
		c.Reason = ptrClone(rec.Reason)
		t.history = append(t.history, c)
		return nil
	})
}

func (r *HistoryRepo) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]domain.StatusHistoryRecord, error) {
	var out []domain.StatusHistoryRecord
	r.s.read(func(t *tables) {
		for _, h := range t.history {
			if h.LedgerEntryID == entryID {
				out = append(out, h)
			}
		}
	})
	slices.SortStableFunc(out, func(a, b domain.StatusHistoryRecord) int { return a.ChangedAt.Compare(b.ChangedAt) })
	return out, nil
}

type BalanceRepo struct{ s *Store }

func (r *BalanceRepo) AddRevenue(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error) {
	return r.add("AddRevenue", territoryID, currency, now, func(b *domain.TerritoryBalance) error {
		return b.AddRevenue(amount, currency, now)
	})
}

func (r *BalanceRepo) AddExpense(ctx context.Context, tx *sql.Tx, territoryID uuid.UUID, currency domain.Currency, amount int64, now time.Time) (*domain.TerritoryBalance, error) {
	return r.add("AddExpense", territoryID, currency, now, func(b *domain.TerritoryBalance) error {
		return b.AddExpense(amount, currency, now)
	})
}

func (r *BalanceRepo) add(op string, territoryID uuid.UUID, currency domain.Currency, now time.Time, apply func(b *domain.TerritoryBalance) error) (*domain.TerritoryBalance, error) {
	if err := r.s.fault("Balances." + op); err != nil {
		return nil, err
	}
	var out domain.TerritoryBalance
	err := r.s.write(func(t *tables) error {
		b, ok := t.balances[territoryID]
		if !ok {
			b = *domain.NewTerritoryBalance(territoryID, currency, now)
		}
		if err := apply(&b); err != nil {
			return err
		}
		t.balances[territoryID] = b
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &out, nil
}

func (r *BalanceRepo) Get(ctx context.Context, territoryID uuid.UUID) (*domain.TerritoryBalance, error) {
	var (
		b  domain.TerritoryBalance
		ok bool
	)
	r.s.read(func(t *tables) { b, ok = t.balances[territoryID] })
	if !ok {
		return nil, notFound("Get")
	}
	return &b, nil
}

func (r *BalanceRepo) List(ctx context.Context) ([]domain.TerritoryBalance, error) {
	var out []domain.TerritoryBalance
	r.s.read(func(t *tables) {
		for _, b := range t.balances {
			out = append(out, b)
		}
	})
	slices.SortFunc(out, func(a, b domain.TerritoryBalance) int {
		return cmp.Compare(a.TerritoryID.String(), b.TerritoryID.String())
	})
	return out, nil
}

type ProjectionRepo struct{ s *Store }

func (r *ProjectionRepo) CreateRevenue(ctx context.Context, tx *sql.Tx, rec *domain.RevenueRecord) error {
	if err := r.s.fault("Projections.CreateRevenue"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		for _, existing := range t.revenue {
			if existing.CheckoutID == rec.CheckoutID {
				return fmt.Errorf("CreateRevenue: %w", domain.ErrDuplicate)
			}
		}
		c := *rec
		c.LedgerEntryID = ptrClone(rec.LedgerEntryID)
		t.revenue[rec.ID] = c
		return nil
	})
}

func (r *ProjectionRepo) GetRevenueByCheckout(ctx context.Context, checkoutID uuid.UUID) (*domain.RevenueRecord, error) {
	var out *domain.RevenueRecord
	r.s.read(func(t *tables) {
		for _, rec := range t.revenue {
			if rec.CheckoutID == checkoutID {
				c := rec
				c.LedgerEntryID = ptrClone(rec.LedgerEntryID)
				out = &c
			}
		}
	})
	if out == nil {
		return nil, notFound("GetRevenueByCheckout")
	}
	return out, nil
}

func (r *ProjectionRepo) AttachRevenueEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error {
	return r.s.write(func(t *tables) error {
		rec, ok := t.revenue[id]
		if !ok || rec.LedgerEntryID != nil {
			return fmt.Errorf("AttachRevenueEntry: %w", domain.ErrInvalidState)
		}
		rec.LedgerEntryID = &entryID
		t.revenue[id] = rec
		return nil
	})
}

func (r *ProjectionRepo) CreateExpense(ctx context.Context, tx *sql.Tx, rec *domain.ExpenseRecord) error {
	if err := r.s.fault("Projections.CreateExpense"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		for _, existing := range t.expenses {
			if existing.PayoutID == rec.PayoutID {
				return fmt.Errorf("CreateExpense: %w", domain.ErrDuplicate)
			}
		}
		c := *rec
		c.LedgerEntryID = ptrClone(rec.LedgerEntryID)
		t.expenses[rec.ID] = c
		return nil
	})
}

func (r *ProjectionRepo) GetExpenseByPayout(ctx context.Context, payoutID uuid.UUID) (*domain.ExpenseRecord, error) {
	var out *domain.ExpenseRecord
	r.s.read(func(t *tables) {
		for _, rec := range t.expenses {
			if rec.PayoutID == payoutID {
				c := rec
				c.LedgerEntryID = ptrClone(rec.LedgerEntryID)
				out = &c
			}
		}
	})
	if out == nil {
		return nil, notFound("GetExpenseByPayout")
	}
	return out, nil
}

func (r *ProjectionRepo) AttachExpenseEntry(ctx context.Context, tx *sql.Tx, id, entryID uuid.UUID) error {
	return r.s.write(func(t *tables) error {
		rec, ok := t.expenses[id]
		if !ok || rec.LedgerEntryID != nil {
			return fmt.Errorf("AttachExpenseEntry: %w", domain.ErrInvalidState)
		}
		rec.LedgerEntryID = &entryID
		t.expenses[id] = rec
		return nil
	})
}
