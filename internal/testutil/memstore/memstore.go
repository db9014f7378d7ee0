// Package memstore is an in-memory stand-in for the Postgres repositories,
// used by service tests that do not need a database. It honours the same
// uniqueness rules, optimistic versions and sentinel errors, and rolls a
// unit of work back when it returns an error.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type tables struct {
	entries     map[uuid.UUID]domain.LedgerEntry
	history     []domain.StatusHistoryRecord
	balances    map[uuid.UUID]domain.TerritoryBalance
	revenue     map[uuid.UUID]domain.RevenueRecord
	expenses    map[uuid.UUID]domain.ExpenseRecord
	recons      map[uuid.UUID]domain.ReconciliationRecord
	revisions   []domain.ReconciliationRevision
	plans       map[uuid.UUID]domain.SubscriptionPlan
	planHistory []domain.PlanHistoryRecord
	subs        map[uuid.UUID]domain.Subscription
	coupons     map[uuid.UUID]domain.Coupon
	subCoupons  map[uuid.UUID]domain.SubscriptionCoupon
	events      map[uuid.UUID]domain.GatewayEvent
}

func newTables() tables {
	return tables{
		entries:    map[uuid.UUID]domain.LedgerEntry{},
		balances:   map[uuid.UUID]domain.TerritoryBalance{},
		revenue:    map[uuid.UUID]domain.RevenueRecord{},
		expenses:   map[uuid.UUID]domain.ExpenseRecord{},
		recons:     map[uuid.UUID]domain.ReconciliationRecord{},
		plans:      map[uuid.UUID]domain.SubscriptionPlan{},
		subs:       map[uuid.UUID]domain.Subscription{},
		coupons:    map[uuid.UUID]domain.Coupon{},
		subCoupons: map[uuid.UUID]domain.SubscriptionCoupon{},
		events:     map[uuid.UUID]domain.GatewayEvent{},
	}
}

// clone copies the table maps. Stored values are never mutated in place, so
// a shallow copy is enough to restore them.
func (t tables) clone() tables {
	return tables{
		entries:     maps.Clone(t.entries),
		history:     slices.Clone(t.history),
		balances:    maps.Clone(t.balances),
		revenue:     maps.Clone(t.revenue),
		expenses:    maps.Clone(t.expenses),
		recons:      maps.Clone(t.recons),
		revisions:   slices.Clone(t.revisions),
		plans:       maps.Clone(t.plans),
		planHistory: slices.Clone(t.planHistory),
		subs:        maps.Clone(t.subs),
		coupons:     maps.Clone(t.coupons),
		subCoupons:  maps.Clone(t.subCoupons),
		events:      maps.Clone(t.events),
	}
}

// Store holds every table. Units of work run one at a time; reads outside a
// unit of work may observe its uncommitted writes.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	t    tables

	faultMu sync.Mutex
	faults  map[string]error
}

func New() *Store {
	return &Store{t: newTables(), faults: map[string]error{}}
}

// Do runs fn with a nil transaction and restores every table if it fails.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.t.clone()
	s.mu.RUnlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.t = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Fail makes every call to op return err until Heal is called. Op names are
// "<Repo>.<Method>", for example "Ledger.Create".
func (s *Store) Fail(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) Heal(op string) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	delete(s.faults, op)
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) read(fn func(t *tables)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.t)
}

func (s *Store) write(fn func(t *tables) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.t)
}

func (s *Store) Ledger() *LedgerRepo                  { return &LedgerRepo{s} }
func (s *Store) History() *HistoryRepo                { return &HistoryRepo{s} }
func (s *Store) Balances() *BalanceRepo               { return &BalanceRepo{s} }
func (s *Store) Projections() *ProjectionRepo         { return &ProjectionRepo{s} }
func (s *Store) Reconciliations() *ReconciliationRepo { return &ReconciliationRepo{s} }
func (s *Store) Plans() *PlanRepo                     { return &PlanRepo{s} }
func (s *Store) Subscriptions() *SubscriptionRepo     { return &SubscriptionRepo{s} }
func (s *Store) Coupons() *CouponRepo                 { return &CouponRepo{s} }
func (s *Store) GatewayEvents() *GatewayEventRepo     { return &GatewayEventRepo{s} }

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
}

func ptrClone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
