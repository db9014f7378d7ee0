package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type settlementKey struct {
	territory uuid.UUID
	currency  domain.Currency
	date      time.Time
}

// Settlements is an in-memory gateway.SettlementReporter. Days without a
// reported figure settle to zero.
type Settlements struct {
	faults
	name string

	mu      sync.Mutex
	amounts map[settlementKey]int64
}

func NewSettlements(name string) *Settlements {
	return &Settlements{name: name, amounts: make(map[settlementKey]int64)}
}

func (s *Settlements) Name() string { return s.name }

func (s *Settlements) Report(territoryID uuid.UUID, currency domain.Currency, date time.Time, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts[settlementKey{territoryID, currency, domain.TruncateToDate(date)}] = amount
}

func (s *Settlements) SettledAmount(ctx context.Context, territoryID uuid.UUID, currency domain.Currency, date time.Time) (int64, error) {
	if err := s.hit("settled_amount"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amounts[settlementKey{territoryID, currency, domain.TruncateToDate(date)}], nil
}
