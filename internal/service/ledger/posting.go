package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// Posting lets another service post ledger entries inside its own unit of
// work. Call Reset at the start of every attempt and Publish once the unit
// of work has committed.
type Posting struct {
	s *Service
	j journal
}

func (s *Service) NewPosting() *Posting {
	return &Posting{s: s}
}

func (p *Posting) Reset() { p.j.reset() }

// Post books an entry already at status, with its balance effect.
func (p *Posting) Post(ctx context.Context, tx *sql.Tx, params domain.NewLedgerEntryParams, status domain.TransactionStatus) (*domain.LedgerEntry, error) {
	e, err := p.s.post(ctx, tx, &p.j, params, status, p.s.now())
	if err != nil {
		return nil, fmt.Errorf("Post: %w", err)
	}
	return e, nil
}

func (p *Posting) Publish() { p.s.publish(&p.j) }
