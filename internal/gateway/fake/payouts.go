package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/gateway"
)

var (
	ErrUnknownPayout = errors.New("unknown payout")
	ErrPayoutSettled = errors.New("payout already settled")
)

// Payouts is an in-memory gateway.PayoutGateway. Payouts are idempotent on
// the caller's payout ID.
type Payouts struct {
	faults
	name string

	mu       sync.Mutex
	statuses map[string]gateway.PayoutStatus
	byPayout map[uuid.UUID]string
}

func NewPayouts(name string) *Payouts {
	return &Payouts{
		name:     name,
		statuses: make(map[string]gateway.PayoutStatus),
		byPayout: make(map[uuid.UUID]string),
	}
}

func (p *Payouts) Name() string { return p.name }

func (p *Payouts) CreatePayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	if err := p.hit("create_payout"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byPayout[req.PayoutID]; ok {
		return &gateway.Payout{ID: id, Status: p.statuses[id]}, nil
	}
	id := newID("po")
	p.statuses[id] = gateway.PayoutStatusPending
	p.byPayout[req.PayoutID] = id
	return &gateway.Payout{ID: id, Status: gateway.PayoutStatusPending}, nil
}

func (p *Payouts) GetPayoutStatus(ctx context.Context, payoutID string) (gateway.PayoutStatus, error) {
	if err := p.hit("get_payout_status"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[payoutID]
	if !ok {
		return "", ErrUnknownPayout
	}
	return s, nil
}

func (p *Payouts) CancelPayout(ctx context.Context, payoutID string) error {
	if err := p.hit("cancel_payout"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[payoutID]
	if !ok {
		return ErrUnknownPayout
	}
	switch s {
	case gateway.PayoutStatusCanceled:
		return gateway.ErrAlreadyInState
	case gateway.PayoutStatusPaid, gateway.PayoutStatusFailed:
		return ErrPayoutSettled
	}
	p.statuses[payoutID] = gateway.PayoutStatusCanceled
	return nil
}

// SetStatus moves a payout as the processor would on its own schedule.
func (p *Payouts) SetStatus(payoutID string, status gateway.PayoutStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[payoutID] = status
}
