package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
)

var (
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrSubscriptionEnded   = errors.New("subscription has ended")
)

// Subscriptions is an in-memory gateway.SubscriptionGateway.
type Subscriptions struct {
	faults
	name string

	mu   sync.Mutex
	subs map[string]*gateway.SubscriptionState
	Now  func() time.Time
}

func NewSubscriptions(name string) *Subscriptions {
	return &Subscriptions{
		name: name,
		subs: make(map[string]*gateway.SubscriptionState),
		Now:  utcNow,
	}
}

func (s *Subscriptions) Name() string { return s.name }

func (s *Subscriptions) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.SubscriptionState, error) {
	if err := s.hit("create_subscription"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.Now()
	st := &gateway.SubscriptionState{
		ID:                 newID("sub"),
		CustomerID:         newID("cus"),
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   req.BillingCycle.PeriodEnd(now),
	}
	if req.CustomerID != nil {
		st.CustomerID = *req.CustomerID
	}
	if req.TrialDays > 0 {
		st.Status = domain.SubscriptionStatusTrialing
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[st.ID] = st
	cp := *st
	return &cp, nil
}

func (s *Subscriptions) UpdateSubscription(ctx context.Context, id string, req gateway.SubscriptionRequest) (*gateway.SubscriptionState, error) {
	if err := s.hit("update_subscription"); err != nil {
		return nil, err
	}
	return s.mutate(id, func(st *gateway.SubscriptionState) error {
		if st.Status.IsTerminal() {
			return ErrSubscriptionEnded
		}
		now := s.Now()
		st.CurrentPeriodStart = now
		st.CurrentPeriodEnd = req.BillingCycle.PeriodEnd(now)
		if st.Status == domain.SubscriptionStatusTrialing && req.TrialDays == 0 {
			st.Status = domain.SubscriptionStatusActive
		}
		return nil
	})
}

func (s *Subscriptions) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*gateway.SubscriptionState, error) {
	if err := s.hit("cancel_subscription"); err != nil {
		return nil, err
	}
	return s.mutate(id, func(st *gateway.SubscriptionState) error {
		if st.Status.IsTerminal() || (atPeriodEnd && st.CancelAtPeriodEnd) {
			return gateway.ErrAlreadyInState
		}
		if atPeriodEnd {
			st.CancelAtPeriodEnd = true
		} else {
			st.Status = domain.SubscriptionStatusCanceled
			st.CancelAtPeriodEnd = false
		}
		return nil
	})
}

func (s *Subscriptions) ReactivateSubscription(ctx context.Context, id string) (*gateway.SubscriptionState, error) {
	if err := s.hit("reactivate_subscription"); err != nil {
		return nil, err
	}
	return s.mutate(id, func(st *gateway.SubscriptionState) error {
		if st.Status.IsTerminal() {
			return ErrSubscriptionEnded
		}
		if !st.CancelAtPeriodEnd {
			return gateway.ErrAlreadyInState
		}
		st.CancelAtPeriodEnd = false
		return nil
	})
}

func (s *Subscriptions) GetSubscription(ctx context.Context, id string) (*gateway.SubscriptionState, error) {
	if err := s.hit("get_subscription"); err != nil {
		return nil, err
	}
	return s.mutate(id, func(*gateway.SubscriptionState) error { return nil })
}

// SetStatus changes a subscription's status as the processor would after a
// billing event.
func (s *Subscriptions) SetStatus(id string, status domain.SubscriptionStatus) error {
	_, err := s.mutate(id, func(st *gateway.SubscriptionState) error {
		st.Status = status
		return nil
	})
	return err
}

func (s *Subscriptions) mutate(id string, fn func(*gateway.SubscriptionState) error) (*gateway.SubscriptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.subs[id]
	if !ok {
		return nil, ErrUnknownSubscription
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	cp := *st
	return &cp, nil
}
