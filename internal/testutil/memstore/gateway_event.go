package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type GatewayEventRepo struct{ s *Store }

func (r *GatewayEventRepo) Create(ctx context.Context, event *domain.GatewayEvent) error {
	return r.s.write(func(t *tables) error {
		for _, other := range t.events {
			if other.Gateway == event.Gateway && other.PayloadHash == event.PayloadHash {
				return fmt.Errorf("Create: %w", domain.ErrDuplicate)
			}
		}
		c := *event
		c.Payload = slices.Clone(event.Payload)
		t.events[event.ID] = c
		return nil
	})
}

func (r *GatewayEventRepo) ClaimPending(ctx context.Context, limit int) ([]domain.GatewayEvent, error) {
	var out []domain.GatewayEvent
	_ = r.s.write(func(t *tables) error {
		var pending []domain.GatewayEvent
		for _, e := range t.events {
			if e.Status == domain.GatewayEventStatusPending {
				pending = append(pending, e)
			}
		}
		slices.SortFunc(pending, func(a, b domain.GatewayEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
		if len(pending) > limit {
			pending = pending[:limit]
		}
		now := time.Now().UTC()
		for _, e := range pending {
			e.Attempts++
			e.LastAttempt = &now
			t.events[e.ID] = e
			out = append(out, e)
		}
		return nil
	})
	return out, nil
}

func (r *GatewayEventRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.GatewayEventStatus, lastError *string) error {
	return r.s.write(func(t *tables) error {
		e, ok := t.events[id]
		if !ok {
			return notFound("UpdateStatus")
		}
		e.Status = status
		e.LastError = ptrClone(lastError)
		t.events[id] = e
		return nil
	})
}

func (r *GatewayEventRepo) CountByStatus(ctx context.Context) (map[domain.GatewayEventStatus]int, error) {
	counts := map[domain.GatewayEventStatus]int{}
	r.s.read(func(t *tables) {
		for _, e := range t.events {
			counts[e.Status]++
		}
	})
	return counts, nil
}

func (r *GatewayEventRepo) Get(id uuid.UUID) (domain.GatewayEvent, bool) {
	var (
		e  domain.GatewayEvent
		ok bool
	)
	r.s.read(func(t *tables) { e, ok = t.events[id] })
	return e, ok
}
