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

func clonePlan(p domain.SubscriptionPlan) domain.SubscriptionPlan {
	p.TerritoryID = ptrClone(p.TerritoryID)
	p.Capabilities = slices.Clone(p.Capabilities)
	p.NumericLimits = maps.Clone(p.NumericLimits)
	p.TextLimits = maps.Clone(p.TextLimits)
	return p
}

func sameScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type PlanRepo struct{ s *Store }

// checkUnique mirrors the code unique key and the one-active-FREE-per-scope
// partial index.
func checkPlanUnique(t *tables, p *domain.SubscriptionPlan) error {
	for _, other := range t.plans {
		if other.ID == p.ID {
			continue
		}
		if other.Code == p.Code {
			return domain.ErrDuplicate
		}
		if p.IsFree() && p.IsActive && other.IsFree() && other.IsActive && sameScope(p.TerritoryID, other.TerritoryID) {
			return domain.ErrDuplicate
		}
	}
	return nil
}

func (r *PlanRepo) Create(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error {
	if err := r.s.fault("Plans.Create"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		if err := checkPlanUnique(t, p); err != nil {
			return fmt.Errorf("Create: %w", err)
		}
		t.plans[p.ID] = clonePlan(*p)
		return nil
	})
}

func (r *PlanRepo) Update(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error {
	if err := r.s.fault("Plans.Update"); err != nil {
		return err
	}
	err := r.s.write(func(t *tables) error {
		cur, ok := t.plans[p.ID]
		if !ok || cur.Version != p.Version {
			return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
		}
		if err := checkPlanUnique(t, p); err != nil {
			return fmt.Errorf("Update: %w", err)
		}
		next := clonePlan(*p)
		next.Version++
		t.plans[p.ID] = next
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *PlanRepo) find(op string, match func(p domain.SubscriptionPlan) bool) (*domain.SubscriptionPlan, error) {
	var out *domain.SubscriptionPlan
	r.s.read(func(t *tables) {
		for _, p := range t.plans {
			if match(p) {
				c := clonePlan(p)
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, notFound(op)
	}
	return out, nil
}

func (r *PlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	return r.find("GetByID", func(p domain.SubscriptionPlan) bool { return p.ID == id })
}

func (r *PlanRepo) GetByCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error) {
	return r.find("GetByCode", func(p domain.SubscriptionPlan) bool { return p.Code == code })
}

func (r *PlanRepo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	return r.GetByID(ctx, id)
}

func (r *PlanRepo) FindDefaultFree(ctx context.Context, territoryID *uuid.UUID) (*domain.SubscriptionPlan, error) {
	return r.find("FindDefaultFree", func(p domain.SubscriptionPlan) bool {
		return p.IsFree() && p.IsActive && sameScope(p.TerritoryID, territoryID)
	})
}

func (r *PlanRepo) List(ctx context.Context, territoryID *uuid.UUID, activeOnly bool) ([]domain.SubscriptionPlan, error) {
	var out []domain.SubscriptionPlan
	r.s.read(func(t *tables) {
		for _, p := range t.plans {
			if activeOnly && !p.IsActive {
				continue
			}
			if p.TerritoryID == nil || sameScope(p.TerritoryID, territoryID) {
				out = append(out, clonePlan(p))
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.SubscriptionPlan) int {
		return cmp.Or(cmp.Compare(a.PricePerCycleMinorUnits, b.PricePerCycleMinorUnits), cmp.Compare(a.Code, b.Code))
	})
	return out, nil
}

func (r *PlanRepo) AppendHistory(ctx context.Context, tx *sql.Tx, h *domain.PlanHistoryRecord) error {
	return r.s.write(func(t *tables) error {
		c := *h
		c.Reason = ptrClone(h.Reason)
		c.Snapshot = slices.Clone(h.Snapshot)
		t.planHistory = append(t.planHistory, c)
		return nil
	})
}

func (r *PlanRepo) ListHistory(ctx context.Context, planID uuid.UUID) ([]domain.PlanHistoryRecord, error) {
	var out []domain.PlanHistoryRecord
	r.s.read(func(t *tables) {
		for _, h := range t.planHistory {
			if h.PlanID == planID {
				out = append(out, h)
			}
		}
	})
	return out, nil
}

func cloneSub(s domain.Subscription) domain.Subscription {
	s.TerritoryID = ptrClone(s.TerritoryID)
	s.TrialStart = ptrClone(s.TrialStart)
	s.TrialEnd = ptrClone(s.TrialEnd)
	s.CanceledAt = ptrClone(s.CanceledAt)
	s.GatewayName = ptrClone(s.GatewayName)
	s.GatewaySubscriptionID = ptrClone(s.GatewaySubscriptionID)
	s.GatewayCustomerID = ptrClone(s.GatewayCustomerID)
	return s
}

type SubscriptionRepo struct{ s *Store }

func checkSubUnique(t *tables, s *domain.Subscription) error {
	for _, other := range t.subs {
		if other.ID == s.ID {
			continue
		}
		if !s.Status.IsTerminal() && !other.Status.IsTerminal() &&
			other.UserID == s.UserID && sameScope(other.TerritoryID, s.TerritoryID) {
			return domain.ErrDuplicate
		}
		if s.HasGateway() && other.HasGateway() && *s.GatewayName == *other.GatewayName &&
			*s.GatewaySubscriptionID == *other.GatewaySubscriptionID {
			return domain.ErrDuplicate
		}
	}
	return nil
}

func (r *SubscriptionRepo) Create(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error {
	if err := r.s.fault("Subscriptions.Create"); err != nil {
		return err
	}
	return r.s.write(func(t *tables) error {
		if err := checkSubUnique(t, s); err != nil {
			return fmt.Errorf("Create: %w", err)
		}
		t.subs[s.ID] = cloneSub(*s)
		return nil
	})
}

func (r *SubscriptionRepo) Update(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error {
	if err := r.s.fault("Subscriptions.Update"); err != nil {
		return err
	}
	err := r.s.write(func(t *tables) error {
		cur, ok := t.subs[s.ID]
		if !ok || cur.Version != s.Version {
			return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
		}
		if err := checkSubUnique(t, s); err != nil {
			return fmt.Errorf("Update: %w", err)
		}
		next := cloneSub(*s)
		next.Version++
		t.subs[s.ID] = next
		return nil
	})
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *SubscriptionRepo) find(op string, match func(s domain.Subscription) bool) (*domain.Subscription, error) {
	var out *domain.Subscription
	r.s.read(func(t *tables) {
		for _, s := range t.subs {
			if match(s) {
				c := cloneSub(s)
				out = &c
				return
			}
		}
	})
	if out == nil {
		return nil, notFound(op)
	}
	return out, nil
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return r.find("GetByID", func(s domain.Subscription) bool { return s.ID == id })
}

func (r *SubscriptionRepo) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Subscription, error) {
	return r.GetByID(ctx, id)
}

func (r *SubscriptionRepo) FindCurrent(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error) {
	return r.find("FindCurrent", func(s domain.Subscription) bool {
		return s.UserID == userID && sameScope(s.TerritoryID, territoryID) && !s.Status.IsTerminal()
	})
}

func (r *SubscriptionRepo) FindByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*domain.Subscription, error) {
	return r.find("FindByGatewayID", func(s domain.Subscription) bool {
		return s.HasGateway() && *s.GatewayName == gateway && *s.GatewaySubscriptionID == gatewaySubscriptionID
	})
}

func (r *SubscriptionRepo) CountActiveBillingByPlan(ctx context.Context, tx *sql.Tx, planID uuid.UUID) (int, error) {
	var n int
	r.s.read(func(t *tables) {
		for _, s := range t.subs {
			if s.PlanID == planID && s.Status.InActiveBilling() {
				n++
			}
		}
	})
	return n, nil
}

func (r *SubscriptionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	var out []domain.Subscription
	r.s.read(func(t *tables) {
		for _, s := range t.subs {
			if s.Status.IsTerminal() {
				continue
			}
			cancelDue := s.CancelAtPeriodEnd && !s.CurrentPeriodEnd.After(now)
			trialDue := s.Status == domain.SubscriptionStatusTrialing && s.TrialEnd != nil && !s.TrialEnd.After(now)
			if cancelDue || trialDue {
				out = append(out, cloneSub(s))
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.Subscription) int { return a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCoupon(c domain.Coupon) domain.Coupon {
	c.Currency = ptrClone(c.Currency)
	c.ValidUntil = ptrClone(c.ValidUntil)
	c.MaxUses = ptrClone(c.MaxUses)
	return c
}

type CouponRepo struct{ s *Store }

func (r *CouponRepo) Create(ctx context.Context, tx *sql.Tx, c *domain.Coupon) error {
	return r.s.write(func(t *tables) error {
		for _, other := range t.coupons {
			if other.Code == c.Code {
				return fmt.Errorf("Create: %w", domain.ErrDuplicate)
			}
		}
		t.coupons[c.ID] = cloneCoupon(*c)
		return nil
	})
}

func (r *CouponRepo) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var out *domain.Coupon
	r.s.read(func(t *tables) {
		for _, c := range t.coupons {
			if c.Code == code {
				cc := cloneCoupon(c)
				out = &cc
			}
		}
	})
	if out == nil {
		return nil, notFound("GetByCode")
	}
	return out, nil
}

func (r *CouponRepo) SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool, now time.Time) error {
	return r.s.write(func(t *tables) error {
		c, ok := t.coupons[id]
		if !ok {
			return notFound("SetActive")
		}
		c.IsActive = active
		c.UpdatedAt = now
		t.coupons[id] = c
		return nil
	})
}

func (r *CouponRepo) Redeem(ctx context.Context, tx *sql.Tx, id uuid.UUID, now time.Time) error {
	return r.s.write(func(t *tables) error {
		c, ok := t.coupons[id]
		if !ok || !c.IsRedeemable(now) {
			return fmt.Errorf("Redeem: %w", domain.ErrCouponNotRedeemable)
		}
		c.UsedCount++
		c.UpdatedAt = now
		t.coupons[id] = c
		return nil
	})
}

func (r *CouponRepo) Attach(ctx context.Context, tx *sql.Tx, sc *domain.SubscriptionCoupon) error {
	return r.s.write(func(t *tables) error {
		if _, ok := t.subCoupons[sc.SubscriptionID]; ok {
			return fmt.Errorf("Attach: %w", domain.ErrCouponAlreadyUsed)
		}
		t.subCoupons[sc.SubscriptionID] = *sc
		return nil
	})
}

func (r *CouponRepo) GetBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.SubscriptionCoupon, error) {
	var (
		sc domain.SubscriptionCoupon
		ok bool
	)
	r.s.read(func(t *tables) { sc, ok = t.subCoupons[subscriptionID] })
	if !ok {
		return nil, notFound("GetBySubscription")
	}
	return &sc, nil
}
