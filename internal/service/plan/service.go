// Package plan administers subscription plans and resolves the plan that
// governs a user's capabilities and limits.
package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type planRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error
	Update(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error)
	GetByCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.SubscriptionPlan, error)
	FindDefaultFree(ctx context.Context, territoryID *uuid.UUID) (*domain.SubscriptionPlan, error)
	List(ctx context.Context, territoryID *uuid.UUID, activeOnly bool) ([]domain.SubscriptionPlan, error)
	AppendHistory(ctx context.Context, tx *sql.Tx, h *domain.PlanHistoryRecord) error
	ListHistory(ctx context.Context, planID uuid.UUID) ([]domain.PlanHistoryRecord, error)
}

type subscriptionReader interface {
	FindCurrent(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error)
	CountActiveBillingByPlan(ctx context.Context, tx *sql.Tx, planID uuid.UUID) (int, error)
}

type Service struct {
	uow   unitOfWork
	plans planRepo
	subs  subscriptionReader
	now   func() time.Time
}

func NewService(uow unitOfWork, plans planRepo, subs subscriptionReader) *Service {
	return &Service{
		uow:   uow,
		plans: plans,
		subs:  subs,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type CreatePlanRequest struct {
	Code                    string
	Name                    string
	Description             string
	Tier                    domain.PlanTier
	TerritoryID             *uuid.UUID
	PricePerCycleMinorUnits int64
	Currency                domain.Currency
	BillingCycle            domain.BillingCycle
	Capabilities            []domain.Capability
	NumericLimits           map[string]int64
	TextLimits              map[string]string
	TrialDays               int
	Inactive                bool
	ActorID                 uuid.UUID
	Reason                  *string
}

func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest) (*domain.SubscriptionPlan, error) {
	now := s.now()
	scope := domain.PlanScopeGlobal
	if req.TerritoryID != nil {
		scope = domain.PlanScopeTerritory
	}
	p := &domain.SubscriptionPlan{
		ID:                      uuid.New(),
		Code:                    req.Code,
		Name:                    req.Name,
		Description:             req.Description,
		Tier:                    req.Tier,
		Scope:                   scope,
		TerritoryID:             req.TerritoryID,
		PricePerCycleMinorUnits: req.PricePerCycleMinorUnits,
		Currency:                req.Currency,
		BillingCycle:            req.BillingCycle,
		Capabilities:            dedupe(req.Capabilities),
		NumericLimits:           orEmpty(req.NumericLimits),
		TextLimits:              orEmpty(req.TextLimits),
		TrialDays:               req.TrialDays,
		IsActive:                !req.Inactive,
		Version:                 1,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := p.CheckIntegrity(); err != nil {
		return nil, fmt.Errorf("CreatePlan: %w", err)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.plans.Create(ctx, tx, p); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, p, domain.PlanChangeCreated, req.ActorID, req.Reason, now)
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePlan: %w", err)
	}

	logging.FromContext(ctx).Info("plan created",
		"plan_id", p.ID, "code", p.Code, "tier", p.Tier, "scope", p.Scope, "actor_id", req.ActorID)
	return p, nil
}

// UpdatePlanRequest changes only the fields that are set. Tier, scope and
// territory are fixed once a plan exists.
type UpdatePlanRequest struct {
	Name                    *string
	Description             *string
	PricePerCycleMinorUnits *int64
	BillingCycle            *domain.BillingCycle
	NumericLimits           map[string]int64
	TextLimits              map[string]string
	TrialDays               *int
	ActorID                 uuid.UUID
	Reason                  *string
}

func (s *Service) UpdatePlan(ctx context.Context, id uuid.UUID, req UpdatePlanRequest) (*domain.SubscriptionPlan, error) {
	p, err := s.mutate(ctx, id, domain.PlanChangeUpdated, req.ActorID, req.Reason, func(p *domain.SubscriptionPlan) error {
		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.PricePerCycleMinorUnits != nil {
			p.PricePerCycleMinorUnits = *req.PricePerCycleMinorUnits
		}
		if req.BillingCycle != nil {
			p.BillingCycle = *req.BillingCycle
		}
		if req.NumericLimits != nil {
			p.NumericLimits = maps.Clone(req.NumericLimits)
		}
		if req.TextLimits != nil {
			p.TextLimits = maps.Clone(req.TextLimits)
		}
		if req.TrialDays != nil {
			p.TrialDays = *req.TrialDays
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePlan: %w", err)
	}
	return p, nil
}

func (s *Service) SetCapabilities(ctx context.Context, id uuid.UUID, caps []domain.Capability, actorID uuid.UUID, reason *string) (*domain.SubscriptionPlan, error) {
	p, err := s.mutate(ctx, id, domain.PlanChangeCapabilitiesChanged, actorID, reason, func(p *domain.SubscriptionPlan) error {
		p.Capabilities = dedupe(caps)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SetCapabilities: %w", err)
	}
	return p, nil
}

func (s *Service) ActivatePlan(ctx context.Context, id uuid.UUID, actorID uuid.UUID, reason *string) (*domain.SubscriptionPlan, error) {
	p, err := s.mutate(ctx, id, domain.PlanChangeActivated, actorID, reason, func(p *domain.SubscriptionPlan) error {
		p.IsActive = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ActivatePlan: %w", err)
	}
	return p, nil
}

// DeactivatePlan retires a plan. It is refused while any subscription on the
// plan is still being billed, and for the global FREE plan, which is the
// default of last resort.
func (s *Service) DeactivatePlan(ctx context.Context, id uuid.UUID, actorID uuid.UUID, reason *string) (*domain.SubscriptionPlan, error) {
	check := func(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error {
		if p.IsFree() && p.Scope == domain.PlanScopeGlobal {
			return fmt.Errorf("global FREE plan cannot be deactivated: %w", domain.ErrInvalidState)
		}
		n, err := s.subs.CountActiveBillingByPlan(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d subscriptions: %w", n, domain.ErrPlanHasSubscribers)
		}
		p.IsActive = false
		return nil
	}
	p, err := s.mutateTx(ctx, id, domain.PlanChangeDeactivated, actorID, reason, check)
	if err != nil {
		return nil, fmt.Errorf("DeactivatePlan: %w", err)
	}
	return p, nil
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, change domain.PlanChangeType, actorID uuid.UUID, reason *string, fn func(p *domain.SubscriptionPlan) error) (*domain.SubscriptionPlan, error) {
	return s.mutateTx(ctx, id, change, actorID, reason, func(_ context.Context, _ *sql.Tx, p *domain.SubscriptionPlan) error {
		return fn(p)
	})
}

// mutateTx locks the plan, applies fn, re-checks integrity and appends one
// history record, all in one unit of work.
func (s *Service) mutateTx(ctx context.Context, id uuid.UUID, change domain.PlanChangeType, actorID uuid.UUID, reason *string, fn func(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan) error) (*domain.SubscriptionPlan, error) {
	if actorID == uuid.Nil {
		return nil, domain.NewValidationError("actor_id", "required")
	}
	var plan *domain.SubscriptionPlan
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := s.now()
		p, err := s.plans.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, p); err != nil {
			return err
		}
		if err := p.CheckIntegrity(); err != nil {
			return err
		}
		p.UpdatedAt = now
		if err := s.plans.Update(ctx, tx, p); err != nil {
			return err
		}
		plan = p
		return s.appendHistory(ctx, tx, p, change, actorID, reason, now)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("plan changed",
		"plan_id", plan.ID, "code", plan.Code, "change", change, "actor_id", actorID, "active", plan.IsActive)
	return plan, nil
}

type planSnapshot struct {
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	Tier          domain.PlanTier     `json:"tier"`
	Scope         domain.PlanScope    `json:"scope"`
	TerritoryID   *uuid.UUID          `json:"territory_id,omitempty"`
	Price         int64               `json:"price_per_cycle_minor_units"`
	Currency      domain.Currency     `json:"currency"`
	BillingCycle  domain.BillingCycle `json:"billing_cycle"`
	Capabilities  []domain.Capability `json:"capabilities"`
	NumericLimits map[string]int64    `json:"numeric_limits"`
	TextLimits    map[string]string   `json:"text_limits"`
	TrialDays     int                 `json:"trial_days"`
	IsActive      bool                `json:"is_active"`
	Version       int64               `json:"version"`
}

func (s *Service) appendHistory(ctx context.Context, tx *sql.Tx, p *domain.SubscriptionPlan, change domain.PlanChangeType, actorID uuid.UUID, reason *string, now time.Time) error {
	if actorID == uuid.Nil {
		return domain.NewValidationError("actor_id", "required")
	}
	snap, err := json.Marshal(planSnapshot{
		Code: p.Code, Name: p.Name, Tier: p.Tier, Scope: p.Scope, TerritoryID: p.TerritoryID,
		Price: p.PricePerCycleMinorUnits, Currency: p.Currency, BillingCycle: p.BillingCycle,
		Capabilities: p.Capabilities, NumericLimits: p.NumericLimits, TextLimits: p.TextLimits,
		TrialDays: p.TrialDays, IsActive: p.IsActive, Version: p.Version,
	})
	if err != nil {
		return fmt.Errorf("snapshot plan: %w", err)
	}
	return s.plans.AppendHistory(ctx, tx, &domain.PlanHistoryRecord{
		ID:         uuid.New(),
		PlanID:     p.ID,
		ChangeType: change,
		ActorID:    actorID,
		Reason:     reason,
		Snapshot:   snap,
		CreatedAt:  now,
	})
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetPlan: %w", err)
	}
	return p, nil
}

func (s *Service) GetPlanByCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error) {
	p, err := s.plans.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("GetPlanByCode: %w", err)
	}
	return p, nil
}

func (s *Service) ListPlans(ctx context.Context, territoryID *uuid.UUID, activeOnly bool) ([]domain.SubscriptionPlan, error) {
	plans, err := s.plans.List(ctx, territoryID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("ListPlans: %w", err)
	}
	return plans, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]domain.PlanHistoryRecord, error) {
	h, err := s.plans.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return h, nil
}

// ActivePlan returns the plan if it exists, is active and can be used in the
// subscription's scope.
func (s *Service) ActivePlan(ctx context.Context, id uuid.UUID, territoryID *uuid.UUID) (*domain.SubscriptionPlan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ActivePlan: %w", err)
	}
	if !p.IsActive {
		return nil, fmt.Errorf("ActivePlan: %s: %w", p.Code, domain.ErrPlanInactive)
	}
	if !p.AppliesTo(territoryID) {
		return nil, fmt.Errorf("ActivePlan: %w", domain.NewValidationError("plan_id", "plan is not offered in this territory"))
	}
	return p, nil
}

func dedupe(caps []domain.Capability) []domain.Capability {
	out := make([]domain.Capability, 0, len(caps))
	for _, c := range caps {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return maps.Clone(m)
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
