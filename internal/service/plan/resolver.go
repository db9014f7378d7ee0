package plan

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type Source string

const (
	SourceSubscription     Source = "subscription"
	SourceTerritoryDefault Source = "territory_default"
	SourceGlobalDefault    Source = "global_default"
)

// Effective is the plan that governs a user in a scope and where it came
// from. Subscription is nil when a default FREE plan applies.
type Effective struct {
	Plan         *domain.SubscriptionPlan
	Subscription *domain.Subscription
	Source       Source
}

// ResolveEffectivePlan finds the plan to enforce for a user. A subscription
// that grants access wins; otherwise the territory's FREE plan, then the
// global FREE plan. Nothing is written: having no subscription simply means
// FREE. Finding no FREE plan at all is a deployment defect.
func (s *Service) ResolveEffectivePlan(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*Effective, error) {
	scopes := []*uuid.UUID{territoryID}
	if territoryID != nil {
		scopes = append(scopes, nil)
	}

	for _, scope := range scopes {
		sub, err := s.subs.FindCurrent(ctx, userID, scope)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("ResolveEffectivePlan: %w", err)
		}
		if !sub.Status.GrantsAccess() {
			continue
		}
		p, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("ResolveEffectivePlan: plan %s: %w", sub.PlanID, err)
		}
		return &Effective{Plan: p, Subscription: sub, Source: SourceSubscription}, nil
	}

	p, source, err := s.DefaultFree(ctx, territoryID)
	if err != nil {
		return nil, fmt.Errorf("ResolveEffectivePlan: %w", err)
	}
	return &Effective{Plan: p, Source: source}, nil
}

// DefaultFree returns the territory's FREE plan, falling back to the global
// one.
func (s *Service) DefaultFree(ctx context.Context, territoryID *uuid.UUID) (*domain.SubscriptionPlan, Source, error) {
	if territoryID != nil {
		p, err := s.plans.FindDefaultFree(ctx, territoryID)
		if err == nil {
			return p, SourceTerritoryDefault, nil
		}
		if !isNotFound(err) {
			return nil, "", err
		}
	}
	p, err := s.plans.FindDefaultFree(ctx, nil)
	if err == nil {
		return p, SourceGlobalDefault, nil
	}
	if !isNotFound(err) {
		return nil, "", err
	}

	cfgErr := &domain.ConfigurationError{Message: "no active global FREE plan is configured"}
	logging.FromContext(ctx).Error("default FREE plan missing", "alert", true, "error", cfgErr)
	return nil, "", cfgErr
}

func (s *Service) GetUserCapabilities(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) ([]domain.Capability, error) {
	eff, err := s.ResolveEffectivePlan(ctx, userID, territoryID)
	if err != nil {
		return nil, fmt.Errorf("GetUserCapabilities: %w", err)
	}
	return append([]domain.Capability(nil), eff.Plan.Capabilities...), nil
}

func (s *Service) HasCapability(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID, c domain.Capability) (bool, error) {
	eff, err := s.ResolveEffectivePlan(ctx, userID, territoryID)
	if err != nil {
		return false, fmt.Errorf("HasCapability: %w", err)
	}
	return eff.Plan.HasCapability(c), nil
}

type Limits struct {
	Numeric map[string]int64
	Text    map[string]string
}

// NumericLimit reports the limit for key and whether the plan sets one. An
// unset key and domain.Unlimited both mean no ceiling.
func (l Limits) NumericLimit(key string) (int64, bool) {
	v, ok := l.Numeric[key]
	if !ok || v == domain.Unlimited {
		return domain.Unlimited, false
	}
	return v, true
}

func (s *Service) GetUserLimits(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*Limits, error) {
	eff, err := s.ResolveEffectivePlan(ctx, userID, territoryID)
	if err != nil {
		return nil, fmt.Errorf("GetUserLimits: %w", err)
	}
	return &Limits{
		Numeric: orEmpty(eff.Plan.NumericLimits),
		Text:    orEmpty(eff.Plan.TextLimits),
	}, nil
}

// VerifyDefaults fails when the global FREE plan is missing. It runs at
// startup so the gap surfaces before any request needs the default.
func (s *Service) VerifyDefaults(ctx context.Context) error {
	if _, _, err := s.DefaultFree(ctx, nil); err != nil {
		return fmt.Errorf("VerifyDefaults: %w", err)
	}
	return nil
}
