package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierBasic      PlanTier = "basic"
	PlanTierPremium    PlanTier = "premium"
	PlanTierEnterprise PlanTier = "enterprise"
)

func (t PlanTier) IsValid() bool {
	switch t {
	case PlanTierFree, PlanTierBasic, PlanTierPremium, PlanTierEnterprise:
		return true
	}
	return false
}

type PlanScope string

const (
	PlanScopeGlobal    PlanScope = "global"
	PlanScopeTerritory PlanScope = "territory"
)

type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

func (c BillingCycle) months() int {
	switch c {
	case BillingCycleMonthly:
		return 1
	case BillingCycleQuarterly:
		return 3
	case BillingCycleYearly:
		return 12
	}
	return 0
}

func (c BillingCycle) IsValid() bool { return c.months() > 0 }

// PeriodEnd returns the end of a billing period starting at start. Days that
// do not exist in the target month clamp to its last day, so Jan 31 + 1
// month is Feb 28/29.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	n := c.months()
	y, m, d := start.Date()
	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, start.Location())
	lastDay := target.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	hh, mm, ss := start.Clock()
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, start.Nanosecond(), start.Location())
}

type Capability string

const (
	CapabilityFeedBasic        Capability = "feed_basic"
	CapabilityFeedPremium      Capability = "feed_premium"
	CapabilityPostsBasic       Capability = "posts_basic"
	CapabilityPostsUnlimited   Capability = "posts_unlimited"
	CapabilityEventsBasic      Capability = "events_basic"
	CapabilityEventsHosting    Capability = "events_hosting"
	CapabilityMarketplaceBasic Capability = "marketplace_basic"
	CapabilityMarketplacePro   Capability = "marketplace_pro"
	CapabilityChatBasic        Capability = "chat_basic"
	CapabilityChatGroups       Capability = "chat_groups"
	CapabilityAnalytics        Capability = "analytics"
	CapabilityPrioritySupport  Capability = "priority_support"
)

// BaselineCapabilities is what every FREE plan must grant.
var BaselineCapabilities = []Capability{
	CapabilityFeedBasic,
	CapabilityPostsBasic,
	CapabilityEventsBasic,
	CapabilityMarketplaceBasic,
	CapabilityChatBasic,
}

type SubscriptionPlan struct {
	ID                      uuid.UUID
	Code                    string
	Name                    string
	Description             string
	Tier                    PlanTier
	Scope                   PlanScope
	TerritoryID             *uuid.UUID
	PricePerCycleMinorUnits int64
	Currency                Currency
	BillingCycle            BillingCycle
	Capabilities            []Capability
	NumericLimits           map[string]int64
	TextLimits              map[string]string
	TrialDays               int
	IsActive                bool
	Version                 int64
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (p *SubscriptionPlan) IsFree() bool { return p.Tier == PlanTierFree }

func (p *SubscriptionPlan) HasCapability(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// AppliesTo reports whether the plan can be used by a subscription scoped to
// territoryID (nil meaning global).
func (p *SubscriptionPlan) AppliesTo(territoryID *uuid.UUID) bool {
	if p.Scope == PlanScopeGlobal {
		return true
	}
	return territoryID != nil && p.TerritoryID != nil && *p.TerritoryID == *territoryID
}

// CheckIntegrity validates a plan before it is persisted. FREE plans must be
// priced at zero and grant the baseline capabilities; paid plans must cost
// something.
func (p *SubscriptionPlan) CheckIntegrity() error {
	if p.Code == "" {
		return NewValidationError("code", "required")
	}
	if p.Name == "" {
		return NewValidationError("name", "required")
	}
	if !p.Tier.IsValid() {
		return NewValidationError("tier", "unknown tier")
	}
	switch p.Scope {
	case PlanScopeGlobal:
		if p.TerritoryID != nil {
			return NewValidationError("territory_id", "must be empty for global plans")
		}
	case PlanScopeTerritory:
		if p.TerritoryID == nil || *p.TerritoryID == uuid.Nil {
			return NewValidationError("territory_id", "required for territory plans")
		}
	default:
		return NewValidationError("scope", "unknown scope")
	}
	if !p.Currency.IsValid() {
		return NewValidationError("currency", "must be an ISO 4217 code")
	}
	if !p.BillingCycle.IsValid() {
		return NewValidationError("billing_cycle", "unknown billing cycle")
	}
	if p.TrialDays < 0 {
		return NewValidationError("trial_days", "must not be negative")
	}
	for k, v := range p.NumericLimits {
		if v < -1 {
			return NewValidationError("limits."+k, "must be -1 (unlimited) or greater")
		}
	}

	if p.IsFree() {
		if p.PricePerCycleMinorUnits != 0 {
			return NewValidationError("price_per_cycle", "FREE plans must be priced at zero")
		}
		for _, c := range BaselineCapabilities {
			if !p.HasCapability(c) {
				return NewValidationError("capabilities", "FREE plans must grant "+string(c))
			}
		}
		return nil
	}

	if p.PricePerCycleMinorUnits <= 0 {
		return NewValidationError("price_per_cycle", "paid plans must have a positive price")
	}
	return nil
}

type PlanChangeType string

const (
	PlanChangeCreated             PlanChangeType = "created"
	PlanChangeUpdated             PlanChangeType = "updated"
	PlanChangeActivated           PlanChangeType = "activated"
	PlanChangeDeactivated         PlanChangeType = "deactivated"
	PlanChangeCapabilitiesChanged PlanChangeType = "capabilities_changed"
)

// PlanHistoryRecord is the immutable audit row for one plan change. Snapshot
// holds the plan as JSON after the change.
type PlanHistoryRecord struct {
	ID         uuid.UUID
	PlanID     uuid.UUID
	ChangeType PlanChangeType
	ActorID    uuid.UUID
	Reason     *string
	Snapshot   []byte
	CreatedAt  time.Time
}

// Unlimited marks a numeric limit without a ceiling.
const Unlimited int64 = -1
