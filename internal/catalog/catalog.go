// Package catalog loads the plan catalog from YAML and seeds the plans it
// lists. Seeding is additive: plans that already exist (by code) are left
// alone, so edits to a live plan go through the plan service.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
)

//go:embed default.yaml
var defaultCatalog []byte

type Catalog struct {
	Plans []Plan `yaml:"plans"`
}

type Plan struct {
	Code          string            `yaml:"code"`
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Tier          string            `yaml:"tier"`
	TerritoryID   *uuid.UUID        `yaml:"territory_id"`
	Price         int64             `yaml:"price_per_cycle_minor_units"`
	Currency      string            `yaml:"currency"`
	BillingCycle  string            `yaml:"billing_cycle"`
	TrialDays     int               `yaml:"trial_days"`
	Capabilities  []string          `yaml:"capabilities"`
	NumericLimits map[string]int64  `yaml:"numeric_limits"`
	TextLimits    map[string]string `yaml:"text_limits"`
	Inactive      bool              `yaml:"inactive"`
}

// Load reads the catalog at path, or the built-in catalog when path is
// empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultCatalog))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog.Load: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog.Load: %s: %w", path, err)
	}
	return c, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate runs every plan through the same integrity rules the plan
// service applies, without touching the database.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Plans))
	for i, p := range c.Plans {
		if seen[p.Code] {
			return fmt.Errorf("plans[%d]: duplicate code %q: %w", i, p.Code, domain.ErrValidation)
		}
		seen[p.Code] = true

		dp := p.toDomain()
		if err := dp.CheckIntegrity(); err != nil {
			return fmt.Errorf("plans[%d] %s: %w", i, p.Code, err)
		}
	}
	return nil
}

func (p Plan) toDomain() *domain.SubscriptionPlan {
	scope := domain.PlanScopeGlobal
	if p.TerritoryID != nil {
		scope = domain.PlanScopeTerritory
	}
	return &domain.SubscriptionPlan{
		Code:                    p.Code,
		Name:                    p.Name,
		Description:             p.Description,
		Tier:                    domain.PlanTier(p.Tier),
		Scope:                   scope,
		TerritoryID:             p.TerritoryID,
		PricePerCycleMinorUnits: p.Price,
		Currency:                domain.Currency(p.Currency),
		BillingCycle:            domain.BillingCycle(p.BillingCycle),
		Capabilities:            p.capabilities(),
		NumericLimits:           p.NumericLimits,
		TextLimits:              p.TextLimits,
		TrialDays:               p.TrialDays,
		IsActive:                !p.Inactive,
	}
}

func (p Plan) capabilities() []domain.Capability {
	caps := make([]domain.Capability, len(p.Capabilities))
	for i, c := range p.Capabilities {
		caps[i] = domain.Capability(c)
	}
	return caps
}

type planService interface {
	GetPlanByCode(ctx context.Context, code string) (*domain.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, req plan.CreatePlanRequest) (*domain.SubscriptionPlan, error)
}

type SeedResult struct {
	Created  []string
	Existing []string
}

// Seed creates the catalog plans that do not exist yet, attributing them to
// actorID.
func Seed(ctx context.Context, plans planService, c *Catalog, actorID uuid.UUID) (*SeedResult, error) {
	log := logging.FromContext(ctx)
	reason := "catalog seed"
	res := &SeedResult{}
	for _, p := range c.Plans {
		_, err := plans.GetPlanByCode(ctx, p.Code)
		if err == nil {
			res.Existing = append(res.Existing, p.Code)
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return res, fmt.Errorf("catalog.Seed: %s: %w", p.Code, err)
		}

		_, err = plans.CreatePlan(ctx, plan.CreatePlanRequest{
			Code:                    p.Code,
			Name:                    p.Name,
			Description:             p.Description,
			Tier:                    domain.PlanTier(p.Tier),
			TerritoryID:             p.TerritoryID,
			PricePerCycleMinorUnits: p.Price,
			Currency:                domain.Currency(p.Currency),
			BillingCycle:            domain.BillingCycle(p.BillingCycle),
			Capabilities:            p.capabilities(),
			NumericLimits:           p.NumericLimits,
			TextLimits:              p.TextLimits,
			TrialDays:               p.TrialDays,
			Inactive:                p.Inactive,
			ActorID:                 actorID,
			Reason:                  &reason,
		})
		if err != nil {
			return res, fmt.Errorf("catalog.Seed: %s: %w", p.Code, err)
		}
		res.Created = append(res.Created, p.Code)
		log.Info("catalog plan created", "plan", p.Code, "tier", p.Tier)
	}
	return res, nil
}
