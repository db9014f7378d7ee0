package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
	"github.com/josh-kwaku/territory-billing/internal/testutil/memstore"
)

func TestLoad_Default(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, c.Plans)

	var free int
	for _, p := range c.Plans {
		if p.Tier == string(domain.PlanTierFree) && p.TerritoryID == nil {
			free++
		}
	}
	assert.Equal(t, 1, free)
}

func TestLoad_File(t *testing.T) {
	territory := uuid.New()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	body := `plans:
  - code: riverside-free
    name: Riverside Free
    tier: free
    territory_id: ` + territory.String() + `
    currency: EUR
    billing_cycle: monthly
    capabilities: [feed_basic, posts_basic, events_basic, marketplace_basic, chat_basic, events_hosting]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Plans, 1)
	require.NotNil(t, c.Plans[0].TerritoryID)
	assert.Equal(t, territory, *c.Plans[0].TerritoryID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"priced free plan", `plans:
  - {code: free, name: Free, tier: free, price_per_cycle_minor_units: 100, currency: USD, billing_cycle: monthly,
     capabilities: [feed_basic, posts_basic, events_basic, marketplace_basic, chat_basic]}`},
		{"free plan missing baseline", `plans:
  - {code: free, name: Free, tier: free, currency: USD, billing_cycle: monthly, capabilities: [feed_basic]}`},
		{"paid plan at zero", `plans:
  - {code: pro, name: Pro, tier: premium, currency: USD, billing_cycle: monthly}`},
		{"duplicate code", `plans:
  - {code: pro, name: Pro, tier: premium, price_per_cycle_minor_units: 100, currency: USD, billing_cycle: monthly}
  - {code: pro, name: Pro, tier: premium, price_per_cycle_minor_units: 200, currency: USD, billing_cycle: yearly}`},
		{"unknown field", `plans:
  - {code: pro, name: Pro, tier: premium, price: 100, currency: USD, billing_cycle: monthly}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	plans := plan.NewService(store, store.Plans(), store.Subscriptions())
	actor := uuid.New()

	require.ErrorIs(t, plans.VerifyDefaults(ctx), domain.ErrConfiguration)

	c, err := Load("")
	require.NoError(t, err)

	res, err := Seed(ctx, plans, c, actor)
	require.NoError(t, err)
	assert.Len(t, res.Created, len(c.Plans))
	assert.Empty(t, res.Existing)
	require.NoError(t, plans.VerifyDefaults(ctx))

	premium, err := plans.GetPlanByCode(ctx, "premium-monthly")
	require.NoError(t, err)
	assert.Equal(t, 14, premium.TrialDays)
	assert.True(t, premium.HasCapability(domain.CapabilityAnalytics))
	history, err := plans.History(ctx, premium.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, actor, history[0].ActorID)

	res, err = Seed(ctx, plans, c, actor)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Len(t, res.Existing, len(c.Plans))
}
