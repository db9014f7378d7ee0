package plan

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/testutil/memstore"
)

var admin = uuid.New()

func setup(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewService(store, store.Plans(), store.Subscriptions()), store
}

func freeRequest(code string, territoryID *uuid.UUID) CreatePlanRequest {
	return CreatePlanRequest{
		Code:         code,
		Name:         "Free",
		Tier:         domain.PlanTierFree,
		TerritoryID:  territoryID,
		Currency:     "USD",
		BillingCycle: domain.BillingCycleMonthly,
		Capabilities: domain.BaselineCapabilities,
		NumericLimits: map[string]int64{
			"posts_per_day": 5,
		},
		ActorID: admin,
	}
}

func premiumRequest(code string) CreatePlanRequest {
	return CreatePlanRequest{
		Code:                    code,
		Name:                    "Premium",
		Tier:                    domain.PlanTierPremium,
		PricePerCycleMinorUnits: 1999,
		Currency:                "USD",
		BillingCycle:            domain.BillingCycleMonthly,
		Capabilities: append(append([]domain.Capability{}, domain.BaselineCapabilities...),
			domain.CapabilityFeedPremium, domain.CapabilityAnalytics),
		NumericLimits: map[string]int64{"posts_per_day": domain.Unlimited},
		ActorID:       admin,
	}
}

func TestCreatePlan_Integrity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreatePlanRequest)
		field  string
	}{
		{"free with price", func(r *CreatePlanRequest) { r.PricePerCycleMinorUnits = 100 }, "price_per_cycle"},
		{"free missing baseline capability", func(r *CreatePlanRequest) {
			r.Capabilities = []domain.Capability{domain.CapabilityFeedBasic, domain.CapabilityPostsBasic}
		}, "capabilities"},
		{"paid with zero price", func(r *CreatePlanRequest) { r.Tier = domain.PlanTierBasic }, "price_per_cycle"},
		{"unknown cycle", func(r *CreatePlanRequest) { r.BillingCycle = "weekly" }, "billing_cycle"},
		{"limit below unlimited", func(r *CreatePlanRequest) { r.NumericLimits = map[string]int64{"x": -2} }, "limits.x"},
		{"negative trial", func(r *CreatePlanRequest) { r.TrialDays = -1 }, "trial_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setup(t)
			req := freeRequest("free", nil)
			tt.mutate(&req)

			_, err := svc.CreatePlan(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCreatePlan_RecordsHistory(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	reason := "launch"
	req := premiumRequest("premium-monthly")
	req.Reason = &reason

	p, err := svc.CreatePlan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanScopeGlobal, p.Scope)
	assert.True(t, p.IsActive)

	history, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PlanChangeCreated, history[0].ChangeType)
	assert.Equal(t, admin, history[0].ActorID)
	assert.Equal(t, &reason, history[0].Reason)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(history[0].Snapshot, &snap))
	assert.Equal(t, "premium-monthly", snap["code"])
	assert.EqualValues(t, 1999, snap["price_per_cycle_minor_units"])
}

func TestCreatePlan_OneActiveFreePerScope(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	territory := uuid.New()

	_, err := svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)
	_, err = svc.CreatePlan(ctx, freeRequest("free-2", nil))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = svc.CreatePlan(ctx, freeRequest("free-lagos", &territory))
	require.NoError(t, err)
}

func TestUpdatePlan(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, err := svc.CreatePlan(ctx, premiumRequest("premium"))
	require.NoError(t, err)

	price := int64(2499)
	updated, err := svc.UpdatePlan(ctx, p.ID, UpdatePlanRequest{PricePerCycleMinorUnits: &price, ActorID: admin})
	require.NoError(t, err)
	assert.Equal(t, price, updated.PricePerCycleMinorUnits)
	assert.Equal(t, p.Version+1, updated.Version)

	zero := int64(0)
	_, err = svc.UpdatePlan(ctx, p.ID, UpdatePlanRequest{PricePerCycleMinorUnits: &zero, ActorID: admin})
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := svc.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, price, stored.PricePerCycleMinorUnits)

	_, err = svc.UpdatePlan(ctx, p.ID, UpdatePlanRequest{PricePerCycleMinorUnits: &price})
	assert.ErrorIs(t, err, domain.ErrValidation)

	history, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSetCapabilities_FreeKeepsBaseline(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	p, err := svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)

	_, err = svc.SetCapabilities(ctx, p.ID, []domain.Capability{domain.CapabilityFeedBasic}, admin, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	caps := append(append([]domain.Capability{}, domain.BaselineCapabilities...), domain.CapabilityChatGroups, domain.CapabilityChatGroups)
	updated, err := svc.SetCapabilities(ctx, p.ID, caps, admin, nil)
	require.NoError(t, err)
	assert.Len(t, updated.Capabilities, len(domain.BaselineCapabilities)+1)

	history, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.PlanChangeCapabilitiesChanged, history[1].ChangeType)
}

func TestDeactivatePlan(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	free, err := svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)
	_, err = svc.DeactivatePlan(ctx, free.ID, admin, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	premium, err := svc.CreatePlan(ctx, premiumRequest("premium"))
	require.NoError(t, err)
	sub := domain.NewSubscription(uuid.New(), nil, premium, time.Now().UTC())
	require.NoError(t, store.Subscriptions().Create(ctx, nil, sub))

	_, err = svc.DeactivatePlan(ctx, premium.ID, admin, nil)
	require.ErrorIs(t, err, domain.ErrPlanHasSubscribers)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	sub.Cancel(false, time.Now().UTC())
	require.NoError(t, store.Subscriptions().Update(ctx, nil, sub))

	deactivated, err := svc.DeactivatePlan(ctx, premium.ID, admin, nil)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = svc.ActivePlan(ctx, premium.ID, nil)
	assert.ErrorIs(t, err, domain.ErrPlanInactive)

	reactivated, err := svc.ActivatePlan(ctx, premium.ID, admin, nil)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)
}

func TestResolveEffectivePlan(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	territory, otherTerritory := uuid.New(), uuid.New()

	globalFree, err := svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)
	localReq := freeRequest("free-local", &territory)
	localReq.NumericLimits = map[string]int64{"posts_per_day": 10}
	localFree, err := svc.CreatePlan(ctx, localReq)
	require.NoError(t, err)
	premium, err := svc.CreatePlan(ctx, premiumRequest("premium"))
	require.NoError(t, err)

	user := uuid.New()

	eff, err := svc.ResolveEffectivePlan(ctx, user, &otherTerritory)
	require.NoError(t, err)
	assert.Equal(t, globalFree.ID, eff.Plan.ID)
	assert.Equal(t, SourceGlobalDefault, eff.Source)

	eff, err = svc.ResolveEffectivePlan(ctx, user, &territory)
	require.NoError(t, err)
	assert.Equal(t, localFree.ID, eff.Plan.ID)
	assert.Equal(t, SourceTerritoryDefault, eff.Source)

	sub := domain.NewSubscription(user, &territory, premium, time.Now().UTC())
	require.NoError(t, store.Subscriptions().Create(ctx, nil, sub))

	caps, err := svc.GetUserCapabilities(ctx, user, &territory)
	require.NoError(t, err)
	assert.Contains(t, caps, domain.CapabilityAnalytics)

	ok, err := svc.HasCapability(ctx, user, &otherTerritory, domain.CapabilityAnalytics)
	require.NoError(t, err)
	assert.False(t, ok)

	limits, err := svc.GetUserLimits(ctx, user, &territory)
	require.NoError(t, err)
	_, bounded := limits.NumericLimit("posts_per_day")
	assert.False(t, bounded)

	sub.Status = domain.SubscriptionStatusUnpaid
	require.NoError(t, store.Subscriptions().Update(ctx, nil, sub))
	limits, err = svc.GetUserLimits(ctx, user, &territory)
	require.NoError(t, err)
	n, bounded := limits.NumericLimit("posts_per_day")
	assert.True(t, bounded)
	assert.Equal(t, int64(10), n)
}

func TestResolveEffectivePlan_GlobalSubscriptionAppliesEverywhere(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	_, err := svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)
	premium, err := svc.CreatePlan(ctx, premiumRequest("premium"))
	require.NoError(t, err)

	user := uuid.New()
	require.NoError(t, store.Subscriptions().Create(ctx, nil, domain.NewSubscription(user, nil, premium, time.Now().UTC())))

	territory := uuid.New()
	eff, err := svc.ResolveEffectivePlan(ctx, user, &territory)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, eff.Plan.ID)
	assert.Equal(t, SourceSubscription, eff.Source)
}

func TestVerifyDefaults(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	err := svc.VerifyDefaults(ctx)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	_, err = svc.ResolveEffectivePlan(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = svc.CreatePlan(ctx, freeRequest("free", nil))
	require.NoError(t, err)
	assert.NoError(t, svc.VerifyDefaults(ctx))
}
