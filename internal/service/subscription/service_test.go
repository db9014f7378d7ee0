package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
	"github.com/josh-kwaku/territory-billing/internal/service/coupon"
	"github.com/josh-kwaku/territory-billing/internal/service/ledger"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
	"github.com/josh-kwaku/territory-billing/internal/testutil/memstore"
)

var admin = uuid.New()

type recordingRetrier struct {
	queued []uuid.UUID
}

func (r *recordingRetrier) EnqueueCancelMirror(ctx context.Context, id uuid.UUID, atPeriodEnd bool) error {
	r.queued = append(r.queued, id)
	return nil
}

type harness struct {
	svc     *Service
	store   *memstore.Store
	plans   *plan.Service
	coupons *coupon.Service
	gw      *fake.Subscriptions
	retrier *recordingRetrier
	clock   time.Time
}

func setupBare(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	plans := plan.NewService(store, store.Plans(), store.Subscriptions())
	coupons := coupon.NewService(store, store.Coupons(), nil)
	ledgerSvc := ledger.NewService(
		store,
		store.Ledger(),
		store.History(),
		store.Balances(),
		store.Projections(),
		gateway.NewRegistry[gateway.PaymentGateway](fake.NewPayments("fakepay", "whsec_test")),
		gateway.NewRegistry[gateway.PayoutGateway](fake.NewPayouts("fakepay")),
		nil,
		time.Second,
	)
	gw := fake.NewSubscriptions("fakesub")

	h := &harness{
		store:   store,
		plans:   plans,
		coupons: coupons,
		gw:      gw,
		retrier: &recordingRetrier{},
		clock:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	gw.Now = func() time.Time { return h.clock }

	h.svc = NewService(store, store.Subscriptions(), plans, coupons, ledgerSvc,
		gateway.NewRegistry[gateway.SubscriptionGateway](gw), nil, time.Second)
	h.svc.now = func() time.Time { return h.clock }
	h.svc.SetRetrier(h.retrier)
	return h
}

func setup(t *testing.T) *harness {
	t.Helper()
	h := setupBare(t)
	h.createPlan(t, plan.CreatePlanRequest{
		Code:          "free",
		Name:          "Free",
		Tier:          domain.PlanTierFree,
		Currency:      "USD",
		BillingCycle:  domain.BillingCycleMonthly,
		Capabilities:  domain.BaselineCapabilities,
		NumericLimits: map[string]int64{"posts_per_day": 5},
	})
	return h
}

func (h *harness) createPlan(t *testing.T, req plan.CreatePlanRequest) *domain.SubscriptionPlan {
	t.Helper()
	req.ActorID = admin
	p, err := h.plans.CreatePlan(context.Background(), req)
	require.NoError(t, err)
	return p
}

func (h *harness) paidPlan(t *testing.T, code string, cycle domain.BillingCycle, trialDays int) *domain.SubscriptionPlan {
	t.Helper()
	return h.createPlan(t, plan.CreatePlanRequest{
		Code:                    code,
		Name:                    code,
		Tier:                    domain.PlanTierPremium,
		PricePerCycleMinorUnits: 1999,
		Currency:                "USD",
		BillingCycle:            cycle,
		TrialDays:               trialDays,
		Capabilities: append(append([]domain.Capability{}, domain.BaselineCapabilities...),
			domain.CapabilityAnalytics),
	})
}

func ptr[T any](v T) *T { return &v }

func TestGetOrCreateSubscription(t *testing.T) {
	t.Run("no free plan is a configuration error", func(t *testing.T) {
		h := setupBare(t)
		_, err := h.svc.GetOrCreateSubscription(context.Background(), uuid.New(), nil)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("creates once then returns the same row", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		user := uuid.New()
		territory := uuid.New()

		first, err := h.svc.GetOrCreateSubscription(ctx, user, &territory)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusActive, first.Status)
		assert.False(t, first.HasGateway())
		assert.Equal(t, h.clock.AddDate(0, 1, 0), first.CurrentPeriodEnd)

		second, err := h.svc.GetOrCreateSubscription(ctx, user, &territory)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		global, err := h.svc.GetOrCreateSubscription(ctx, user, nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, global.ID)
	})
}

func TestCreateSubscription_PaidWithCoupon(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	premium := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
	_, err := h.coupons.CreateCoupon(ctx, coupon.CreateCouponRequest{
		Code: "TENOFF", DiscountType: domain.DiscountTypePercentage, DiscountValue: 10,
	})
	require.NoError(t, err)

	user := uuid.New()
	territory := uuid.New()
	sub, err := h.svc.CreateSubscription(ctx, CreateRequest{
		UserID: user, TerritoryID: &territory, PlanID: premium.ID, CouponCode: ptr("tenoff"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	require.True(t, sub.HasGateway())
	assert.Equal(t, "fakesub", *sub.GatewayName)
	assert.Equal(t, 1, h.gw.Calls("create_subscription"))

	bal, err := h.store.Balances().Get(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(1799), bal.TotalRevenueMinorUnits)

	c, err := h.coupons.GetCoupon(ctx, "TENOFF")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
	sc, err := h.coupons.ForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), sc.DiscountMinorUnits)

	_, err = h.svc.CreateSubscription(ctx, CreateRequest{UserID: user, TerritoryID: &territory, PlanID: premium.ID})
	assert.ErrorIs(t, err, domain.ErrSubscriptionExists)
	assert.Equal(t, 1, h.gw.Calls("create_subscription"))
}

func TestCreateSubscription_Failures(t *testing.T) {
	tests := []struct {
		name        string
		prep        func(h *harness)
		coupon      *string
		wantErr     error
		gwCreates   int
		gwCancels   int
		inactivePln bool
	}{
		{
			name:      "gateway rejects",
			prep:      func(h *harness) { h.gw.Fail("create_subscription", errors.New("card declined")) },
			wantErr:   domain.ErrGateway,
			gwCreates: 1,
		},
		{
			name:      "gateway answers already-in-state with no subscription",
			prep:      func(h *harness) { h.gw.Fail("create_subscription", gateway.ErrAlreadyInState) },
			wantErr:   domain.ErrGateway,
			gwCreates: 1,
		},
		{
			name:      "local write fails after gateway create",
			prep:      func(h *harness) { h.store.Fail("Subscriptions.Create", errors.New("disk full")) },
			wantErr:   nil,
			gwCreates: 1,
			gwCancels: 1,
		},
		{
			name:    "unknown coupon",
			coupon:  ptr("NOPE"),
			wantErr: domain.ErrNotFound,
		},
		{
			name:        "inactive plan",
			inactivePln: true,
			wantErr:     domain.ErrPlanInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()
			premium := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
			if tt.inactivePln {
				_, err := h.plans.DeactivatePlan(ctx, premium.ID, admin, nil)
				require.NoError(t, err)
			}
			if tt.prep != nil {
				tt.prep(h)
			}

			user := uuid.New()
			territory := uuid.New()
			_, err := h.svc.CreateSubscription(ctx, CreateRequest{
				UserID: user, TerritoryID: &territory, PlanID: premium.ID, CouponCode: tt.coupon,
			})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.gwCreates, h.gw.Calls("create_subscription"))
			assert.Equal(t, tt.gwCancels, h.gw.Calls("cancel_subscription"))

			_, err = h.svc.Current(ctx, user, &territory)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			_, err = h.store.Balances().Get(ctx, territory)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestCreateSubscription_Trial(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	trial := h.paidPlan(t, "premium-trial", domain.BillingCycleQuarterly, 14)
	territory := uuid.New()

	sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), TerritoryID: &territory, PlanID: trial.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, h.clock.AddDate(0, 0, 14), *sub.TrialEnd)
	assert.Equal(t, h.clock.AddDate(0, 3, 0), sub.CurrentPeriodEnd)

	_, err = h.store.Balances().Get(ctx, territory)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelSubscription_GatewayFailureKeepsLocalCancellation(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	premium := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
	sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), PlanID: premium.ID})
	require.NoError(t, err)

	h.gw.Fail("cancel_subscription", errors.New("timeout"))
	canceled, err := h.svc.CancelSubscription(ctx, sub.ID, true)
	require.NoError(t, err)
	assert.True(t, canceled.CancelAtPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, canceled.Status)
	assert.Equal(t, []uuid.UUID{sub.ID}, h.retrier.queued)

	h.gw.Heal("cancel_subscription")
	require.NoError(t, h.svc.RetryCancelMirror(ctx, sub.ID, true))
	st, err := h.gw.GetSubscription(ctx, *sub.GatewaySubscriptionID)
	require.NoError(t, err)
	assert.True(t, st.CancelAtPeriodEnd)

	again, err := h.svc.CancelSubscription(ctx, sub.ID, true)
	require.NoError(t, err)
	assert.Equal(t, canceled.Version, again.Version)
	assert.Len(t, h.retrier.queued, 1)
}

func TestCancelSubscription_Immediate(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	sub, err := h.svc.GetOrCreateSubscription(ctx, uuid.New(), nil)
	require.NoError(t, err)

	canceled, err := h.svc.CancelSubscription(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, 0, h.gw.Calls("cancel_subscription"))

	_, err = h.svc.ReactivateSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReactivateSubscription_GatewayFailureBlocks(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	premium := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
	sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), PlanID: premium.ID})
	require.NoError(t, err)
	_, err = h.svc.CancelSubscription(ctx, sub.ID, true)
	require.NoError(t, err)

	h.gw.Fail("reactivate_subscription", errors.New("unavailable"))
	_, err = h.svc.ReactivateSubscription(ctx, sub.ID)
	require.ErrorIs(t, err, domain.ErrGateway)
	cur, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, cur.CancelAtPeriodEnd)

	h.gw.Heal("reactivate_subscription")
	reactivated, err := h.svc.ReactivateSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, reactivated.CancelAtPeriodEnd)
	assert.Equal(t, domain.SubscriptionStatusActive, reactivated.Status)

	_, err = h.svc.ReactivateSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestUpdateSubscription(t *testing.T) {
	t.Run("local subscription restarts its period", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		yearly := h.paidPlan(t, "premium-yearly", domain.BillingCycleYearly, 0)
		sub, err := h.svc.GetOrCreateSubscription(ctx, uuid.New(), nil)
		require.NoError(t, err)

		h.clock = h.clock.Add(48 * time.Hour)
		updated, err := h.svc.UpdateSubscription(ctx, sub.ID, yearly.ID)
		require.NoError(t, err)
		assert.Equal(t, yearly.ID, updated.PlanID)
		assert.Equal(t, h.clock, updated.CurrentPeriodStart)
		assert.Equal(t, h.clock.AddDate(1, 0, 0), updated.CurrentPeriodEnd)
		assert.Equal(t, 0, h.gw.Calls("update_subscription"))
	})

	t.Run("gateway subscription mirrors the gateway period", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		monthly := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
		yearly := h.paidPlan(t, "premium-yearly", domain.BillingCycleYearly, 0)
		sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), PlanID: monthly.ID})
		require.NoError(t, err)

		updated, err := h.svc.UpdateSubscription(ctx, sub.ID, yearly.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, h.gw.Calls("update_subscription"))
		assert.Equal(t, yearly.ID, updated.PlanID)
		assert.Equal(t, h.clock.AddDate(1, 0, 0), updated.CurrentPeriodEnd)
	})

	t.Run("gateway failure leaves the plan unchanged", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		monthly := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
		yearly := h.paidPlan(t, "premium-yearly", domain.BillingCycleYearly, 0)
		sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), PlanID: monthly.ID})
		require.NoError(t, err)

		h.gw.Fail("update_subscription", errors.New("proration failed"))
		_, err = h.svc.UpdateSubscription(ctx, sub.ID, yearly.ID)
		require.ErrorIs(t, err, domain.ErrGateway)
		cur, err := h.svc.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, monthly.ID, cur.PlanID)
	})

	t.Run("inactive plan rejected", func(t *testing.T) {
		h := setup(t)
		ctx := context.Background()
		yearly := h.paidPlan(t, "premium-yearly", domain.BillingCycleYearly, 0)
		_, err := h.plans.DeactivatePlan(ctx, yearly.ID, admin, nil)
		require.NoError(t, err)
		sub, err := h.svc.GetOrCreateSubscription(ctx, uuid.New(), nil)
		require.NoError(t, err)

		_, err = h.svc.UpdateSubscription(ctx, sub.ID, yearly.ID)
		assert.ErrorIs(t, err, domain.ErrPlanInactive)
	})
}

func TestSyncByGatewayReference(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	premium := h.paidPlan(t, "premium", domain.BillingCycleMonthly, 0)
	sub, err := h.svc.CreateSubscription(ctx, CreateRequest{UserID: uuid.New(), PlanID: premium.ID})
	require.NoError(t, err)

	require.NoError(t, h.gw.SetStatus(*sub.GatewaySubscriptionID, domain.SubscriptionStatusPastDue))
	synced, err := h.svc.SyncByGatewayReference(ctx, "fakesub", *sub.GatewaySubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, synced.Status)

	_, err = h.svc.SyncByGatewayReference(ctx, "fakesub", "sub_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpireDue(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	trial := h.paidPlan(t, "premium-trial", domain.BillingCycleMonthly, 7)

	scheduled, err := h.svc.GetOrCreateSubscription(ctx, uuid.New(), nil)
	require.NoError(t, err)
	_, err = h.svc.CancelSubscription(ctx, scheduled.ID, true)
	require.NoError(t, err)

	local := domain.NewSubscription(uuid.New(), nil, trial, h.clock)
	require.NoError(t, h.store.Subscriptions().Create(ctx, nil, local))

	untouched, err := h.svc.GetOrCreateSubscription(ctx, uuid.New(), nil)
	require.NoError(t, err)

	h.clock = h.clock.AddDate(0, 0, 8)
	n, err := h.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	cur, err := h.svc.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, cur.Status)

	h.clock = h.clock.AddDate(0, 1, 0)
	n, err = h.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	cur, err = h.svc.Get(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, cur.Status)
	assert.False(t, cur.CancelAtPeriodEnd)

	cur, err = h.svc.Get(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, cur.Status)
}
