package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCoupon_Discount(t *testing.T) {
	usd := Currency("USD")
	tests := []struct {
		name    string
		coupon  Coupon
		price   int64
		want    int64
		wantErr error
	}{
		{"percentage", Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 20}, 1599, 320, nil},
		{"percentage rounds half up", Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 50}, 101, 51, nil},
		{"full percentage", Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 100}, 999, 999, nil},
		{"fixed", Coupon{DiscountType: DiscountTypeFixedAmount, DiscountValue: 500, Currency: &usd}, 1599, 500, nil},
		{"fixed floors at price", Coupon{DiscountType: DiscountTypeFixedAmount, DiscountValue: 5000, Currency: &usd}, 1599, 1599, nil},
		{"negative price", Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 10}, -1, 0, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.coupon.Discount(tt.price, "USD")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	eur := Coupon{DiscountType: DiscountTypeFixedAmount, DiscountValue: 100, Currency: ptr(Currency("EUR"))}
	_, err := eur.Discount(1000, "USD")
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestCoupon_IsRedeemable(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	base := func() Coupon {
		return Coupon{
			Code:      "SPRING",
			IsActive:  true,
			ValidFrom: now.Add(-time.Hour),
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Coupon)
		want   bool
	}{
		{"open", func(c *Coupon) {}, true},
		{"inactive", func(c *Coupon) { c.IsActive = false }, false},
		{"not started", func(c *Coupon) { c.ValidFrom = now.Add(time.Hour) }, false},
		{"ended", func(c *Coupon) { c.ValidUntil = ptr(now) }, false},
		{"exhausted", func(c *Coupon) { c.MaxUses = ptr(3); c.UsedCount = 3 }, false},
		{"uses left", func(c *Coupon) { c.MaxUses = ptr(3); c.UsedCount = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.Equal(t, tt.want, c.IsRedeemable(now))
		})
	}
}

func TestCoupon_Validate(t *testing.T) {
	tests := []struct {
		name   string
		coupon Coupon
		field  string
	}{
		{"missing code", Coupon{DiscountType: DiscountTypePercentage}, "code"},
		{"percentage over 100", Coupon{Code: "X", DiscountType: DiscountTypePercentage, DiscountValue: 101}, "discount_value"},
		{"fixed without currency", Coupon{Code: "X", DiscountType: DiscountTypeFixedAmount, DiscountValue: 10}, "currency"},
		{"unknown type", Coupon{Code: "X", DiscountType: "bogo"}, "discount_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coupon.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestBillingCycle_PeriodEnd(t *testing.T) {
	tests := []struct {
		cycle BillingCycle
		start time.Time
		want  time.Time
	}{
		{BillingCycleMonthly, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)},
		{BillingCycleMonthly, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{BillingCycleMonthly, time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{BillingCycleQuarterly, time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC), time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
		{BillingCycleYearly, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2029, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.cycle)+tt.start.Format("-2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cycle.PeriodEnd(tt.start))
		})
	}
}

func freePlan() SubscriptionPlan {
	return SubscriptionPlan{
		Code:         "FREE",
		Name:         "Free",
		Tier:         PlanTierFree,
		Scope:        PlanScopeGlobal,
		Currency:     "USD",
		BillingCycle: BillingCycleMonthly,
		Capabilities: append([]Capability(nil), BaselineCapabilities...),
		IsActive:     true,
	}
}

func TestSubscriptionPlan_CheckIntegrity(t *testing.T) {
	territory := uuid.New()
	tests := []struct {
		name   string
		mutate func(p *SubscriptionPlan)
		field  string
	}{
		{"valid free", func(p *SubscriptionPlan) {}, ""},
		{"priced free", func(p *SubscriptionPlan) { p.PricePerCycleMinorUnits = 100 }, "price_per_cycle"},
		{"free missing baseline", func(p *SubscriptionPlan) { p.Capabilities = p.Capabilities[1:] }, "capabilities"},
		{"unpriced paid", func(p *SubscriptionPlan) { p.Tier = PlanTierBasic }, "price_per_cycle"},
		{"valid paid", func(p *SubscriptionPlan) { p.Tier = PlanTierPremium; p.PricePerCycleMinorUnits = 1599 }, ""},
		{"global with territory", func(p *SubscriptionPlan) { p.TerritoryID = &territory }, "territory_id"},
		{"territory without id", func(p *SubscriptionPlan) { p.Scope = PlanScopeTerritory }, "territory_id"},
		{"bad cycle", func(p *SubscriptionPlan) { p.BillingCycle = "weekly" }, "billing_cycle"},
		{"bad limit", func(p *SubscriptionPlan) { p.NumericLimits = map[string]int64{"posts": -2} }, "limits.posts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := freePlan()
			tt.mutate(&p)
			err := p.CheckIntegrity()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSubscription_Lifecycle(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	plan := freePlan()
	plan.TrialDays = 14

	s := NewSubscription(uuid.New(), nil, &plan, now)
	assert.Equal(t, SubscriptionStatusTrialing, s.Status)
	assert.True(t, s.InTrial(now.AddDate(0, 0, 13)))
	assert.False(t, s.InTrial(now.AddDate(0, 0, 14)))

	assert.ErrorIs(t, s.Reactivate(now), ErrInvalidState, "nothing scheduled yet")

	assert.True(t, s.Cancel(true, now))
	assert.False(t, s.Cancel(true, now), "already scheduled")
	assert.True(t, s.IsCancelScheduled())
	require.NoError(t, s.Reactivate(now))
	assert.False(t, s.CancelAtPeriodEnd)

	assert.True(t, s.Cancel(false, now))
	assert.Equal(t, SubscriptionStatusCanceled, s.Status)
	assert.NotNil(t, s.CanceledAt)
	assert.False(t, s.Cancel(false, now), "terminal")
}

func TestReconciliationRecord(t *testing.T) {
	now := time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC)
	r, err := NewReconciliationRecord(uuid.New(), now, 5000, 5200, "USD", now)
	require.NoError(t, err)
	assert.Equal(t, int64(200), r.DifferenceMinorUnits)
	assert.Equal(t, ReconciliationStatusDiscrepancy, r.Status)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), r.ReconciliationDate)

	assert.ErrorIs(t, r.MarkAsReconciled(uuid.New(), "", now), ErrValidation)
	require.NoError(t, r.MarkAsReconciled(uuid.New(), "bank fee", now))
	assert.Equal(t, ReconciliationStatusReconciled, r.Status)
	assert.Equal(t, int64(200), r.DifferenceMinorUnits, "override keeps the difference")
	assert.True(t, r.ManuallyReconciled())

	rev := r.UpdateActualAmount(5000, nil, now.Add(time.Hour))
	assert.Equal(t, int64(5200), rev.PreviousActualMinor)
	assert.Equal(t, ReconciliationStatusReconciled, rev.PreviousStatus)
	assert.Equal(t, int64(0), r.DifferenceMinorUnits)
	assert.Equal(t, ReconciliationStatusReconciled, r.Status)
	assert.False(t, r.ManuallyReconciled())
	assert.Nil(t, r.ReconciledByActorID)
}

func TestCurrency(t *testing.T) {
	assert.True(t, Currency("USD").IsValid())
	assert.False(t, Currency("usd").IsValid())
	assert.False(t, Currency("US").IsValid())
	assert.Equal(t, Currency("EUR"), NormalizeCurrency(" eur "))
}
