package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/gateway/fake"
	"github.com/josh-kwaku/territory-billing/internal/repository"
	"github.com/josh-kwaku/territory-billing/internal/service/coupon"
	"github.com/josh-kwaku/territory-billing/internal/service/ledger"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
	"github.com/josh-kwaku/territory-billing/internal/service/reconciliation"
	"github.com/josh-kwaku/territory-billing/internal/service/subscription"
	"github.com/josh-kwaku/territory-billing/internal/testutil"
)

type stack struct {
	tdb         *testutil.TestDB
	ledger      *ledger.Service
	plans       *plan.Service
	coupons     *coupon.Service
	subs        *subscription.Service
	recon       *reconciliation.Service
	events      *repository.GatewayEventRepository
	settlements *fake.Settlements
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	db := tdb.DB
	uow := repository.NewDB(db, 3)

	entries := repository.NewLedgerRepository(db)
	balances := repository.NewBalanceRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	ledgerSvc := ledger.NewService(uow, entries,
		repository.NewStatusHistoryRepository(db), balances,
		repository.NewProjectionRepository(db),
		gateway.NewRegistry[gateway.PaymentGateway](fake.NewPayments("fakepay", "whsec_test")),
		gateway.NewRegistry[gateway.PayoutGateway](fake.NewPayouts("fakepay")),
		nil, time.Second)
	plans := plan.NewService(uow, repository.NewPlanRepository(db), subRepo)
	coupons := coupon.NewService(uow, repository.NewCouponRepository(db), nil)
	subs := subscription.NewService(uow, subRepo, plans, coupons, ledgerSvc,
		gateway.NewRegistry[gateway.SubscriptionGateway](fake.NewSubscriptions("fakesub")), nil, time.Second)
	settlements := fake.NewSettlements("fakepay")
	recon := reconciliation.NewService(uow, repository.NewReconciliationRepository(db),
		entries, balances, settlements, nil, time.Second)

	_, err := plans.CreatePlan(context.Background(), plan.CreatePlanRequest{
		Code:         "free",
		Name:         "Free",
		Tier:         domain.PlanTierFree,
		Currency:     "USD",
		BillingCycle: domain.BillingCycleMonthly,
		Capabilities: domain.BaselineCapabilities,
		ActorID:      testutil.AdminActorID,
	})
	require.NoError(t, err)

	return &stack{
		tdb: tdb, ledger: ledgerSvc, plans: plans, coupons: coupons, subs: subs, recon: recon,
		events: repository.NewGatewayEventRepository(db), settlements: settlements,
	}
}

func TestPostgres_RevenueExpenseBalance(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	territory := uuid.New()

	_, err := s.ledger.RecordCheckoutFee(ctx, ledger.CheckoutFeeRequest{
		TerritoryID: territory, CheckoutID: uuid.New(), FeeMinorUnits: 10000, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = s.ledger.RequestPayout(ctx, ledger.PayoutRequest{
		TerritoryID: territory, PayoutID: uuid.New(), AmountMinorUnits: 3000, Currency: "USD",
		DestinationAccount: "acct_seller_1",
	})
	require.NoError(t, err)

	revenue, expenses, net := testutil.BalanceTotals(t, s.tdb.DB, territory)
	assert.Equal(t, int64(10000), revenue)
	assert.Equal(t, int64(3000), expenses)
	assert.Equal(t, int64(7000), net)
}

func TestPostgres_ConcurrentRevenueSerializes(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	territory := uuid.New()

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.RecordCheckoutFee(ctx, ledger.CheckoutFeeRequest{
				TerritoryID: territory, CheckoutID: uuid.New(), FeeMinorUnits: 100, Currency: "USD",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	revenue, _, net := testutil.BalanceTotals(t, s.tdb.DB, territory)
	assert.Equal(t, int64(workers*100), revenue)
	assert.Equal(t, revenue, net)
}

func TestPostgres_StatusTransitionsAndHistory(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	entry, err := s.ledger.CreateEntry(ctx, domain.NewLedgerEntryParams{
		TerritoryID: uuid.New(), Type: domain.TransactionTypePayment,
		AmountMinorUnits: 5000, Currency: "USD", Description: "checkout",
	})
	require.NoError(t, err)

	_, err = s.ledger.TransitionStatus(ctx, entry.ID, domain.TransactionStatusRefunded, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = s.ledger.TransitionStatus(ctx, entry.ID, domain.TransactionStatusSucceeded, nil, nil)
	require.NoError(t, err)
	_, err = s.ledger.TransitionStatus(ctx, entry.ID, domain.TransactionStatusSucceeded, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CountRows(t, s.tdb.DB, "ledger_status_history", "ledger_entry_id = $1", entry.ID))

	_, err = s.ledger.TransitionStatus(ctx, entry.ID, domain.TransactionStatusRefunded, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CountRows(t, s.tdb.DB, "ledger_status_history", "ledger_entry_id = $1", entry.ID))

	got, err := s.ledger.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.AmountMinorUnits)
	assert.Equal(t, domain.TransactionStatusRefunded, got.Status)
}

func TestPostgres_ReconciliationAgainstSettledEntries(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	territory := uuid.New()
	today := domain.TruncateToDate(time.Now().UTC())

	entry, err := s.ledger.CreateEntry(ctx, domain.NewLedgerEntryParams{
		TerritoryID: territory, Type: domain.TransactionTypePayment,
		AmountMinorUnits: 5000, Currency: "USD", Description: "checkout",
	})
	require.NoError(t, err)
	_, err = s.ledger.TransitionStatus(ctx, entry.ID, domain.TransactionStatusSucceeded, nil, nil)
	require.NoError(t, err)

	rec, err := s.recon.Reconcile(ctx, territory, today, "USD", 5000)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconciliationStatusReconciled, rec.Status)
	assert.Zero(t, rec.DifferenceMinorUnits)

	rec, err = s.recon.UpdateActualAmount(ctx, rec.ID, 5200, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconciliationStatusDiscrepancy, rec.Status)
	assert.Equal(t, int64(200), rec.DifferenceMinorUnits)

	revs, err := s.recon.ListRevisions(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestPostgres_ConcurrentGetOrCreateConverges(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	user := uuid.New()

	const workers = 8
	ids := make(chan uuid.UUID, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := s.subs.GetOrCreateSubscription(ctx, user, nil)
			if assert.NoError(t, err) {
				ids <- sub.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.Equal(t, 1, testutil.CountRows(t, s.tdb.DB, "subscriptions", "user_id = $1", user))
}

func TestPostgres_CouponUsageLimitUnderConcurrency(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	territory := uuid.New()

	premium, err := s.plans.CreatePlan(ctx, plan.CreatePlanRequest{
		Code: "premium-monthly", Name: "Premium", Tier: domain.PlanTierPremium,
		PricePerCycleMinorUnits: 1999, Currency: "USD", BillingCycle: domain.BillingCycleMonthly,
		Capabilities: append(append([]domain.Capability{}, domain.BaselineCapabilities...), domain.CapabilityAnalytics),
		ActorID:      testutil.AdminActorID,
	})
	require.NoError(t, err)

	maxUses := 3
	_, err = s.coupons.CreateCoupon(ctx, coupon.CreateCouponRequest{
		Code: "LAUNCH", DiscountType: domain.DiscountTypePercentage, DiscountValue: 20, MaxUses: &maxUses,
	})
	require.NoError(t, err)

	const buyers = 6
	code := "LAUNCH"
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.subs.CreateSubscription(ctx, subscription.CreateRequest{
				UserID: uuid.New(), TerritoryID: &territory, PlanID: premium.ID, CouponCode: &code,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrCouponNotRedeemable):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, maxUses, ok)
	assert.Equal(t, buyers-maxUses, rejected)
	assert.Equal(t, maxUses, testutil.CouponUsedCount(t, s.tdb.DB, "LAUNCH"))

	revenue, _, _ := testutil.BalanceTotals(t, s.tdb.DB, territory)
	assert.Equal(t, int64(maxUses*1599), revenue)
}

func TestPostgres_GatewayEventIntake(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	ev := &domain.GatewayEvent{
		ID: uuid.New(), Gateway: "fakepay", PayloadHash: "abc", Signature: "sig",
		Payload: []byte(`{}`), Status: domain.GatewayEventStatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.events.Create(ctx, ev))

	dup := *ev
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.events.Create(ctx, &dup), domain.ErrDuplicate)

	claimed, err := s.events.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, s.events.UpdateStatus(ctx, ev.ID, domain.GatewayEventStatusDispatched, nil))
	counts, err := s.events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.GatewayEventStatusDispatched])
	assert.Zero(t, counts[domain.GatewayEventStatusPending])
}
