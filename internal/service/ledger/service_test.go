package ledger

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
	"github.com/josh-kwaku/territory-billing/internal/testutil/memstore"
)

const webhookSecret = "whsec_test"

type harness struct {
	svc      *Service
	store    *memstore.Store
	payments *fake.Payments
	payouts  *fake.Payouts
}

func setup(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	payments := fake.NewPayments("fakepay", webhookSecret)
	payouts := fake.NewPayouts("fakepay")

	svc := NewService(
		store,
		store.Ledger(),
		store.History(),
		store.Balances(),
		store.Projections(),
		gateway.NewRegistry[gateway.PaymentGateway](payments),
		gateway.NewRegistry[gateway.PayoutGateway](payouts),
		nil,
		time.Second,
	)
	return &harness{svc: svc, store: store, payments: payments, payouts: payouts}
}

func (h *harness) fee(t *testing.T, territoryID uuid.UUID, amount int64) *domain.RevenueRecord {
	t.Helper()
	rec, err := h.svc.RecordCheckoutFee(context.Background(), CheckoutFeeRequest{
		TerritoryID:   territoryID,
		CheckoutID:    uuid.New(),
		FeeMinorUnits: amount,
		Currency:      "USD",
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) payout(t *testing.T, territoryID uuid.UUID, amount int64) *PayoutResult {
	t.Helper()
	res, err := h.svc.RequestPayout(context.Background(), PayoutRequest{
		TerritoryID:        territoryID,
		PayoutID:           uuid.New(),
		AmountMinorUnits:   amount,
		Currency:           "USD",
		DestinationAccount: "acct_seller_1",
	})
	require.NoError(t, err)
	return res
}

func TestRevenueAndPayout_NetBalance(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()

	rev := h.fee(t, territory, 10000)
	require.NotNil(t, rev.LedgerEntryID)

	fee, err := h.svc.GetEntry(ctx, *rev.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeFee, fee.Type)
	assert.Equal(t, domain.TransactionStatusSucceeded, fee.Status)

	po := h.payout(t, territory, 3000)
	assert.Equal(t, domain.TransactionStatusProcessing, po.Entry.Status)
	assert.Equal(t, "fakepay", po.Entry.Metadata[domain.MetadataGatewayName])
	assert.NotEmpty(t, po.Entry.Metadata[domain.MetadataGatewayReference])

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.TotalRevenueMinorUnits)
	assert.Equal(t, int64(3000), bal.TotalExpensesMinorUnits)
	assert.Equal(t, int64(7000), bal.NetBalanceMinorUnits)
}

func TestRecordCheckoutFee_Idempotent(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	req := CheckoutFeeRequest{TerritoryID: territory, CheckoutID: uuid.New(), FeeMinorUnits: 500, Currency: "USD"}

	first, err := h.svc.RecordCheckoutFee(ctx, req)
	require.NoError(t, err)
	second, err := h.svc.RecordCheckoutFee(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal.TotalRevenueMinorUnits)
	assert.Len(t, h.store.Ledger().Entries(), 1)

	req.FeeMinorUnits = 600
	_, err = h.svc.RecordCheckoutFee(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestRecordCheckoutFee_CurrencyMismatchRollsBack(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	h.fee(t, territory, 1000)

	checkout := uuid.New()
	_, err := h.svc.RecordCheckoutFee(ctx, CheckoutFeeRequest{
		TerritoryID: territory, CheckoutID: checkout, FeeMinorUnits: 100, Currency: "EUR",
	})
	require.ErrorIs(t, err, domain.ErrCurrencyMismatch)

	_, err = h.store.Projections().GetRevenueByCheckout(ctx, checkout)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, h.store.Ledger().Entries(), 1)
}

func TestNegativeAmountsRejected(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()

	_, err := h.svc.CreateEntry(ctx, domain.NewLedgerEntryParams{
		TerritoryID: territory, Type: domain.TransactionTypePayment, AmountMinorUnits: -1, Currency: "USD",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.svc.AddRevenue(ctx, territory, -1, "USD")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.AddExpense(ctx, territory, -1, "USD")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.svc.GetBalance(ctx, territory)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionStatus(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.TransactionStatus
		wantErr bool
	}{
		{"pending to succeeded to refunded", []domain.TransactionStatus{domain.TransactionStatusSucceeded, domain.TransactionStatusRefunded}, false},
		{"partial then full refund", []domain.TransactionStatus{domain.TransactionStatusSucceeded, domain.TransactionStatusPartiallyRefunded, domain.TransactionStatusRefunded}, false},
		{"through processing", []domain.TransactionStatus{domain.TransactionStatusProcessing, domain.TransactionStatusFailed}, false},
		{"pending to refunded", []domain.TransactionStatus{domain.TransactionStatusRefunded}, true},
		{"failed is terminal", []domain.TransactionStatus{domain.TransactionStatusFailed, domain.TransactionStatusSucceeded}, true},
		{"refunded cannot go back", []domain.TransactionStatus{domain.TransactionStatusSucceeded, domain.TransactionStatusRefunded, domain.TransactionStatusSucceeded}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			ctx := context.Background()
			e, err := h.svc.CreateEntry(ctx, domain.NewLedgerEntryParams{
				TerritoryID: uuid.New(), Type: domain.TransactionTypePayment, AmountMinorUnits: 1000, Currency: "USD",
			})
			require.NoError(t, err)

			var lastErr error
			applied := 0
			for _, next := range tt.path {
				if _, lastErr = h.svc.TransitionStatus(ctx, e.ID, next, nil, nil); lastErr != nil {
					break
				}
				applied++
			}

			history, err := h.svc.GetHistory(ctx, e.ID)
			require.NoError(t, err)
			assert.Len(t, history, applied)

			if tt.wantErr {
				require.Error(t, lastErr)
				assert.ErrorIs(t, lastErr, domain.ErrInvalidState)
				var ite *domain.InvalidTransitionError
				assert.True(t, errors.As(lastErr, &ite))
				return
			}
			require.NoError(t, lastErr)
			got, err := h.svc.GetEntry(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
		})
	}
}

func TestTransitionStatus_SameStatusIsNoOp(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	e, err := h.svc.CreateEntry(ctx, domain.NewLedgerEntryParams{
		TerritoryID: uuid.New(), Type: domain.TransactionTypePayment, AmountMinorUnits: 1000, Currency: "USD",
	})
	require.NoError(t, err)

	actor := uuid.New()
	reason := "captured"
	_, err = h.svc.TransitionStatus(ctx, e.ID, domain.TransactionStatusSucceeded, &actor, &reason)
	require.NoError(t, err)
	_, err = h.svc.TransitionStatus(ctx, e.ID, domain.TransactionStatusSucceeded, &actor, &reason)
	require.NoError(t, err)

	history, err := h.svc.GetHistory(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.TransactionStatusPending, history[0].PreviousStatus)
	assert.Equal(t, domain.TransactionStatusSucceeded, history[0].NewStatus)
	assert.Equal(t, &actor, history[0].ChangedByActorID)
	assert.Equal(t, &reason, history[0].Reason)

	got, err := h.svc.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.AmountMinorUnits)
	assert.Equal(t, domain.Currency("USD"), got.Currency)
}

func TestPayoutFailure_BooksOffsettingAdjustment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	h.fee(t, territory, 10000)
	po := h.payout(t, territory, 3000)

	h.payouts.SetStatus(po.Entry.Metadata[domain.MetadataGatewayReference], gateway.PayoutStatusFailed)
	entry, err := h.svc.SyncPayoutStatus(ctx, po.Expense.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, entry.Status)

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(13000), bal.TotalRevenueMinorUnits)
	assert.Equal(t, int64(3000), bal.TotalExpensesMinorUnits)
	assert.Equal(t, int64(10000), bal.NetBalanceMinorUnits)

	reversals, err := h.store.Ledger().ListByRelatedEntity(ctx, domain.RelatedEntityLedgerEntry, entry.ID)
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, domain.TransactionTypeAdjustment, reversals[0].Type)
	assert.True(t, reversals[0].References(entry.ID))
	assert.Equal(t, string(domain.DirectionRevenue), reversals[0].Metadata[domain.MetadataDirection])
}

func TestRequestPayout_LocalFailureCancelsGatewayPayout(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.store.Fail("Projections.CreateExpense", errors.New("disk full"))

	_, err := h.svc.RequestPayout(ctx, PayoutRequest{
		TerritoryID:        uuid.New(),
		PayoutID:           uuid.New(),
		AmountMinorUnits:   3000,
		Currency:           "USD",
		DestinationAccount: "acct_seller_1",
	})
	require.Error(t, err)
	assert.Equal(t, 1, h.payouts.Calls("cancel_payout"))
	assert.Empty(t, h.store.Ledger().Entries())
}

func TestRequestPayout_GatewayFailureWritesNothing(t *testing.T) {
	h := setup(t)
	h.payouts.Fail("create_payout", errors.New("processor unavailable"))

	_, err := h.svc.RequestPayout(context.Background(), PayoutRequest{
		TerritoryID:        uuid.New(),
		PayoutID:           uuid.New(),
		AmountMinorUnits:   3000,
		Currency:           "USD",
		DestinationAccount: "acct_seller_1",
	})
	require.ErrorIs(t, err, domain.ErrGateway)
	var ge *domain.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "fakepay", ge.Gateway)
	assert.Empty(t, h.store.Ledger().Entries())
}

func TestCancelPayout(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	po := h.payout(t, territory, 2000)

	entry, err := h.svc.CancelPayout(ctx, po.Expense.PayoutID, nil, "seller asked")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCanceled, entry.Status)

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.NetBalanceMinorUnits)

	// A second cancel is a no-op on both sides.
	_, err = h.svc.CancelPayout(ctx, po.Expense.PayoutID, nil, "seller asked")
	require.NoError(t, err)
	bal, err = h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal.TotalRevenueMinorUnits)
}

func TestPaymentLifecycle(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()

	res, err := h.svc.InitiatePayment(ctx, PaymentRequest{
		TerritoryID: territory, CheckoutID: uuid.New(), AmountMinorUnits: 1000, Currency: "USD",
	})
	require.NoError(t, err)
	require.NotNil(t, res.RedirectURL)
	assert.Equal(t, domain.TransactionStatusPending, res.Entry.Status)

	payload, sig, err := h.payments.Settle(res.Entry.Metadata[domain.MetadataGatewayReference])
	require.NoError(t, err)
	ev, err := h.payments.ProcessWebhook(ctx, payload, sig)
	require.NoError(t, err)

	paid, err := h.svc.HandleGatewayEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, paid.Status)

	_, err = h.svc.HandleGatewayEvent(ctx, ev)
	require.NoError(t, err)
	history, err := h.svc.GetHistory(ctx, paid.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	partial, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: paid.ID, AmountMinorUnits: 400, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPartiallyRefunded, partial.Payment.Status)
	assert.Equal(t, domain.TransactionStatusSucceeded, partial.Refund.Status)
	assert.True(t, partial.Refund.References(paid.ID))

	_, err = h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: paid.ID, AmountMinorUnits: 700})
	assert.ErrorIs(t, err, domain.ErrValidation)

	full, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: paid.ID, AmountMinorUnits: 600})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, full.Payment.Status)
	assert.Equal(t, "1000", full.Payment.Metadata[domain.MetadataRefundedAmount])

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.TotalExpensesMinorUnits)
}

func (h *harness) paid(t *testing.T, territoryID uuid.UUID, amount int64) *domain.LedgerEntry {
	t.Helper()
	res, err := h.svc.InitiatePayment(context.Background(), PaymentRequest{
		TerritoryID: territoryID, CheckoutID: uuid.New(), AmountMinorUnits: amount, Currency: "USD",
	})
	require.NoError(t, err)
	return h.deliver(t, h.payments.Settle, res.Entry.Metadata[domain.MetadataGatewayReference])
}

func (h *harness) deliver(t *testing.T, resolve func(string) ([]byte, string, error), ref string) *domain.LedgerEntry {
	t.Helper()
	ctx := context.Background()
	payload, sig, err := resolve(ref)
	require.NoError(t, err)
	ev, err := h.payments.ProcessWebhook(ctx, payload, sig)
	require.NoError(t, err)
	entry, err := h.svc.HandleGatewayEvent(ctx, ev)
	require.NoError(t, err)
	return entry
}

func TestRefundPayment_PendingRefundFails(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	payment := h.paid(t, territory, 1000)
	before, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)

	h.payments.RefundOutcome(gateway.PaymentStatusPending)
	res, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 1000})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, res.Refund.Status)
	assert.Equal(t, domain.TransactionStatusSucceeded, res.Payment.Status)
	assert.Equal(t, "1000", res.Payment.Metadata[domain.MetadataPendingRefund])

	_, err = h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	failed := h.deliver(t, func(ref string) ([]byte, string, error) {
		return h.payments.FailRefund(ref, "insufficient_funds")
	}, res.Refund.Metadata[domain.MetadataGatewayReference])
	assert.Equal(t, domain.TransactionStatusFailed, failed.Status)

	got, err := h.store.Ledger().GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, got.Status)
	assert.Equal(t, "0", got.Metadata[domain.MetadataPendingRefund])
	assert.Empty(t, got.Metadata[domain.MetadataRefundedAmount])

	after, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, before.NetBalanceMinorUnits, after.NetBalanceMinorUnits)

	h.payments.RefundOutcome("")
	retry, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 1000})
	require.NoError(t, err)
	assert.NotEqual(t, res.Refund.Metadata[domain.MetadataGatewayReference], retry.Refund.Metadata[domain.MetadataGatewayReference])
	assert.Equal(t, domain.TransactionStatusSucceeded, retry.Refund.Status)
	assert.Equal(t, domain.TransactionStatusRefunded, retry.Payment.Status)
	assert.Equal(t, "1000", retry.Payment.Metadata[domain.MetadataRefundedAmount])
}

func TestRefundPayment_PendingRefundSettles(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	payment := h.paid(t, territory, 1000)

	h.payments.RefundOutcome(gateway.PaymentStatusPending)
	first, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 300})
	require.NoError(t, err)
	second, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 700})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, second.Payment.Status)
	assert.Equal(t, "1000", second.Payment.Metadata[domain.MetadataPendingRefund])

	h.deliver(t, h.payments.SettleRefund, first.Refund.Metadata[domain.MetadataGatewayReference])
	got, err := h.store.Ledger().GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPartiallyRefunded, got.Status)
	assert.Equal(t, "300", got.Metadata[domain.MetadataRefundedAmount])
	assert.Equal(t, "700", got.Metadata[domain.MetadataPendingRefund])

	settled := h.deliver(t, h.payments.SettleRefund, second.Refund.Metadata[domain.MetadataGatewayReference])
	assert.Equal(t, domain.TransactionStatusSucceeded, settled.Status)
	got, err = h.store.Ledger().GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, got.Status)
	assert.Equal(t, "1000", got.Metadata[domain.MetadataRefundedAmount])
	assert.Equal(t, "0", got.Metadata[domain.MetadataPendingRefund])

	// redelivery leaves the totals alone
	h.deliver(t, h.payments.SettleRefund, second.Refund.Metadata[domain.MetadataGatewayReference])
	got, err = h.store.Ledger().GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", got.Metadata[domain.MetadataRefundedAmount])

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.TotalExpensesMinorUnits)
}

func TestRefundPayment_DeclinedByGateway(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	payment := h.paid(t, uuid.New(), 1000)

	h.payments.RefundOutcome(gateway.PaymentStatusFailed)
	_, err := h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 500})
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "create_refund", gwErr.Operation)

	h.payments.RefundOutcome("")
	h.payments.Fail("create_refund", errors.New("connection reset"))
	_, err = h.svc.RefundPayment(ctx, RefundRequest{PaymentEntryID: payment.ID, AmountMinorUnits: 500})
	require.ErrorAs(t, err, &gwErr)

	got, err := h.store.Ledger().GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSucceeded, got.Status)
	assert.Empty(t, got.Metadata[domain.MetadataPendingRefund])
	refunds, err := h.store.Ledger().ListByRelatedEntity(ctx, domain.RelatedEntityLedgerEntry, payment.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestInitiatePayment_LocalFailureCancelsIntent(t *testing.T) {
	h := setup(t)
	h.store.Fail("Ledger.Create", errors.New("connection reset"))

	_, err := h.svc.InitiatePayment(context.Background(), PaymentRequest{
		TerritoryID: uuid.New(), CheckoutID: uuid.New(), AmountMinorUnits: 1000, Currency: "USD",
	})
	require.Error(t, err)
	assert.Equal(t, 1, h.payments.Calls("cancel_intent"))
}

func TestHandleGatewayEvent_UnknownReference(t *testing.T) {
	h := setup(t)
	_, err := h.svc.HandleGatewayEvent(context.Background(), &gateway.Event{
		ID: "evt_1", Gateway: "fakepay", Type: gateway.EventPaymentSucceeded, Reference: "pi_missing",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLinkRelated(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	newEntry := func(territoryID uuid.UUID) *domain.LedgerEntry {
		e, err := h.svc.CreateEntry(ctx, domain.NewLedgerEntryParams{
			TerritoryID: territoryID, Type: domain.TransactionTypePayment, AmountMinorUnits: 100, Currency: "USD",
		})
		require.NoError(t, err)
		return e
	}

	a, b, c := newEntry(territory), newEntry(territory), newEntry(territory)

	_, err := h.svc.LinkRelated(ctx, a.ID, []uuid.UUID{b.ID})
	require.NoError(t, err)
	_, err = h.svc.LinkRelated(ctx, b.ID, []uuid.UUID{c.ID})
	require.NoError(t, err)

	_, err = h.svc.LinkRelated(ctx, c.ID, []uuid.UUID{a.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.LinkRelated(ctx, a.ID, []uuid.UUID{a.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	other := newEntry(uuid.New())
	_, err = h.svc.LinkRelated(ctx, a.ID, []uuid.UUID{other.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.LinkRelated(ctx, a.ID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostAdjustment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	territory := uuid.New()
	rev := h.fee(t, territory, 1000)

	tests := []struct {
		name    string
		req     AdjustmentRequest
		wantErr error
	}{
		{
			name: "expense correction of a fee",
			req: AdjustmentRequest{
				TerritoryID: territory, AmountMinorUnits: 200, Currency: "USD",
				Direction: domain.DirectionExpense, CorrectsEntryID: rev.LedgerEntryID,
				Reason: "fee overcharged", ActorID: uuid.New(),
			},
		},
		{
			name:    "missing direction",
			req:     AdjustmentRequest{TerritoryID: territory, AmountMinorUnits: 200, Currency: "USD", Reason: "x", ActorID: uuid.New()},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "missing reason",
			req:     AdjustmentRequest{TerritoryID: territory, AmountMinorUnits: 200, Currency: "USD", Direction: domain.DirectionRevenue, ActorID: uuid.New()},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "negative amount",
			req:     AdjustmentRequest{TerritoryID: territory, AmountMinorUnits: -5, Currency: "USD", Direction: domain.DirectionRevenue, Reason: "x", ActorID: uuid.New()},
			wantErr: domain.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := h.svc.PostAdjustment(ctx, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.TransactionStatusSucceeded, e.Status)
		})
	}

	bal, err := h.svc.GetBalance(ctx, territory)
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal.NetBalanceMinorUnits)
}
