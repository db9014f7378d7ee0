// Package subscription manages a user's subscription to a plan, globally or
// inside one territory, and keeps it in step with the subscription gateway.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/metrics"
	"github.com/josh-kwaku/territory-billing/internal/service/coupon"
	"github.com/josh-kwaku/territory-billing/internal/service/ledger"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
)

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type subscriptionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error
	Update(ctx context.Context, tx *sql.Tx, s *domain.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Subscription, error)
	FindCurrent(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error)
	FindByGatewayID(ctx context.Context, gateway, gatewaySubscriptionID string) (*domain.Subscription, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
}

type planSource interface {
	ActivePlan(ctx context.Context, id uuid.UUID, territoryID *uuid.UUID) (*domain.SubscriptionPlan, error)
	DefaultFree(ctx context.Context, territoryID *uuid.UUID) (*domain.SubscriptionPlan, plan.Source, error)
}

type couponRedeemer interface {
	Quote(ctx context.Context, code string, price int64, currency domain.Currency) (*coupon.Quote, error)
	Apply(ctx context.Context, tx *sql.Tx, subscriptionID uuid.UUID, code string, price int64, currency domain.Currency) (*domain.SubscriptionCoupon, *domain.Coupon, error)
}

type ledgerPoster interface {
	NewPosting() *ledger.Posting
}

// MirrorRetrier schedules another attempt at mirroring a cancellation the
// gateway rejected.
type MirrorRetrier interface {
	EnqueueCancelMirror(ctx context.Context, subscriptionID uuid.UUID, atPeriodEnd bool) error
}

type Service struct {
	uow            unitOfWork
	subs           subscriptionRepo
	plans          planSource
	coupons        couponRedeemer
	ledger         ledgerPoster
	gateways       *gateway.Registry[gateway.SubscriptionGateway]
	retrier        MirrorRetrier
	observer       metrics.Observer
	gatewayTimeout time.Duration
	now            func() time.Time
}

func NewService(
	uow unitOfWork,
	subs subscriptionRepo,
	plans planSource,
	coupons couponRedeemer,
	poster ledgerPoster,
	gateways *gateway.Registry[gateway.SubscriptionGateway],
	observer metrics.Observer,
	gatewayTimeout time.Duration,
) *Service {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Service{
		uow:            uow,
		subs:           subs,
		plans:          plans,
		coupons:        coupons,
		ledger:         poster,
		gateways:       gateways,
		observer:       observer,
		gatewayTimeout: gatewayTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetRetrier installs the queue used for failed cancellation mirrors. The
// queue's workers call back into the service, so it is wired after
// construction.
func (s *Service) SetRetrier(r MirrorRetrier) { s.retrier = r }

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return sub, nil
}

func (s *Service) Current(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.FindCurrent(ctx, userID, territoryID)
	if err != nil {
		return nil, fmt.Errorf("Current: %w", err)
	}
	return sub, nil
}

// GetOrCreateSubscription returns the user's live subscription in the scope,
// creating one on the default FREE plan if there is none. Concurrent callers
// converge on the same row.
func (s *Service) GetOrCreateSubscription(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*domain.Subscription, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("GetOrCreateSubscription: %w", domain.NewValidationError("user_id", "required"))
	}
	cur, err := s.subs.FindCurrent(ctx, userID, territoryID)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("GetOrCreateSubscription: %w", err)
	}

	free, _, err := s.plans.DefaultFree(ctx, territoryID)
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateSubscription: %w", err)
	}

	sub := domain.NewSubscription(userID, territoryID, free, s.now())
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.subs.Create(ctx, tx, sub)
	})
	if errors.Is(err, domain.ErrDuplicate) {
		cur, err := s.subs.FindCurrent(ctx, userID, territoryID)
		if err != nil {
			return nil, fmt.Errorf("GetOrCreateSubscription: %w", err)
		}
		return cur, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetOrCreateSubscription: %w", err)
	}
	s.observer.SubscriptionChanged("created", sub.Status)

	logging.FromContext(ctx).Info("free subscription created",
		"subscription_id", sub.ID, "user_id", userID, "territory_id", territoryID, "plan", free.Code)
	return sub, nil
}

type CreateRequest struct {
	UserID      uuid.UUID
	TerritoryID *uuid.UUID
	PlanID      uuid.UUID
	CouponCode  *string
}

// CreateSubscription starts a subscription on a plan. Paid plans are created
// at the gateway first; nothing is stored locally if that fails. The coupon,
// when given, is redeemed in the same unit of work as the subscription.
func (s *Service) CreateSubscription(ctx context.Context, req CreateRequest) (*domain.Subscription, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("CreateSubscription: %w", domain.NewValidationError("user_id", "required"))
	}
	_, err := s.subs.FindCurrent(ctx, req.UserID, req.TerritoryID)
	if err == nil {
		return nil, fmt.Errorf("CreateSubscription: %w", domain.ErrSubscriptionExists)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("CreateSubscription: %w", err)
	}

	p, err := s.plans.ActivePlan(ctx, req.PlanID, req.TerritoryID)
	if err != nil {
		return nil, fmt.Errorf("CreateSubscription: %w", err)
	}

	price := p.PricePerCycleMinorUnits
	var code string
	if req.CouponCode != nil && strings.TrimSpace(*req.CouponCode) != "" {
		q, err := s.coupons.Quote(ctx, *req.CouponCode, price, p.Currency)
		if err != nil {
			return nil, fmt.Errorf("CreateSubscription: %w", err)
		}
		price = q.FinalMinorUnits
		code = q.Coupon.Code
	}

	sub := domain.NewSubscription(req.UserID, req.TerritoryID, p, s.now())

	var gw gateway.SubscriptionGateway
	if !p.IsFree() {
		gw = s.gateways.Primary()
		var st *gateway.SubscriptionState
		err := gateway.Call(ctx, gw, "create_subscription", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
			var err error
			st, err = gw.CreateSubscription(ctx, s.request(sub, p, price, p.TrialDays))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("CreateSubscription: %w", err)
		}
		if st == nil || st.ID == "" {
			return nil, fmt.Errorf("CreateSubscription: %w", domain.NewGatewayError(gw.Name(), "create_subscription",
				errors.New("gateway returned no subscription")))
		}
		attachGateway(sub, gw.Name(), st, s.now())
	}

	posting := s.ledger.NewPosting()
	var redeemed *domain.Coupon
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		posting.Reset()
		redeemed = nil
		if err := s.subs.Create(ctx, tx, sub); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return domain.ErrSubscriptionExists
			}
			return err
		}
		if code != "" {
			_, c, err := s.coupons.Apply(ctx, tx, sub.ID, code, p.PricePerCycleMinorUnits, p.Currency)
			if err != nil {
				return err
			}
			redeemed = c
		}
		return s.postFirstCycle(ctx, tx, posting, sub, p, price)
	})
	if err != nil {
		if gw != nil {
			s.cancelOrphaned(ctx, gw, *sub.GatewaySubscriptionID)
		}
		return nil, fmt.Errorf("CreateSubscription: %w", err)
	}
	posting.Publish()
	s.observer.SubscriptionChanged("created", sub.Status)
	if redeemed != nil {
		s.observer.CouponRedeemed(redeemed.DiscountType)
	}

	logging.FromContext(ctx).Info("subscription created",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"territory_id", sub.TerritoryID,
		"plan", p.Code,
		"status", sub.Status,
		"price", price,
		"coupon", code,
	)
	return sub, nil
}

// postFirstCycle books the first cycle's charge as territory revenue. Free
// plans, trials and global subscriptions have nothing to book.
func (s *Service) postFirstCycle(ctx context.Context, tx *sql.Tx, posting *ledger.Posting, sub *domain.Subscription, p *domain.SubscriptionPlan, price int64) error {
	if p.IsFree() || price == 0 || sub.TerritoryID == nil || sub.Status == domain.SubscriptionStatusTrialing {
		return nil
	}
	related := domain.RelatedEntitySubscription
	meta := map[string]string{"plan_code": p.Code}
	if sub.HasGateway() {
		meta[domain.MetadataGatewayName] = *sub.GatewayName
		meta[domain.MetadataGatewayReference] = *sub.GatewaySubscriptionID
	}
	_, err := posting.Post(ctx, tx, domain.NewLedgerEntryParams{
		TerritoryID:       *sub.TerritoryID,
		Type:              domain.TransactionTypeSubscription,
		AmountMinorUnits:  price,
		Currency:          p.Currency,
		Description:       fmt.Sprintf("subscription %s, first %s cycle", p.Code, p.BillingCycle),
		RelatedEntityID:   &sub.ID,
		RelatedEntityType: &related,
		Metadata:          meta,
	}, domain.TransactionStatusSucceeded)
	return err
}

func (s *Service) request(sub *domain.Subscription, p *domain.SubscriptionPlan, price int64, trialDays int) gateway.SubscriptionRequest {
	meta := map[string]string{
		"subscription_id": sub.ID.String(),
		"user_id":         sub.UserID.String(),
	}
	if sub.TerritoryID != nil {
		meta["territory_id"] = sub.TerritoryID.String()
	}
	return gateway.SubscriptionRequest{
		CustomerRef:     sub.UserID.String(),
		CustomerID:      sub.GatewayCustomerID,
		PlanCode:        p.Code,
		PriceMinorUnits: price,
		Currency:        p.Currency,
		BillingCycle:    p.BillingCycle,
		TrialDays:       trialDays,
		Metadata:        meta,
	}
}

// cancelOrphaned removes a gateway subscription whose local record could not
// be stored. It runs even if the caller's context is already done.
func (s *Service) cancelOrphaned(ctx context.Context, gw gateway.SubscriptionGateway, ref string) {
	ctx = context.WithoutCancel(ctx)
	err := gateway.Call(ctx, gw, "cancel_subscription", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		_, err := gw.CancelSubscription(ctx, ref, false)
		return err
	})
	if err != nil {
		logging.FromContext(ctx).Error("orphaned gateway subscription could not be canceled",
			"gateway", gw.Name(), "gateway_ref", ref, "alert", true, "error", err)
		return
	}
	logging.FromContext(ctx).Warn("canceled gateway subscription after local create failed",
		"gateway", gw.Name(), "gateway_ref", ref)
}

func attachGateway(sub *domain.Subscription, name string, st *gateway.SubscriptionState, now time.Time) {
	sub.GatewayName = &name
	sub.GatewaySubscriptionID = &st.ID
	if st.CustomerID != "" {
		sub.GatewayCustomerID = &st.CustomerID
	}
	applyState(sub, st, now)
}

// applyState mirrors the gateway's view onto sub and reports whether
// anything changed.
func applyState(sub *domain.Subscription, st *gateway.SubscriptionState, now time.Time) bool {
	if st == nil {
		return false
	}
	changed := sub.Status != st.Status ||
		sub.CancelAtPeriodEnd != st.CancelAtPeriodEnd ||
		(!st.CurrentPeriodStart.IsZero() && !sub.CurrentPeriodStart.Equal(st.CurrentPeriodStart)) ||
		(!st.CurrentPeriodEnd.IsZero() && !sub.CurrentPeriodEnd.Equal(st.CurrentPeriodEnd))
	if !changed {
		return false
	}
	if st.Status == domain.SubscriptionStatusCanceled && sub.CanceledAt == nil {
		sub.CanceledAt = &now
	}
	sub.Status = st.Status
	sub.CancelAtPeriodEnd = st.CancelAtPeriodEnd
	if !st.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = st.CurrentPeriodStart
	}
	if !st.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = st.CurrentPeriodEnd
	}
	sub.UpdatedAt = now
	return true
}
