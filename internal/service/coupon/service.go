// Package coupon validates discount codes and redeems them against
// subscriptions.
package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/metrics"
)

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type couponRepo interface {
	Create(ctx context.Context, tx *sql.Tx, c *domain.Coupon) error
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool, now time.Time) error
	Redeem(ctx context.Context, tx *sql.Tx, id uuid.UUID, now time.Time) error
	Attach(ctx context.Context, tx *sql.Tx, sc *domain.SubscriptionCoupon) error
	GetBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.SubscriptionCoupon, error)
}

type Service struct {
	uow      unitOfWork
	coupons  couponRepo
	observer metrics.Observer
	now      func() time.Time
}

func NewService(uow unitOfWork, coupons couponRepo, observer metrics.Observer) *Service {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &Service{
		uow:      uow,
		coupons:  coupons,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateCouponRequest struct {
	Code          string
	DiscountType  domain.DiscountType
	DiscountValue int64
	Currency      *domain.Currency
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	MaxUses       *int
}

func (s *Service) CreateCoupon(ctx context.Context, req CreateCouponRequest) (*domain.Coupon, error) {
	now := s.now()
	c := &domain.Coupon{
		ID:            uuid.New(),
		Code:          domain.NormalizeCouponCode(req.Code),
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		Currency:      req.Currency,
		ValidFrom:     now,
		ValidUntil:    req.ValidUntil,
		MaxUses:       req.MaxUses,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.ValidFrom != nil {
		c.ValidFrom = req.ValidFrom.UTC()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("CreateCoupon: %w", err)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.coupons.Create(ctx, tx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateCoupon: %w", err)
	}

	logging.FromContext(ctx).Info("coupon created",
		"coupon_id", c.ID, "code", c.Code, "discount_type", c.DiscountType, "discount_value", c.DiscountValue)
	return c, nil
}

func (s *Service) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := s.coupons.GetByCode(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		return nil, fmt.Errorf("GetCoupon: %w", err)
	}
	return c, nil
}

func (s *Service) Deactivate(ctx context.Context, code string) error {
	c, err := s.coupons.GetByCode(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.coupons.SetActive(ctx, tx, c.ID, false, s.now())
	})
	if err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	logging.FromContext(ctx).Info("coupon deactivated", "coupon_id", c.ID, "code", c.Code)
	return nil
}

type Quote struct {
	Coupon             *domain.Coupon
	DiscountMinorUnits int64
	FinalMinorUnits    int64
}

// Quote checks that code can be redeemed now and prices it against price.
// Nothing is reserved.
func (s *Service) Quote(ctx context.Context, code string, price int64, currency domain.Currency) (*Quote, error) {
	c, err := s.redeemable(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("Quote: %w", err)
	}
	off, err := c.Discount(price, currency)
	if err != nil {
		return nil, fmt.Errorf("Quote: %w", err)
	}
	return &Quote{Coupon: c, DiscountMinorUnits: off, FinalMinorUnits: price - off}, nil
}

func (s *Service) redeemable(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := s.coupons.GetByCode(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("coupon %q: %w", code, domain.ErrNotFound)
		}
		return nil, err
	}
	if !c.IsRedeemable(s.now()) {
		return nil, fmt.Errorf("coupon %q: %w", c.Code, domain.ErrCouponNotRedeemable)
	}
	return c, nil
}

// Apply redeems code for a subscription inside the caller's transaction:
// one use is taken and the coupon is linked. A subscription holds at most
// one coupon.
func (s *Service) Apply(ctx context.Context, tx *sql.Tx, subscriptionID uuid.UUID, code string, price int64, currency domain.Currency) (*domain.SubscriptionCoupon, *domain.Coupon, error) {
	_, err := s.coupons.GetBySubscription(ctx, subscriptionID)
	if err == nil {
		return nil, nil, fmt.Errorf("Apply: %w", domain.ErrCouponAlreadyUsed)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("Apply: %w", err)
	}

	c, err := s.redeemable(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("Apply: %w", err)
	}
	off, err := c.Discount(price, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("Apply: %w", err)
	}

	now := s.now()
	if err := s.coupons.Redeem(ctx, tx, c.ID, now); err != nil {
		return nil, nil, fmt.Errorf("Apply: %w", err)
	}
	sc := &domain.SubscriptionCoupon{
		ID:                 uuid.New(),
		SubscriptionID:     subscriptionID,
		CouponID:           c.ID,
		DiscountMinorUnits: off,
		AppliedAt:          now,
	}
	if err := s.coupons.Attach(ctx, tx, sc); err != nil {
		return nil, nil, fmt.Errorf("Apply: %w", err)
	}
	c.UsedCount++
	return sc, c, nil
}

// ApplyToSubscription is Apply in a unit of work of its own, for coupons
// added after the subscription was created.
func (s *Service) ApplyToSubscription(ctx context.Context, subscriptionID uuid.UUID, code string, price int64, currency domain.Currency) (*domain.SubscriptionCoupon, error) {
	var (
		sc *domain.SubscriptionCoupon
		c  *domain.Coupon
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		sc, c, err = s.Apply(ctx, tx, subscriptionID, code, price, currency)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ApplyToSubscription: %w", err)
	}
	s.observer.CouponRedeemed(c.DiscountType)

	logging.FromContext(ctx).Info("coupon applied",
		"subscription_id", subscriptionID, "coupon_id", c.ID, "discount", sc.DiscountMinorUnits)
	return sc, nil
}

func (s *Service) ForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.SubscriptionCoupon, error) {
	sc, err := s.coupons.GetBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("ForSubscription: %w", err)
	}
	return sc, nil
}
