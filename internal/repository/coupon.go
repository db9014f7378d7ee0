package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

const couponColumns = `id, code, discount_type, discount_value, currency, valid_from,
	valid_until, max_uses, used_count, is_active, created_at, updated_at`

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, tx *sql.Tx, c *domain.Coupon) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Code, c.DiscountType, c.DiscountValue, c.Currency, c.ValidFrom,
		c.ValidUntil, c.MaxUses, c.UsedCount, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByCode: %w", err)
	}
	return c, nil
}

func (r *CouponRepository) SetActive(ctx context.Context, tx *sql.Tx, id uuid.UUID, active bool, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE coupons SET is_active = $1, updated_at = $2 WHERE id = $3`, active, now, id,
	)
	if err != nil {
		return fmt.Errorf("SetActive: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetActive: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("SetActive: %w", domain.ErrNotFound)
	}
	return nil
}

// Redeem takes one use of the coupon. The guard is evaluated under the row
// lock, so concurrent redemptions can never exceed max_uses.
func (r *CouponRepository) Redeem(ctx context.Context, tx *sql.Tx, id uuid.UUID, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND is_active
			AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)
			AND (max_uses IS NULL OR used_count < max_uses)`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("Redeem: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Redeem: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Redeem: %w", domain.ErrCouponNotRedeemable)
	}
	return nil
}

// Attach links a coupon to a subscription; a subscription takes at most one.
func (r *CouponRepository) Attach(ctx context.Context, tx *sql.Tx, sc *domain.SubscriptionCoupon) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO subscription_coupons (id, subscription_id, coupon_id, discount_minor_units, applied_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sc.ID, sc.SubscriptionID, sc.CouponID, sc.DiscountMinorUnits, sc.AppliedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Attach: %w", domain.ErrCouponAlreadyUsed)
		}
		return fmt.Errorf("Attach: %w", err)
	}
	return nil
}

func (r *CouponRepository) GetBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.SubscriptionCoupon, error) {
	var sc domain.SubscriptionCoupon
	err := r.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, coupon_id, discount_minor_units, applied_at
		FROM subscription_coupons WHERE subscription_id = $1`, subscriptionID,
	).Scan(&sc.ID, &sc.SubscriptionID, &sc.CouponID, &sc.DiscountMinorUnits, &sc.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetBySubscription: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetBySubscription: %w", err)
	}
	return &sc, nil
}

func scanCoupon(s scanner) (*domain.Coupon, error) {
	var c domain.Coupon
	err := s.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.Currency, &c.ValidFrom,
		&c.ValidUntil, &c.MaxUses, &c.UsedCount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
