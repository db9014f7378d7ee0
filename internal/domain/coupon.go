package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

type Coupon struct {
	ID            uuid.UUID
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	Currency      *Currency
	ValidFrom     time.Time
	ValidUntil    *time.Time
	MaxUses       *int
	UsedCount     int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon definition. Percentages are 0-100; fixed
// amounts are minor units and need a currency.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return NewValidationError("code", "required")
	}
	switch c.DiscountType {
	case DiscountTypePercentage:
		if c.DiscountValue < 0 || c.DiscountValue > 100 {
			return NewValidationError("discount_value", "percentage must be between 0 and 100")
		}
	case DiscountTypeFixedAmount:
		if c.DiscountValue < 0 {
			return NewValidationError("discount_value", "fixed amount must not be negative")
		}
		if c.Currency == nil || !c.Currency.IsValid() {
			return NewValidationError("currency", "required for fixed amount coupons")
		}
	default:
		return NewValidationError("discount_type", "unknown discount type")
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		return NewValidationError("max_uses", "must not be negative")
	}
	if c.ValidUntil != nil && !c.ValidUntil.After(c.ValidFrom) {
		return NewValidationError("valid_until", "must be after valid_from")
	}
	return nil
}

func (c *Coupon) IsExhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

func (c *Coupon) IsRedeemable(now time.Time) bool {
	if !c.IsActive || c.IsExhausted() {
		return false
	}
	if now.Before(c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && !now.Before(*c.ValidUntil) {
		return false
	}
	return true
}

// Discount returns how many minor units come off price. Percentages round
// half away from zero; the discount never exceeds the price.
func (c *Coupon) Discount(price int64, currency Currency) (int64, error) {
	if price < 0 {
		return 0, ErrInvalidAmount
	}
	var off int64
	switch c.DiscountType {
	case DiscountTypePercentage:
		off = decimal.NewFromInt(price).
			Mul(decimal.NewFromInt(c.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case DiscountTypeFixedAmount:
		if c.Currency != nil && *c.Currency != currency {
			return 0, ErrCurrencyMismatch
		}
		off = c.DiscountValue
	}
	return min(off, price), nil
}
