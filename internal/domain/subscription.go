package domain

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid, SubscriptionStatusCanceled, SubscriptionStatusExpired:
		return true
	}
	return false
}

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// InActiveBilling reports whether the subscriber is still being billed (or
// about to be), which blocks plan deactivation.
func (s SubscriptionStatus) InActiveBilling() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// GrantsAccess reports whether the plan's capabilities apply to the user.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s.InActiveBilling()
}

var ActiveBillingStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

type Subscription struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	TerritoryID           *uuid.UUID
	PlanID                uuid.UUID
	Status                SubscriptionStatus
	CurrentPeriodStart    time.Time
	CurrentPeriodEnd      time.Time
	TrialStart            *time.Time
	TrialEnd              *time.Time
	CancelAtPeriodEnd     bool
	CanceledAt            *time.Time
	GatewayName           *string
	GatewaySubscriptionID *string
	GatewayCustomerID     *string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewSubscription starts a subscription on plan at now. Plans with a trial
// begin in trialing with a [now, now+trialDays] window.
func NewSubscription(userID uuid.UUID, territoryID *uuid.UUID, plan *SubscriptionPlan, now time.Time) *Subscription {
	s := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		TerritoryID:        territoryID,
		PlanID:             plan.ID,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.BillingCycle.PeriodEnd(now),
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if plan.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		s.Status = SubscriptionStatusTrialing
		s.TrialStart = &now
		s.TrialEnd = &trialEnd
	}
	return s
}

func (s *Subscription) HasGateway() bool {
	return s.GatewaySubscriptionID != nil && *s.GatewaySubscriptionID != ""
}

func (s *Subscription) IsCancelScheduled() bool {
	return s.CancelAtPeriodEnd && !s.Status.IsTerminal()
}

func (s *Subscription) InTrial(now time.Time) bool {
	return s.Status == SubscriptionStatusTrialing && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// Cancel applies a local cancellation. It reports false when the
// subscription was already in the requested cancellation state.
func (s *Subscription) Cancel(atPeriodEnd bool, now time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	if atPeriodEnd {
		if s.CancelAtPeriodEnd {
			return false
		}
		s.CancelAtPeriodEnd = true
	} else {
		s.Status = SubscriptionStatusCanceled
		s.CancelAtPeriodEnd = false
		s.CanceledAt = &now
	}
	s.UpdatedAt = now
	return true
}

func (s *Subscription) Reactivate(now time.Time) error {
	if !s.IsCancelScheduled() {
		return ErrInvalidState
	}
	s.CancelAtPeriodEnd = false
	s.UpdatedAt = now
	return nil
}

func (s *Subscription) ChangePlan(plan *SubscriptionPlan, now time.Time) {
	s.PlanID = plan.ID
	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = plan.BillingCycle.PeriodEnd(now)
	s.UpdatedAt = now
}

// SubscriptionCoupon links at most one coupon to a subscription.
type SubscriptionCoupon struct {
	ID                 uuid.UUID
	SubscriptionID     uuid.UUID
	CouponID           uuid.UUID
	DiscountMinorUnits int64
	AppliedAt          time.Time
}
