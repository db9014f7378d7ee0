package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

// UpdateSubscription moves a subscription to another plan. Gateway-backed
// subscriptions swap at the gateway and mirror its period and status; local
// ones restart their period on the new plan's cycle.
func (s *Service) UpdateSubscription(ctx context.Context, id, planID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("UpdateSubscription: %w", err)
	}
	if sub.Status.IsTerminal() {
		return nil, fmt.Errorf("UpdateSubscription: subscription is %s: %w", sub.Status, domain.ErrInvalidState)
	}
	p, err := s.plans.ActivePlan(ctx, planID, sub.TerritoryID)
	if err != nil {
		return nil, fmt.Errorf("UpdateSubscription: %w", err)
	}
	if sub.PlanID == p.ID {
		return sub, nil
	}

	var st *gateway.SubscriptionState
	if sub.HasGateway() {
		st, err = s.mirrorStrict(ctx, sub, "update_subscription",
			func(ctx context.Context, gw gateway.SubscriptionGateway, ref string) (*gateway.SubscriptionState, error) {
				return gw.UpdateSubscription(ctx, ref, s.request(sub, p, p.PricePerCycleMinorUnits, 0))
			})
		if err != nil {
			return nil, fmt.Errorf("UpdateSubscription: %w", err)
		}
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.subs.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			return fmt.Errorf("subscription is %s: %w", cur.Status, domain.ErrInvalidState)
		}
		now := s.now()
		if st != nil {
			cur.PlanID = p.ID
			cur.UpdatedAt = now
			applyState(cur, st, now)
		} else {
			cur.ChangePlan(p, now)
		}
		if err := s.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateSubscription: %w", err)
	}
	s.observer.SubscriptionChanged("plan_changed", sub.Status)

	logging.FromContext(ctx).Info("subscription plan changed",
		"subscription_id", sub.ID, "plan", p.Code, "period_end", sub.CurrentPeriodEnd)
	return sub, nil
}

// CancelSubscription cancels locally, immediately or at period end, and then
// tells the gateway. The local cancellation stands even if the gateway
// cannot be reached.
func (s *Service) CancelSubscription(ctx context.Context, id uuid.UUID, atPeriodEnd bool) (*domain.Subscription, error) {
	var (
		sub     *domain.Subscription
		changed bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.subs.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		changed = cur.Cancel(atPeriodEnd, s.now())
		if changed {
			if err := s.subs.Update(ctx, tx, cur); err != nil {
				return err
			}
		}
		sub = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("CancelSubscription: %w", err)
	}
	if !changed {
		return sub, nil
	}
	s.observer.SubscriptionChanged("canceled", sub.Status)

	logging.FromContext(ctx).Info("subscription canceled",
		"subscription_id", sub.ID, "at_period_end", atPeriodEnd, "status", sub.Status)

	if sub.HasGateway() {
		s.mirrorBestEffort(ctx, sub, atPeriodEnd)
	}
	return sub, nil
}

// ReactivateSubscription withdraws a scheduled cancellation. The gateway must
// agree first; billing that silently stays canceled is worse than an error.
func (s *Service) ReactivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ReactivateSubscription: %w", err)
	}
	if !sub.IsCancelScheduled() {
		return nil, fmt.Errorf("ReactivateSubscription: no cancellation is scheduled: %w", domain.ErrInvalidState)
	}

	var st *gateway.SubscriptionState
	if sub.HasGateway() {
		st, err = s.mirrorStrict(ctx, sub, "reactivate_subscription",
			func(ctx context.Context, gw gateway.SubscriptionGateway, ref string) (*gateway.SubscriptionState, error) {
				return gw.ReactivateSubscription(ctx, ref)
			})
		if err != nil {
			return nil, fmt.Errorf("ReactivateSubscription: %w", err)
		}
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.subs.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := cur.Reactivate(now); err != nil {
			return err
		}
		applyState(cur, st, now)
		if err := s.subs.Update(ctx, tx, cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		if st != nil {
			logging.FromContext(ctx).Error("gateway reactivated but local record was not updated",
				"subscription_id", id, "gateway", *sub.GatewayName, "alert", true, "error", err)
		}
		return nil, fmt.Errorf("ReactivateSubscription: %w", err)
	}
	s.observer.SubscriptionChanged("reactivated", sub.Status)

	logging.FromContext(ctx).Info("subscription reactivated", "subscription_id", sub.ID)
	return sub, nil
}

// RetryCancelMirror repeats a cancellation mirror that failed earlier. It
// does nothing if the subscription has since moved away from that
// cancellation.
func (s *Service) RetryCancelMirror(ctx context.Context, id uuid.UUID, atPeriodEnd bool) error {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("RetryCancelMirror: %w", err)
	}
	if !sub.HasGateway() {
		return nil
	}
	if atPeriodEnd && !sub.IsCancelScheduled() {
		return nil
	}
	if !atPeriodEnd && sub.Status != domain.SubscriptionStatusCanceled {
		return nil
	}

	_, err = s.mirrorStrict(ctx, sub, "cancel_subscription",
		func(ctx context.Context, gw gateway.SubscriptionGateway, ref string) (*gateway.SubscriptionState, error) {
			return gw.CancelSubscription(ctx, ref, atPeriodEnd)
		})
	if err != nil {
		return fmt.Errorf("RetryCancelMirror: %w", err)
	}
	logging.FromContext(ctx).Info("gateway cancellation mirrored on retry", "subscription_id", id)
	return nil
}

// SyncFromGateway pulls the gateway's view of the subscription and stores
// any change in status, period or scheduled cancellation.
func (s *Service) SyncFromGateway(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("SyncFromGateway: %w", err)
	}
	if !sub.HasGateway() {
		return sub, nil
	}

	st, err := s.mirrorStrict(ctx, sub, "get_subscription",
		func(ctx context.Context, gw gateway.SubscriptionGateway, ref string) (*gateway.SubscriptionState, error) {
			return gw.GetSubscription(ctx, ref)
		})
	if err != nil {
		return nil, fmt.Errorf("SyncFromGateway: %w", err)
	}

	var changed bool
	err = s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.subs.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		changed = applyState(cur, st, s.now())
		if changed {
			if err := s.subs.Update(ctx, tx, cur); err != nil {
				return err
			}
		}
		sub = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SyncFromGateway: %w", err)
	}
	if changed {
		s.observer.SubscriptionChanged("synced", sub.Status)
		logging.FromContext(ctx).Info("subscription synced from gateway",
			"subscription_id", sub.ID, "status", sub.Status, "cancel_at_period_end", sub.CancelAtPeriodEnd)
	}
	return sub, nil
}

// SyncByGatewayReference is SyncFromGateway for callers that only know the
// gateway's identifier, such as webhook handlers.
func (s *Service) SyncByGatewayReference(ctx context.Context, gatewayName, ref string) (*domain.Subscription, error) {
	sub, err := s.subs.FindByGatewayID(ctx, gatewayName, ref)
	if err != nil {
		return nil, fmt.Errorf("SyncByGatewayReference: %w", err)
	}
	return s.SyncFromGateway(ctx, sub.ID)
}

// ExpireDue ends subscriptions whose scheduled cancellation has been reached
// and moves gateway-less subscriptions out of a finished trial. It returns
// how many changed; one failure does not stop the sweep.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.subs.ListDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("ExpireDue: %w", err)
	}

	log := logging.FromContext(ctx)
	var n int
	for _, d := range due {
		action, err := s.expire(ctx, d.ID, now)
		if err != nil {
			log.Error("subscription expiry failed", "subscription_id", d.ID, "error", err)
			continue
		}
		if action != "" {
			n++
			log.Info("subscription expired", "subscription_id", d.ID, "action", action)
		}
	}
	return n, nil
}

func (s *Service) expire(ctx context.Context, id uuid.UUID, now time.Time) (string, error) {
	var (
		action string
		status domain.SubscriptionStatus
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		action = ""
		cur, err := s.subs.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case cur.IsCancelScheduled() && !cur.CurrentPeriodEnd.After(now):
			cur.Status = domain.SubscriptionStatusCanceled
			cur.CancelAtPeriodEnd = false
			cur.CanceledAt = &now
			action = "period_ended"
		case cur.Status == domain.SubscriptionStatusTrialing && cur.TrialEnd != nil &&
			!cur.TrialEnd.After(now) && !cur.HasGateway():
			cur.Status = domain.SubscriptionStatusActive
			action = "trial_ended"
		default:
			return nil
		}
		cur.UpdatedAt = now
		status = cur.Status
		return s.subs.Update(ctx, tx, cur)
	})
	if err != nil {
		return "", err
	}
	if action != "" {
		s.observer.SubscriptionChanged(action, status)
	}
	return action, nil
}
