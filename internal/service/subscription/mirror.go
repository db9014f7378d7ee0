package subscription

import (
	"context"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/gateway"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

// mirrorBestEffort tells the gateway about a cancellation that is already
// committed locally. Failure is logged and queued for retry, never returned.
func (s *Service) mirrorBestEffort(ctx context.Context, sub *domain.Subscription, atPeriodEnd bool) {
	gw, err := s.gateways.Get(*sub.GatewayName)
	if err == nil {
		err = gateway.Call(ctx, gw, "cancel_subscription", s.gatewayTimeout, s.observer, func(ctx context.Context) error {
			_, err := gw.CancelSubscription(ctx, *sub.GatewaySubscriptionID, atPeriodEnd)
			return err
		})
	}
	if err == nil {
		return
	}

	log := logging.FromContext(ctx)
	log.Warn("gateway cancellation mirror failed, local cancellation stands",
		"subscription_id", sub.ID,
		"gateway", *sub.GatewayName,
		"gateway_ref", *sub.GatewaySubscriptionID,
		"at_period_end", atPeriodEnd,
		"error", err,
	)
	if s.retrier == nil {
		return
	}
	if err := s.retrier.EnqueueCancelMirror(ctx, sub.ID, atPeriodEnd); err != nil {
		log.Error("cancellation mirror retry could not be queued",
			"subscription_id", sub.ID, "alert", true, "error", err)
	}
}

// mirrorStrict runs fn against the subscription's gateway and returns its
// failure to the caller. A nil state with a nil error means the gateway was
// already in the requested state.
func (s *Service) mirrorStrict(
	ctx context.Context,
	sub *domain.Subscription,
	operation string,
	fn func(ctx context.Context, gw gateway.SubscriptionGateway, ref string) (*gateway.SubscriptionState, error),
) (*gateway.SubscriptionState, error) {
	gw, err := s.gateways.Get(*sub.GatewayName)
	if err != nil {
		return nil, err
	}
	var st *gateway.SubscriptionState
	err = gateway.Call(ctx, gw, operation, s.gatewayTimeout, s.observer, func(ctx context.Context) error {
		var err error
		st, err = fn(ctx, gw, *sub.GatewaySubscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
