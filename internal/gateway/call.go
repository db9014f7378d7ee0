package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type CallObserver interface {
	GatewayCall(gateway, operation string, err error)
}

// Call runs fn against g with the caller's context narrowed to timeout. The
// outcome is reported to obs, failures are logged with gateway context and
// returned as *domain.GatewayError. ErrAlreadyInState counts as success.
func Call(ctx context.Context, g Named, operation string, timeout time.Duration, obs CallObserver, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	if obs != nil {
		obs.GatewayCall(g.Name(), operation, err)
	}
	if err == nil || errors.Is(err, ErrAlreadyInState) {
		return nil
	}

	logging.FromContext(ctx).Error("gateway call failed",
		"gateway", g.Name(),
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return Wrap(g, operation, err)
}
