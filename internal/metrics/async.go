package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/josh-kwaku/territory-billing/internal/domain"
)

// Async hands every observation to a background goroutine through a bounded
// buffer. When the buffer is full the observation is dropped and counted.
type Async struct {
	inner   Observer
	queue   chan func()
	dropped atomic.Uint64
	logger  *slog.Logger
	done    chan struct{}
}

func NewAsync(inner Observer, buffer int, logger *slog.Logger) *Async {
	return &Async{
		inner:  inner,
		queue:  make(chan func(), buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run drains the buffer until ctx is canceled.
func (a *Async) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-a.queue:
			a.call(fn)
		}
	}
}

// Wait blocks until Run has returned.
func (a *Async) Wait() { <-a.done }

func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("metrics observer panicked", "panic", r)
		}
	}()
	fn()
}

func (a *Async) enqueue(fn func()) {
	select {
	case a.queue <- fn:
	default:
		if a.dropped.Add(1) == 1 {
			a.logger.Warn("metrics buffer full, dropping observations")
		}
	}
}

func (a *Async) EntryPosted(t domain.TransactionType, c domain.Currency, amount int64) {
	a.enqueue(func() { a.inner.EntryPosted(t, c, amount) })
}

func (a *Async) EntryTransitioned(from, to domain.TransactionStatus) {
	a.enqueue(func() { a.inner.EntryTransitioned(from, to) })
}

func (a *Async) BalanceChanged(d domain.BalanceDirection, c domain.Currency, amount int64) {
	a.enqueue(func() { a.inner.BalanceChanged(d, c, amount) })
}

func (a *Async) Reconciled(s domain.ReconciliationStatus, diff int64) {
	a.enqueue(func() { a.inner.Reconciled(s, diff) })
}

func (a *Async) SubscriptionChanged(action string, s domain.SubscriptionStatus) {
	a.enqueue(func() { a.inner.SubscriptionChanged(action, s) })
}

func (a *Async) CouponRedeemed(t domain.DiscountType) {
	a.enqueue(func() { a.inner.CouponRedeemed(t) })
}

func (a *Async) GatewayCall(gateway, operation string, err error) {
	a.enqueue(func() { a.inner.GatewayCall(gateway, operation, err) })
}
