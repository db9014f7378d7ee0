// Package metrics holds the fire-and-forget sinks services report financial
// events to. Observers run after commit and can never fail a use case.
package metrics

import (
	"github.com/josh-kwaku/territory-billing/internal/domain"
)

type Observer interface {
	EntryPosted(entryType domain.TransactionType, currency domain.Currency, amountMinorUnits int64)
	EntryTransitioned(from, to domain.TransactionStatus)
	BalanceChanged(direction domain.BalanceDirection, currency domain.Currency, amountMinorUnits int64)
	Reconciled(status domain.ReconciliationStatus, differenceMinorUnits int64)
	SubscriptionChanged(action string, status domain.SubscriptionStatus)
	CouponRedeemed(discountType domain.DiscountType)
	GatewayCall(gateway, operation string, err error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) EntryPosted(domain.TransactionType, domain.Currency, int64)           {}
func (Nop) EntryTransitioned(domain.TransactionStatus, domain.TransactionStatus) {}
func (Nop) BalanceChanged(domain.BalanceDirection, domain.Currency, int64)       {}
func (Nop) Reconciled(domain.ReconciliationStatus, int64)                        {}
func (Nop) SubscriptionChanged(string, domain.SubscriptionStatus)                {}
func (Nop) CouponRedeemed(domain.DiscountType)                                   {}
func (Nop) GatewayCall(string, string, error)                                    {}
