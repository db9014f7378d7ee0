package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionTypePayment      TransactionType = "payment"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeFee          TransactionType = "fee"
	TransactionTypePayout       TransactionType = "payout"
	TransactionTypeAdjustment   TransactionType = "adjustment"
	TransactionTypeSubscription TransactionType = "subscription"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeRefund, TransactionTypeFee,
		TransactionTypePayout, TransactionTypeAdjustment, TransactionTypeSubscription:
		return true
	}
	return false
}

// SettlementSign reports how an entry of this type moves money through the
// external gateway: +1 settles in, -1 settles out, 0 never reaches it.
func (t TransactionType) SettlementSign() int64 {
	switch t {
	case TransactionTypePayment, TransactionTypeSubscription:
		return 1
	case TransactionTypePayout, TransactionTypeRefund:
		return -1
	default:
		return 0
	}
}

type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusProcessing        TransactionStatus = "processing"
	TransactionStatusSucceeded         TransactionStatus = "succeeded"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusCanceled          TransactionStatus = "canceled"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
)

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCanceled,
	},
	TransactionStatusProcessing: {
		TransactionStatusSucceeded,
		TransactionStatusFailed,
		TransactionStatusCanceled,
	},
	TransactionStatusSucceeded: {
		TransactionStatusRefunded,
		TransactionStatusPartiallyRefunded,
	},
	TransactionStatusPartiallyRefunded: {
		TransactionStatusRefunded,
	},
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusSucceeded,
		TransactionStatusFailed, TransactionStatusCanceled, TransactionStatusRefunded,
		TransactionStatusPartiallyRefunded:
		return true
	}
	return false
}

func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	return slices.Contains(allowedTransitions[s], next)
}

// IsTerminal reports whether no further transition is possible. Succeeded is
// not terminal because it may still be refunded.
func (s TransactionStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// IsSettled reports whether the money has actually moved at the gateway.
func (s TransactionStatus) IsSettled() bool {
	switch s {
	case TransactionStatusSucceeded, TransactionStatusPartiallyRefunded, TransactionStatusRefunded:
		return true
	}
	return false
}

// RelatedEntityType discriminates the loose back-reference from a ledger
// entry to the record that caused it.
type RelatedEntityType string

const (
	RelatedEntityCheckout     RelatedEntityType = "checkout"
	RelatedEntityPayout       RelatedEntityType = "payout"
	RelatedEntitySubscription RelatedEntityType = "subscription"
	RelatedEntityLedgerEntry  RelatedEntityType = "ledger_entry"
)

// Well-known metadata keys.
const (
	MetadataGatewayName      = "gateway"
	MetadataGatewayReference = "gateway_ref"
	MetadataDirection        = "direction"
	MetadataRefundedAmount   = "refunded_amount"
	MetadataPendingRefund    = "pending_refund_amount"
)

// LedgerEntry is one monetary event. AmountMinorUnits and Currency are fixed
// at creation; only Status, RelatedTransactionIDs, Metadata and UpdatedAt
// change afterwards.
type LedgerEntry struct {
	ID                    uuid.UUID
	TerritoryID           uuid.UUID
	Type                  TransactionType
	Status                TransactionStatus
	AmountMinorUnits      int64
	Currency              Currency
	Description           string
	RelatedEntityID       *uuid.UUID
	RelatedEntityType     *RelatedEntityType
	RelatedTransactionIDs []uuid.UUID
	Metadata              map[string]string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type NewLedgerEntryParams struct {
	TerritoryID       uuid.UUID
	Type              TransactionType
	AmountMinorUnits  int64
	Currency          Currency
	Description       string
	RelatedEntityID   *uuid.UUID
	RelatedEntityType *RelatedEntityType
	RelatedIDs        []uuid.UUID
	Metadata          map[string]string
}

func NewLedgerEntry(p NewLedgerEntryParams, now time.Time) (*LedgerEntry, error) {
	if p.TerritoryID == uuid.Nil {
		return nil, NewValidationError("territory_id", "required")
	}
	if !p.Type.IsValid() {
		return nil, NewValidationError("type", "unknown transaction type")
	}
	if p.AmountMinorUnits < 0 {
		return nil, ErrInvalidAmount
	}
	if !p.Currency.IsValid() {
		return nil, NewValidationError("currency", "must be an ISO 4217 code")
	}
	if (p.RelatedEntityID == nil) != (p.RelatedEntityType == nil) {
		return nil, NewValidationError("related_entity", "id and type must be set together")
	}

	metadata := make(map[string]string, len(p.Metadata))
	maps.Copy(metadata, p.Metadata)

	return &LedgerEntry{
		ID:                    uuid.New(),
		TerritoryID:           p.TerritoryID,
		Type:                  p.Type,
		Status:                TransactionStatusPending,
		AmountMinorUnits:      p.AmountMinorUnits,
		Currency:              p.Currency,
		Description:           p.Description,
		RelatedEntityID:       p.RelatedEntityID,
		RelatedEntityType:     p.RelatedEntityType,
		RelatedTransactionIDs: slices.Clone(p.RelatedIDs),
		Metadata:              metadata,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Transition moves the entry to next and returns the history record to
// append. A nil record with a nil error means next equals the current status
// and nothing changed.
func (e *LedgerEntry) Transition(next TransactionStatus, actorID *uuid.UUID, reason *string, now time.Time) (*StatusHistoryRecord, error) {
	if !next.IsValid() {
		return nil, NewValidationError("status", "unknown status")
	}
	if e.Status == next {
		return nil, nil
	}
	if !e.Status.CanTransitionTo(next) {
		return nil, &InvalidTransitionError{From: e.Status, To: next}
	}

	changedAt := now
	if !changedAt.After(e.UpdatedAt) {
		changedAt = e.UpdatedAt.Add(time.Microsecond)
	}

	rec := &StatusHistoryRecord{
		ID:               uuid.New(),
		LedgerEntryID:    e.ID,
		PreviousStatus:   e.Status,
		NewStatus:        next,
		ChangedByActorID: actorID,
		Reason:           reason,
		ChangedAt:        changedAt,
	}
	e.Status = next
	e.UpdatedAt = changedAt
	return rec, nil
}

func (e *LedgerEntry) MergeMetadata(kv map[string]string, now time.Time) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, len(kv))
	}
	maps.Copy(e.Metadata, kv)
	e.touch(now)
}

func (e *LedgerEntry) AddRelated(ids []uuid.UUID, now time.Time) {
	for _, id := range ids {
		if !slices.Contains(e.RelatedTransactionIDs, id) {
			e.RelatedTransactionIDs = append(e.RelatedTransactionIDs, id)
		}
	}
	e.touch(now)
}

func (e *LedgerEntry) References(id uuid.UUID) bool {
	return slices.Contains(e.RelatedTransactionIDs, id)
}

func (e *LedgerEntry) touch(now time.Time) {
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	} else {
		e.UpdatedAt = e.UpdatedAt.Add(time.Microsecond)
	}
}

// BalanceDirection is the side of the territory balance an entry feeds.
type BalanceDirection string

const (
	DirectionNone    BalanceDirection = ""
	DirectionRevenue BalanceDirection = "revenue"
	DirectionExpense BalanceDirection = "expense"
)

func (e *LedgerEntry) BalanceDirection() BalanceDirection {
	switch e.Type {
	case TransactionTypeFee, TransactionTypeSubscription:
		return DirectionRevenue
	case TransactionTypePayout, TransactionTypeRefund:
		return DirectionExpense
	case TransactionTypeAdjustment:
		return BalanceDirection(e.Metadata[MetadataDirection])
	default:
		return DirectionNone
	}
}

// StatusHistoryRecord is written once per accepted transition and never
// modified.
type StatusHistoryRecord struct {
	ID               uuid.UUID
	LedgerEntryID    uuid.UUID
	PreviousStatus   TransactionStatus
	NewStatus        TransactionStatus
	ChangedByActorID *uuid.UUID
	Reason           *string
	ChangedAt        time.Time
}
