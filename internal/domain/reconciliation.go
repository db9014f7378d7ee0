package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReconciliationStatus string

const (
	ReconciliationStatusPending     ReconciliationStatus = "pending"
	ReconciliationStatusReconciled  ReconciliationStatus = "reconciled"
	ReconciliationStatusDiscrepancy ReconciliationStatus = "discrepancy"
)

// ReconciliationRecord compares what the ledger expected to settle for a
// territory on a date with what the gateway reported. Status is derived from
// the difference unless an operator accepted the difference by hand.
type ReconciliationRecord struct {
	ID                       uuid.UUID
	TerritoryID              uuid.UUID
	ReconciliationDate       time.Time
	ExpectedAmountMinorUnits int64
	ActualAmountMinorUnits   int64
	DifferenceMinorUnits     int64
	Status                   ReconciliationStatus
	Currency                 Currency
	Notes                    *string
	ReconciledByActorID      *uuid.UUID
	ReconciledAt             *time.Time
	Version                  int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func NewReconciliationRecord(territoryID uuid.UUID, date time.Time, expected, actual int64, currency Currency, now time.Time) (*ReconciliationRecord, error) {
	if territoryID == uuid.Nil {
		return nil, NewValidationError("territory_id", "required")
	}
	if !currency.IsValid() {
		return nil, NewValidationError("currency", "must be an ISO 4217 code")
	}
	r := &ReconciliationRecord{
		ID:                       uuid.New(),
		TerritoryID:              territoryID,
		ReconciliationDate:       TruncateToDate(date),
		ExpectedAmountMinorUnits: expected,
		ActualAmountMinorUnits:   actual,
		Status:                   ReconciliationStatusPending,
		Currency:                 currency,
		Version:                  1,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	r.recompute()
	return r, nil
}

// UpdateActualAmount replaces the gateway-reported figure, clears any manual
// acceptance and returns the revision to store.
func (r *ReconciliationRecord) UpdateActualAmount(actual int64, actorID *uuid.UUID, now time.Time) *ReconciliationRevision {
	rev := &ReconciliationRevision{
		ID:                  uuid.New(),
		ReconciliationID:    r.ID,
		PreviousActualMinor: r.ActualAmountMinorUnits,
		NewActualMinor:      actual,
		PreviousStatus:      r.Status,
		ChangedByActorID:    actorID,
		ChangedAt:           now,
	}
	r.ActualAmountMinorUnits = actual
	r.ReconciledByActorID = nil
	r.ReconciledAt = nil
	r.recompute()
	r.UpdatedAt = now
	return rev
}

func (r *ReconciliationRecord) MarkAsReconciled(actorID uuid.UUID, note string, now time.Time) error {
	if actorID == uuid.Nil {
		return NewValidationError("actor_id", "required")
	}
	if note == "" {
		return NewValidationError("note", "required")
	}
	r.Status = ReconciliationStatusReconciled
	r.ReconciledByActorID = &actorID
	r.ReconciledAt = &now
	r.Notes = &note
	r.UpdatedAt = now
	return nil
}

// ManuallyReconciled reports whether the status came from an operator
// override rather than a zero difference.
func (r *ReconciliationRecord) ManuallyReconciled() bool {
	return r.ReconciledByActorID != nil && r.DifferenceMinorUnits != 0
}

func (r *ReconciliationRecord) recompute() {
	r.DifferenceMinorUnits = r.ActualAmountMinorUnits - r.ExpectedAmountMinorUnits
	if r.DifferenceMinorUnits == 0 {
		r.Status = ReconciliationStatusReconciled
	} else {
		r.Status = ReconciliationStatusDiscrepancy
	}
}

type ReconciliationRevision struct {
	ID                  uuid.UUID
	ReconciliationID    uuid.UUID
	PreviousActualMinor int64
	NewActualMinor      int64
	PreviousStatus      ReconciliationStatus
	ChangedByActorID    *uuid.UUID
	ChangedAt           time.Time
}

// TruncateToDate returns midnight UTC of t's UTC calendar day.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
