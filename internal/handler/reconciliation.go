package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type reconciliationService interface {
	ListDiscrepancies(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error)
	MarkAsReconciled(ctx context.Context, id uuid.UUID, actorID uuid.UUID, note string) (*domain.ReconciliationRecord, error)
}

type ReconciliationHandler struct {
	reconciliations reconciliationService
}

func NewReconciliationHandler(reconciliations reconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{reconciliations: reconciliations}
}

type reconciliationDTO struct {
	ID               uuid.UUID  `json:"id"`
	TerritoryID      uuid.UUID  `json:"territory_id"`
	Date             string     `json:"reconciliation_date"`
	Currency         string     `json:"currency"`
	ExpectedAmount   int64      `json:"expected_amount_minor_units"`
	ActualAmount     int64      `json:"actual_amount_minor_units"`
	Difference       int64      `json:"difference_minor_units"`
	Status           string     `json:"status"`
	Notes            *string    `json:"notes"`
	ReconciledBy     *uuid.UUID `json:"reconciled_by"`
	ReconciledAt     *time.Time `json:"reconciled_at"`
	ManualResolution bool       `json:"manual_resolution"`
}

func toReconciliationDTO(r *domain.ReconciliationRecord) reconciliationDTO {
	return reconciliationDTO{
		ID:               r.ID,
		TerritoryID:      r.TerritoryID,
		Date:             r.ReconciliationDate.Format(time.DateOnly),
		Currency:         string(r.Currency),
		ExpectedAmount:   r.ExpectedAmountMinorUnits,
		ActualAmount:     r.ActualAmountMinorUnits,
		Difference:       r.DifferenceMinorUnits,
		Status:           string(r.Status),
		Notes:            r.Notes,
		ReconciledBy:     r.ReconciledByActorID,
		ReconciledAt:     r.ReconciledAt,
		ManualResolution: r.ManuallyReconciled(),
	}
}

func (h *ReconciliationHandler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	limit, fields := limitQuery(r, 50, 500)
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}

	recs, err := h.reconciliations.ListDiscrepancies(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list discrepancies", "error", err)
		RespondDomainError(w, r, err)
		return
	}

	dtos := make([]reconciliationDTO, len(recs))
	for i := range recs {
		dtos[i] = toReconciliationDTO(&recs[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type resolveRequest struct {
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

func (req resolveRequest) Validate() []FieldError {
	var errs []FieldError
	if req.ActorID == "" {
		errs = append(errs, FieldError{Field: "actor_id", Message: "required"})
	} else if _, err := uuid.Parse(req.ActorID); err != nil {
		errs = append(errs, FieldError{Field: "actor_id", Message: "must be a valid UUID"})
	}
	if req.Note == "" {
		errs = append(errs, FieldError{Field: "note", Message: "required"})
	}
	return errs
}

func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, fields := uuidFromPath(r, "reconciliationID")
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	rec, err := h.reconciliations.MarkAsReconciled(r.Context(), id, uuid.MustParse(req.ActorID), req.Note)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to resolve reconciliation", "reconciliation_id", id, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReconciliationDTO(rec))
}
