package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type ledgerReader interface {
	GetBalance(ctx context.Context, territoryID uuid.UUID) (*domain.TerritoryBalance, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	GetHistory(ctx context.Context, entryID uuid.UUID) ([]domain.StatusHistoryRecord, error)
}

type LedgerHandler struct {
	ledger ledgerReader
}

func NewLedgerHandler(ledger ledgerReader) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

type balanceDTO struct {
	TerritoryID  uuid.UUID `json:"territory_id"`
	Currency     string    `json:"currency"`
	TotalRevenue int64     `json:"total_revenue_minor_units"`
	TotalExpense int64     `json:"total_expenses_minor_units"`
	NetBalance   int64     `json:"net_balance_minor_units"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type historyDTO struct {
	PreviousStatus string     `json:"previous_status"`
	NewStatus      string     `json:"new_status"`
	ActorID        *uuid.UUID `json:"changed_by_actor_id"`
	Reason         *string    `json:"reason"`
	ChangedAt      time.Time  `json:"changed_at"`
}

type entryDTO struct {
	ID                    uuid.UUID         `json:"id"`
	TerritoryID           uuid.UUID         `json:"territory_id"`
	Type                  string            `json:"type"`
	Status                string            `json:"status"`
	AmountMinorUnits      int64             `json:"amount_minor_units"`
	Currency              string            `json:"currency"`
	Description           string            `json:"description"`
	RelatedEntityID       *uuid.UUID        `json:"related_entity_id"`
	RelatedEntityType     *string           `json:"related_entity_type"`
	RelatedTransactionIDs []uuid.UUID       `json:"related_transaction_ids"`
	Metadata              map[string]string `json:"metadata"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	History               []historyDTO      `json:"history"`
}

func toEntryDTO(e *domain.LedgerEntry, history []domain.StatusHistoryRecord) entryDTO {
	dto := entryDTO{
		ID:                    e.ID,
		TerritoryID:           e.TerritoryID,
		Type:                  string(e.Type),
		Status:                string(e.Status),
		AmountMinorUnits:      e.AmountMinorUnits,
		Currency:              string(e.Currency),
		Description:           e.Description,
		RelatedEntityID:       e.RelatedEntityID,
		RelatedTransactionIDs: e.RelatedTransactionIDs,
		Metadata:              e.Metadata,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
		History:               make([]historyDTO, len(history)),
	}
	if e.RelatedEntityType != nil {
		t := string(*e.RelatedEntityType)
		dto.RelatedEntityType = &t
	}
	for i, h := range history {
		dto.History[i] = historyDTO{
			PreviousStatus: string(h.PreviousStatus),
			NewStatus:      string(h.NewStatus),
			ActorID:        h.ChangedByActorID,
			Reason:         h.Reason,
			ChangedAt:      h.ChangedAt,
		}
	}
	return dto
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	territoryID, fields := uuidFromPath(r, "territoryID")
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}

	b, err := h.ledger.GetBalance(r.Context(), territoryID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load territory balance", "territory_id", territoryID, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		TerritoryID:  b.TerritoryID,
		Currency:     string(b.Currency),
		TotalRevenue: b.TotalRevenueMinorUnits,
		TotalExpense: b.TotalExpensesMinorUnits,
		NetBalance:   b.NetBalanceMinorUnits,
		UpdatedAt:    b.UpdatedAt,
	})
}

func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, fields := uuidFromPath(r, "entryID")
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}

	entry, err := h.ledger.GetEntry(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	history, err := h.ledger.GetHistory(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load status history", "ledger_entry_id", id, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toEntryDTO(entry, history))
}
