package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/territory-billing/internal/logging"
	"github.com/josh-kwaku/territory-billing/internal/service/plan"
)

type planResolver interface {
	ResolveEffectivePlan(ctx context.Context, userID uuid.UUID, territoryID *uuid.UUID) (*plan.Effective, error)
}

// EntitlementHandler lets operators see which plan governs a user and why.
type EntitlementHandler struct {
	plans planResolver
}

func NewEntitlementHandler(plans planResolver) *EntitlementHandler {
	return &EntitlementHandler{plans: plans}
}

type entitlementDTO struct {
	UserID         uuid.UUID         `json:"user_id"`
	TerritoryID    *uuid.UUID        `json:"territory_id"`
	PlanCode       string            `json:"plan_code"`
	Tier           string            `json:"tier"`
	Source         string            `json:"source"`
	SubscriptionID *uuid.UUID        `json:"subscription_id"`
	Capabilities   []string          `json:"capabilities"`
	NumericLimits  map[string]int64  `json:"numeric_limits"`
	TextLimits     map[string]string `json:"text_limits"`
}

func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, fields := uuidFromPath(r, "userID")
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}
	territoryID, fields := optionalUUIDQuery(r, "territory_id")
	if fields != nil {
		RespondValidationError(w, fields)
		return
	}

	eff, err := h.plans.ResolveEffectivePlan(r.Context(), userID, territoryID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to resolve effective plan", "user_id", userID, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	caps := make([]string, len(eff.Plan.Capabilities))
	for i, c := range eff.Plan.Capabilities {
		caps[i] = string(c)
	}
	dto := entitlementDTO{
		UserID:        userID,
		TerritoryID:   territoryID,
		PlanCode:      eff.Plan.Code,
		Tier:          string(eff.Plan.Tier),
		Source:        string(eff.Source),
		Capabilities:  caps,
		NumericLimits: eff.Plan.NumericLimits,
		TextLimits:    eff.Plan.TextLimits,
	}
	if eff.Subscription != nil {
		dto.SubscriptionID = &eff.Subscription.ID
	}
	RespondSuccess(w, http.StatusOK, dto)
}
