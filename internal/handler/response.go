package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{Success: true, Data: data})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	apiErr := &APIError{Code: appErr.Code, Message: appErr.Message, Details: details}
	RespondJSON(w, appErr.Status, APIResponse{Error: apiErr})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps the domain error taxonomy onto HTTP. Order
// matters: the specific wrapped sentinels are checked before their parents.
// Server-side failures are logged with the request's logger.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		appErr  *AppError
		details any
	)
	log := logging.FromContext(r.Context())

	var ve *domain.ValidationError
	var ge *domain.GatewayError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrCurrencyMismatch):
		appErr = ErrCurrencyMismatch
	case errors.As(err, &ve):
		appErr = ErrValidationFailed
		details = []FieldError{{Field: ve.Field, Message: ve.Message}}
	case errors.Is(err, domain.ErrValidation):
		appErr = ErrValidationFailed
		details = err.Error()
	case errors.Is(err, domain.ErrVersionConflict):
		appErr = ErrVersionConflict
	case errors.Is(err, domain.ErrDuplicate):
		appErr = ErrDuplicate
	case errors.Is(err, domain.ErrInvalidState):
		appErr = ErrInvalidState
		details = err.Error()
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.As(err, &ge):
		log.Error("gateway call failed", "gateway", ge.Gateway, "operation", ge.Operation, "error", err)
		appErr = ErrGatewayFailure
		details = map[string]string{"gateway": ge.Gateway}
	case errors.Is(err, domain.ErrConfiguration):
		log.Error("configuration error", "error", err, "alert", true)
		appErr = ErrMisconfigured
	default:
		log.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, details)
}
