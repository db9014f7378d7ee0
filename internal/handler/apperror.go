package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrMissingSignature = &AppError{http.StatusUnauthorized, "MISSING_SIGNATURE", "Webhook signature header required"}
	ErrUnknownGateway   = &AppError{http.StatusNotFound, "UNKNOWN_GATEWAY", "No gateway is registered under this name"}
	ErrInvalidState     = &AppError{http.StatusConflict, "INVALID_STATE", "Operation is not allowed in the current state"}
	ErrInvalidAmount    = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must not be negative"}
	ErrCurrencyMismatch = &AppError{http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", "Currency mismatch"}
	ErrVersionConflict  = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrDuplicate        = &AppError{http.StatusConflict, "DUPLICATE", "Resource already exists"}
	ErrGatewayFailure   = &AppError{http.StatusBadGateway, "GATEWAY_ERROR", "Upstream gateway call failed"}
	ErrMisconfigured    = &AppError{http.StatusInternalServerError, "CONFIGURATION_ERROR", "Service is misconfigured"}
)
