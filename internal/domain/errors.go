package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrInvalidAmount = errors.New("amount must not be negative")
	ErrValidation    = errors.New("validation failed")
	ErrGateway       = errors.New("gateway call failed")
	ErrConfiguration = errors.New("configuration error")

	ErrVersionConflict = errors.New("optimistic lock conflict")
	ErrDuplicate       = errors.New("duplicate record")

	ErrSubscriptionExists  = fmt.Errorf("active subscription already exists: %w", ErrInvalidState)
	ErrCouponAlreadyUsed   = fmt.Errorf("subscription already has a coupon: %w", ErrInvalidState)
	ErrCouponNotRedeemable = fmt.Errorf("coupon is not redeemable: %w", ErrValidation)
	ErrPlanHasSubscribers  = fmt.Errorf("plan has subscribers in an active billing state: %w", ErrInvalidState)
	ErrPlanInactive        = fmt.Errorf("plan is not active: %w", ErrInvalidState)
	ErrCurrencyMismatch    = fmt.Errorf("currency mismatch: %w", ErrValidation)
)

// InvalidTransitionError is returned when a ledger entry is asked to move
// to a status its current status cannot reach.
type InvalidTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidState }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// GatewayError wraps a failed call to an external processor. Gateway is the
// adapter's reported name, used by operators to tell processors apart.
type GatewayError struct {
	Gateway   string
	Operation string
	Message   string
	Err       error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Gateway, e.Operation, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func NewGatewayError(gateway, operation string, err error) *GatewayError {
	ge := &GatewayError{Gateway: gateway, Operation: operation, Err: err}
	if err != nil {
		ge.Message = err.Error()
	}
	return ge
}

// ConfigurationError signals a deployment defect, such as a missing default
// FREE plan. It is never caused by user input.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Message }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
