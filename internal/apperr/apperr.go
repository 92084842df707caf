// Package apperr defines the error taxonomy shared by the fulfillment
// pipeline: every error crossing a component boundary carries a stable
// machine-readable code, an HTTP-equivalent status, and an optional
// structured detail bag.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the structured error exchanged between components. The HTTP layer
// translates it into a response shape; everything else either wraps a cause
// into one or matches on Code.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with an explicit status for cases the four standard
// kinds below don't cover (e.g. a 409 on concurrent fulfillment).
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Validation rejects malformed caller input before any I/O. Details carries
// one entry per violated field so a client can fix a form in one round trip.
func Validation(message string, details map[string]any) *Error {
	return &Error{
		Code:    "validation_failed",
		Status:  http.StatusBadRequest,
		Message: message,
		Details: details,
	}
}

// PaymentService marks a provider-side rejection or outage. The provider is
// an upstream dependency, not a client mistake, so this is a 502.
func PaymentService(code, message string, cause error) *Error {
	if code == "" {
		code = "payment_service_error"
	}
	return &Error{
		Code:    code,
		Status:  http.StatusBadGateway,
		Message: message,
		Err:     cause,
	}
}

// Order marks an order-store failure. Fatal for the fulfillment attempt; the
// webhook dispatcher is expected to retry the entire delivery.
func Order(message string, cause error) *Error {
	return &Error{
		Code:    "order_store_error",
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     cause,
	}
}

// Webhook marks an event that is well-formed but semantically unusable
// (missing user id, no items). Retrying the same delivery reproduces the
// same unusable event, hence 422 rather than a retryable 5xx.
func Webhook(code, message string) *Error {
	return &Error{
		Code:    code,
		Status:  http.StatusUnprocessableEntity,
		Message: message,
	}
}

// From extracts the *Error from err's chain, or wraps err as an opaque
// internal error when it carries no taxonomy.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{
		Code:    "internal_error",
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Err:     err,
	}
}
