// Package validation holds the pure request checks run before any I/O.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopfront/fulfillment/internal/apperr"
	"github.com/shopfront/fulfillment/internal/domain"
)

const (
	MinAmount = 0.01
	MaxAmount = 1_000_000
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidatePaymentRequest checks the whole session request and aggregates
// every violation into a single error, so a client can fix its form in one
// round trip instead of replaying the request per field.
func ValidatePaymentRequest(req *domain.PaymentSessionRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Validation("invalid payment request", nil)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fieldKey(fe)] = describe(fe)
	}
	return apperr.Validation("invalid payment request", details)
}

// ValidateItems checks line items only. Used on its own by callers that
// build the rest of the request themselves.
func ValidateItems(items []domain.PaymentItem) error {
	details := make(map[string]any)
	if len(items) == 0 {
		details["items"] = "at least one item is required"
		return apperr.Validation("invalid items", details)
	}

	for i, item := range items {
		err := validate.Struct(item)
		if err == nil {
			continue
		}
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			details[fmt.Sprintf("items[%d]", i)] = "invalid item"
			continue
		}
		for _, fe := range verrs {
			key := fmt.Sprintf("items[%d].%s", i, strings.ToLower(fe.Field()))
			details[key] = describe(fe)
		}
	}

	if len(details) > 0 {
		return apperr.Validation("invalid items", details)
	}
	return nil
}

// ValidateAmount bounds-checks a monetary amount. Reused by item validation
// through the same limits.
func ValidateAmount(amount float64) error {
	if amount < MinAmount || amount > MaxAmount {
		return apperr.Validation("invalid amount", map[string]any{
			"amount": fmt.Sprintf("must be between %.2f and %.0f", MinAmount, float64(MaxAmount)),
		})
	}
	return nil
}

// fieldKey turns validator's namespace ("PaymentSessionRequest.Items[0].Price")
// into a client-facing key ("items[0].price").
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "http_url":
		return "must be an absolute http(s) URL"
	case "min":
		return fmt.Sprintf("must contain at least %s element(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
