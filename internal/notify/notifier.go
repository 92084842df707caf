// Package notify sends the customer confirmation and operator alert after a
// paid order lands. All sends are best-effort: a failed or unconfigured
// channel is logged and skipped, never escalated; the customer may still be
// notified through the client-initiated channel after redirect.
package notify

import (
	"context"

	"github.com/shopfront/fulfillment/internal/domain"
)

// Result reports one send attempt.
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Notifier is one notification channel. Configured reports whether the
// channel has credentials at all, so callers can skip rather than fail.
type Notifier interface {
	Name() string
	Configured() bool
	SendOrderConfirmation(ctx context.Context, order *domain.Order) Result
	SendOperatorAlert(ctx context.Context, order *domain.Order) Result
}
