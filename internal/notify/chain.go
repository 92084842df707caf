package notify

import (
	"context"
	"log/slog"

	"github.com/shopfront/fulfillment/internal/domain"
)

// Chain tries an ordered list of notifiers until one reports success.
// Unconfigured channels are skipped without counting as failures.
type Chain struct {
	notifiers []Notifier
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, notifiers ...Notifier) *Chain {
	return &Chain{notifiers: notifiers, logger: logger}
}

func (c *Chain) Name() string { return "chain" }

// Configured reports whether at least one channel has credentials.
func (c *Chain) Configured() bool {
	for _, n := range c.notifiers {
		if n.Configured() {
			return true
		}
	}
	return false
}

func (c *Chain) SendOrderConfirmation(ctx context.Context, order *domain.Order) Result {
	return c.send(ctx, order, "order_confirmation", Notifier.SendOrderConfirmation)
}

func (c *Chain) SendOperatorAlert(ctx context.Context, order *domain.Order) Result {
	return c.send(ctx, order, "operator_alert", Notifier.SendOperatorAlert)
}

func (c *Chain) send(ctx context.Context, order *domain.Order, kind string, fn func(Notifier, context.Context, *domain.Order) Result) Result {
	var last Result
	for _, n := range c.notifiers {
		if !n.Configured() {
			c.logger.Debug("skipping unconfigured notifier", "notifier", n.Name(), "kind", kind)
			continue
		}
		last = fn(n, ctx, order)
		if last.Success {
			return last
		}
		c.logger.Warn("notifier failed, trying next",
			"notifier", n.Name(),
			"kind", kind,
			"order_id", order.ID,
			"error", last.Err)
	}
	return last
}
