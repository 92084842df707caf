// Package events publishes fulfillment facts for downstream consumers
// (analytics, shipping workflow). Publishing is best-effort: the order store
// is the source of truth, the stream is a convenience.
package events

import (
	"context"
	"time"

	"github.com/shopfront/fulfillment/internal/domain"
)

// OrderPaidEvent is the payload emitted once per fulfilled order.
type OrderPaidEvent struct {
	EventType   string    `json:"event_type"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	TotalAmount float64   `json:"total_amount"`
	Currency    string    `json:"currency"`
	ItemsCount  int       `json:"items_count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher emits order lifecycle events.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, order *domain.Order) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderPaid(context.Context, *domain.Order) error { return nil }
func (NoopPublisher) Close() error                                          { return nil }
