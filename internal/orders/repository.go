package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopfront/fulfillment/internal/domain"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateSession signals that an order already exists for the
	// provider session, i.e. the same webhook delivery has been fulfilled
	// before. Callers treat it as "already done", not as a failure.
	ErrDuplicateSession = errors.New("order already exists for session")
)

// OrderRepository defines the order store operations the pipeline needs.
// Consumers define this interface, not the MongoDB implementation.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByUserID(ctx context.Context, userID string) ([]domain.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error
	UpdateTracking(ctx context.Context, id, trackingNumber string, estimatedDelivery *time.Time) error
}
