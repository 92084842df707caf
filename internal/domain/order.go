package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// Order is the durable source of truth for "was this paid and fulfilled".
// Its id is generated locally, never the provider's session id, so order
// identity stays stable even if the provider changes identifier formats.
type Order struct {
	ID                string            `json:"id" bson:"_id"`
	UserID            string            `json:"user_id" bson:"user_id"`
	UserEmail         string            `json:"user_email,omitempty" bson:"user_email,omitempty"`
	Items             []PaymentItem     `json:"items" bson:"items"`
	TotalAmount       float64           `json:"total_amount" bson:"total_amount"`
	Currency          string            `json:"currency" bson:"currency"`
	Status            OrderStatus       `json:"status" bson:"status"`
	PaymentMethod     string            `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	StripeSessionID   string            `json:"stripe_session_id" bson:"stripe_session_id"`
	TrackingNumber    string            `json:"tracking_number,omitempty" bson:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time        `json:"estimated_delivery,omitempty" bson:"estimated_delivery,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updated_at"`
}
