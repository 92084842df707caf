package domain

// PaymentStatus is the provider-side state of a checkout session.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentItem is a line-item snapshot taken at checkout time. It is
// deliberately decoupled from the live catalog so later price or description
// edits cannot retroactively change a paid order.
type PaymentItem struct {
	ID          string  `json:"id" bson:"id" validate:"required"`
	Name        string  `json:"name" bson:"name" validate:"required"`
	Price       float64 `json:"price" bson:"price" validate:"gte=0.01,lte=1000000"`
	Quantity    int     `json:"quantity" bson:"quantity" validate:"gte=1,lte=1000"`
	Description string  `json:"description,omitempty" bson:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty" bson:"image_url,omitempty"`
}

// PaymentSessionRequest is what a client submits to start a hosted checkout.
type PaymentSessionRequest struct {
	Items      []PaymentItem     `json:"items" validate:"min=1,dive"`
	UserID     string            `json:"user_id" validate:"required"`
	UserEmail  string            `json:"user_email" validate:"required,email"`
	SuccessURL string            `json:"success_url" validate:"required,http_url"`
	CancelURL  string            `json:"cancel_url" validate:"required,http_url"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TotalAmount is the sum of price*quantity over all items.
func (r *PaymentSessionRequest) TotalAmount() float64 {
	var total float64
	for _, item := range r.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// CheckoutSession is the provider's answer to a session-creation request.
// The client is redirected to URL to complete payment off-system.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// WebhookEvent is an at-least-once, possibly duplicated notification pushed
// by the payment provider when a session's state changes. Signature
// verification happens upstream; by the time an event reaches the
// orchestrator it is trusted.
type WebhookEvent struct {
	SessionID     string            `json:"session_id"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total,omitempty"` // minor units
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}
