package domain

import "time"

// AbandonedCart is a snapshot of a user's cart captured by abandonment
// detection before checkout completion. The fulfillment pipeline only ever
// marks these recovered and clears them once a paid order lands.
type AbandonedCart struct {
	ID           string        `json:"id" bson:"_id,omitempty"`
	UserID       string        `json:"user_id" bson:"user_id"`
	Items        []PaymentItem `json:"items" bson:"items"`
	Total        float64       `json:"total" bson:"total"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	LastUpdated  time.Time     `json:"last_updated" bson:"last_updated"`
	ReminderSent bool          `json:"reminder_sent" bson:"reminder_sent"`
	Recovered    bool          `json:"recovered" bson:"recovered"`
	RecoveredAt  *time.Time    `json:"recovered_at,omitempty" bson:"recovered_at,omitempty"`
}
