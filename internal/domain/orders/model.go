package orders

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// Order is the header row for a one-time purchase. Session and payment-intent
// ids are both unique so a refund webhook (which only knows the payment
// intent) and a checkout webhook (which only knows the session) can each find
// the row.
type Order struct {
	ID                    uint      `gorm:"primaryKey"`
	OrganizationID        uuid.UUID `gorm:"type:uuid;index;not null"`
	StripeSessionID       string    `gorm:"column:stripe_session_id;not null;uniqueIndex:idx_orders_stripe_session_id"`
	StripePaymentIntentID *string   `gorm:"column:stripe_payment_intent_id;uniqueIndex:idx_orders_stripe_payment_intent_id"`
	AmountTotal           int64     `gorm:"not null"` // smallest currency unit
	AmountRefunded        int64     `gorm:"not null;default:0"`
	Currency              string
	Status                Status `gorm:"not null;default:'completed'"`

	Items []OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID            uint   `gorm:"primaryKey"`
	OrderID       uint   `gorm:"index;not null"`
	Description   string
	StripePriceID string `gorm:"column:stripe_price_id"`
	Quantity      int64  `gorm:"not null;default:1"`
	UnitAmount    int64  `gorm:"not null"`

	CreatedAt time.Time
}
