package events

import (
	"time"

	"github.com/google/uuid"
)

// BillingEvent is the idempotency ledger. A row is created (processed=false)
// before any business logic runs; the unique index on the Stripe event id is
// what serializes concurrent deliveries of the same event. Rows are never
// deleted.
type BillingEvent struct {
	ID            uint   `gorm:"primaryKey"`
	StripeEventID string `gorm:"column:stripe_event_id;not null;uniqueIndex:idx_billing_events_stripe_event_id"`
	Type          string `gorm:"not null"`

	// Trace references only; events may mention entities that don't exist
	// locally yet, so no FK constraints.
	OrganizationID *uuid.UUID `gorm:"type:uuid"`
	SubscriptionID *string
	OrderID        *uint

	Payload   []byte `gorm:"type:jsonb"`
	Processed bool   `gorm:"not null;default:false"`
	Error     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
