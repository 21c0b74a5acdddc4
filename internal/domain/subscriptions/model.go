package subscriptions

import (
	"time"

	"github.com/google/uuid"
)

// Status values mirror Stripe's subscription statuses. The local row never
// invents a status of its own; it only stores what the provider reported.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Terminal statuses never get a freshness re-fetch: once Stripe reports them
// the subscription cannot move again, so the payload is authoritative.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// Subscription mirrors one Stripe subscription. The primary key is the
// provider's subscription id, which is what makes created/updated handlers
// converge on the same row regardless of arrival order.
type Subscription struct {
	ID               string    `gorm:"primaryKey"` // Stripe subscription id
	OrganizationID   uuid.UUID `gorm:"type:uuid;index;not null"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id;index"`
	Status           Status    `gorm:"not null"`
	StripePriceID    string    `gorm:"column:stripe_price_id"`
	Quantity         int64     `gorm:"not null;default:1"`
	SeatBased        bool      `gorm:"not null;default:false"`

	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time

	CancelAtPeriodEnd bool
	CanceledAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
