package stripeapi

import (
	"strings"

	"github.com/stripe/stripe-go/v75"

	"billing-engine/internal/domain/subscriptions"
)

// StatusFromStripe maps a provider status onto the local enum. Unknown
// values pass through trimmed so a new Stripe status is stored verbatim
// instead of being lost.
func StatusFromStripe(s stripe.SubscriptionStatus) subscriptions.Status {
	switch s {
	case stripe.SubscriptionStatusIncomplete:
		return subscriptions.StatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return subscriptions.StatusIncompleteExpired
	case stripe.SubscriptionStatusTrialing:
		return subscriptions.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return subscriptions.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return subscriptions.StatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return subscriptions.StatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return subscriptions.StatusUnpaid
	case stripe.SubscriptionStatusPaused:
		return subscriptions.StatusPaused
	default:
		return subscriptions.Status(strings.TrimSpace(string(s)))
	}
}
