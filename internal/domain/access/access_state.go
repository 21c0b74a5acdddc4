package access

import (
	"time"

	"billing-engine/internal/domain/subscriptions"
)

// Effective access for the product: trial|full|limited|locked.
//
// graceDays controls how long a past_due subscription keeps limited access
// past its CurrentPeriodEnd. That date is an approximation of when payment
// was due, not Stripe's actual dunning timeline, which is why the window is
// configurable rather than hardcoded.
func ComputeState(now time.Time, sub *subscriptions.Subscription, graceDays int) State {
	if sub == nil {
		return StateLocked
	}

	// Active trial
	if sub.TrialEnd != nil && now.Before(*sub.TrialEnd) {
		return StateTrial
	}

	switch sub.Status {
	case subscriptions.StatusActive, subscriptions.StatusTrialing:
		return StateFull

	case subscriptions.StatusPastDue, subscriptions.StatusUnpaid:
		if sub.CurrentPeriodEnd != nil {
			graceEnd := sub.CurrentPeriodEnd.AddDate(0, 0, graceDays)
			if now.Before(graceEnd) {
				return StateLimited
			}
		}
		return StateLocked

	case subscriptions.StatusCanceled:
		// Paid-through access until the period the customer already paid for runs out.
		if sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd) {
			return StateFull
		}
		return StateLocked

	default:
		return StateLocked
	}
}
