package stripewebhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v75"

	"billing-engine/internal/domain/events"
	"billing-engine/internal/errs"
)

func (h *Handler) handleSubscriptionDeleted(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return errs.Permanent(fmt.Errorf("parse subscription: %w", err))
	}
	if sub.ID != "" {
		ev.SubscriptionID = &sub.ID
	}
	return h.sync.MarkCanceled(ctx, &sub)
}
