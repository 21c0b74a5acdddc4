package stripewebhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v75"

	"billing-engine/internal/domain/events"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/notify"
)

// created and updated share one implementation: the synchronizer upserts by
// provider id, so whichever event lands first seeds the row and the other
// refines it. That's what makes the pair order-independent.

func (h *Handler) handleSubscriptionCreated(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	return h.applySubscriptionEvent(ctx, ev, event)
}

func (h *Handler) handleSubscriptionUpdated(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	return h.applySubscriptionEvent(ctx, ev, event)
}

func (h *Handler) applySubscriptionEvent(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return errs.Permanent(fmt.Errorf("parse subscription: %w", err))
	}

	row, err := h.sync.Apply(ctx, &sub)
	if err != nil {
		return err
	}
	ev.SubscriptionID = &row.ID
	ev.OrganizationID = &row.OrganizationID
	return nil
}

func (h *Handler) handleTrialWillEnd(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return errs.Permanent(fmt.Errorf("parse subscription: %w", err))
	}

	row, err := h.sync.Apply(ctx, &sub)
	if err != nil {
		return err
	}
	ev.SubscriptionID = &row.ID
	ev.OrganizationID = &row.OrganizationID

	daysLeft := "0"
	if row.TrialEnd != nil {
		if d := int(time.Until(*row.TrialEnd).Hours() / 24); d > 0 {
			daysLeft = fmt.Sprint(d)
		}
	}
	if err := h.notifier.Notify(notify.KindTrialEnding, map[string]string{
		"organization_id": row.OrganizationID.String(),
		"subscription_id": row.ID,
		"days_left":       daysLeft,
	}); err != nil {
		h.log.Warnw("trial-ending notification failed", "subscription_id", row.ID, "err", err)
	}
	return nil
}
