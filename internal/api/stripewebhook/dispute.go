package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"

	"billing-engine/internal/domain/events"
	"billing-engine/internal/domain/orders"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/notify"
)

// Disputes don't mutate billing state here; losing one arrives later as a
// refund-shaped event. This handler records traceability and alerts a human.
func (h *Handler) handleDisputeCreated(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return errs.Permanent(fmt.Errorf("parse dispute: %w", err))
	}

	payload := map[string]string{
		"dispute_id": dispute.ID,
		"amount":     strconv.FormatInt(dispute.Amount, 10),
		"reason":     string(dispute.Reason),
	}

	if dispute.PaymentIntent != nil && dispute.PaymentIntent.ID != "" {
		var order orders.Order
		err := h.db.WithContext(ctx).
			Where("stripe_payment_intent_id = ?", dispute.PaymentIntent.ID).
			First(&order).Error
		if err == nil {
			ev.OrderID = &order.ID
			ev.OrganizationID = &order.OrganizationID
			payload["organization_id"] = order.OrganizationID.String()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	if err := h.notifier.Notify(notify.KindDisputeCreated, payload); err != nil {
		h.log.Warnw("dispute notification failed", "dispute_id", dispute.ID, "err", err)
	}
	return nil
}
