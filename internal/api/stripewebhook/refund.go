package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"

	"billing-engine/internal/domain/credits"
	"billing-engine/internal/domain/events"
	"billing-engine/internal/domain/orders"
	"billing-engine/internal/errs"
	"billing-engine/internal/service/ledger"
)

// handleChargeRefunded applies the refund policy: a full refund revokes what
// was bought (order flips to refunded, credits get reversed); a partial
// refund is recorded but access is preserved — partial refunds are typically
// goodwill gestures, not cancellations.
func (h *Handler) handleChargeRefunded(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return errs.Permanent(fmt.Errorf("parse charge: %w", err))
	}

	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		h.log.Warnw("refunded charge without payment intent", "charge_id", ch.ID)
		return nil
	}
	piID := ch.PaymentIntent.ID
	fullRefund := ch.Amount > 0 && ch.AmountRefunded >= ch.Amount

	var order orders.Order
	err := h.db.WithContext(ctx).Where("stripe_payment_intent_id = ?", piID).First(&order).Error
	if err == nil {
		return h.applyOrderRefund(ctx, ev, &order, &ch, fullRefund)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find order for refund: %w", err)
	}

	// No order row. Credit purchases don't create one, so check the
	// checkout-session side channel before concluding the refund is foreign.
	return h.applyCreditRefund(ctx, ev, &ch, piID, fullRefund)
}

func (h *Handler) applyOrderRefund(ctx context.Context, ev *events.BillingEvent, order *orders.Order, ch *stripe.Charge, full bool) error {
	ev.OrderID = &order.ID
	ev.OrganizationID = &order.OrganizationID

	updates := map[string]interface{}{
		"amount_refunded": ch.AmountRefunded,
	}
	if full {
		updates["status"] = orders.StatusRefunded
	} else {
		h.log.Infow("partial refund recorded, access preserved",
			"order_id", order.ID, "refunded", ch.AmountRefunded, "total", ch.Amount)
	}

	if err := h.db.WithContext(ctx).Model(&orders.Order{}).
		Where("id = ?", order.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("update refunded order %d: %w", order.ID, err)
	}
	return nil
}

func (h *Handler) applyCreditRefund(ctx context.Context, ev *events.BillingEvent, ch *stripe.Charge, piID string, full bool) error {
	sessions, err := h.stripe.ListCheckoutSessionsByPaymentIntent(piID)
	if err != nil {
		return fmt.Errorf("lookup checkout sessions for refund: %w", err)
	}

	for _, session := range sessions {
		if creditAmount(session.Metadata) == 0 {
			continue
		}
		if !full {
			// Reversal is all-or-nothing over the original grants; a partial
			// refund of a credit pack stays with the operator.
			h.log.Warnw("partial refund of credit purchase left for manual review",
				"session_id", session.ID, "charge_id", ch.ID)
			return nil
		}

		orgID, err := h.resolveCheckoutOrg(ctx, session)
		if err != nil {
			return err
		}
		ev.OrganizationID = &orgID

		_, err = h.ledger.Reverse(ctx, ledger.ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   session.ID,
			RefundID:        refundID(ch),
			Metadata:        map[string]string{"charge_id": ch.ID},
		})
		return err
	}

	h.log.Infow("refund matched no local order or credit purchase", "charge_id", ch.ID)
	return nil
}

// refundID keys the reversal. Prefer the refund object's own id so a second
// webhook for the same refund collides in the ledger.
func refundID(ch *stripe.Charge) string {
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 && ch.Refunds.Data[0].ID != "" {
		return ch.Refunds.Data[0].ID
	}
	return "charge_" + ch.ID
}
