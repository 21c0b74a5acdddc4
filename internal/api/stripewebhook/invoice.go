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
	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/notify"
)

// Invoice payloads carry the invoice, not the subscription, so both handlers
// pull the current subscription state from the provider instead of trusting
// a secondhand snapshot.

func (h *Handler) handleInvoicePaymentSucceeded(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	inv, err := parseInvoice(event)
	if err != nil {
		return err
	}

	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-off invoice; nothing local tracks it.
		return nil
	}
	ev.SubscriptionID = &inv.Subscription.ID
	return h.sync.Refresh(ctx, inv.Subscription.ID)
}

func (h *Handler) handleInvoicePaymentFailed(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	inv, err := parseInvoice(event)
	if err != nil {
		return err
	}

	payload := map[string]string{
		"invoice_id": inv.ID,
		"amount_due": strconv.FormatInt(inv.AmountDue, 10),
	}
	if inv.Customer != nil && inv.Customer.ID != "" {
		org, err := orgs.FindByStripeCustomer(ctx, h.db, inv.Customer.ID)
		if err == nil {
			ev.OrganizationID = &org.ID
			payload["organization_id"] = org.ID.String()
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	if err := h.notifier.Notify(notify.KindPaymentFailed, payload); err != nil {
		h.log.Warnw("payment-failed notification failed", "invoice_id", inv.ID, "err", err)
	}

	// The subscription has likely moved to past_due; mirror it.
	if inv.Subscription != nil && inv.Subscription.ID != "" {
		ev.SubscriptionID = &inv.Subscription.ID
		return h.sync.Refresh(ctx, inv.Subscription.ID)
	}
	return nil
}

func parseInvoice(event *stripe.Event) (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, errs.Permanent(fmt.Errorf("parse invoice: %w", err))
	}
	return &inv, nil
}
