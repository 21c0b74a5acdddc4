package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"

	"billing-engine/internal/domain/credits"
	"billing-engine/internal/domain/events"
	"billing-engine/internal/domain/orders"
	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/errs"
	"billing-engine/internal/service/ledger"
	"billing-engine/internal/service/seatsync"
)

func (h *Handler) handleCheckoutCompleted(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return errs.Permanent(fmt.Errorf("parse checkout session: %w", err))
	}

	orgID, err := h.resolveCheckoutOrg(ctx, &session)
	if err != nil {
		return err
	}
	ev.OrganizationID = &orgID

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return h.completeSubscriptionCheckout(ctx, ev, orgID, &session)
	case stripe.CheckoutSessionModePayment:
		if creditAmount(session.Metadata) > 0 {
			return h.completeCreditCheckout(ctx, orgID, &session)
		}
		return h.recordOrder(ctx, ev, orgID, &session)
	default:
		h.log.Infow("checkout mode not reconciled", "session_id", session.ID, "mode", session.Mode)
		return nil
	}
}

func (h *Handler) completeSubscriptionCheckout(ctx context.Context, ev *events.BillingEvent, orgID uuid.UUID, session *stripe.CheckoutSession) error {
	if session.Subscription == nil || session.Subscription.ID == "" {
		return errs.Permanentf("subscription checkout %s missing subscription", session.ID)
	}

	// The session payload carries only a subscription reference; fetch the
	// real thing. Subscription events racing this one land on the same row.
	sub, err := h.stripe.RetrieveSubscription(session.Subscription.ID)
	if err != nil {
		return fmt.Errorf("fetch subscription after checkout: %w", err)
	}
	if len(sub.Metadata) == 0 {
		sub.Metadata = map[string]string{}
	}
	if sub.Metadata["organization_id"] == "" {
		sub.Metadata["organization_id"] = orgID.String()
	}

	row, err := h.sync.Apply(ctx, sub)
	if err != nil {
		return err
	}
	ev.SubscriptionID = &row.ID

	// Members may have been added before billing started; reconcile seats
	// now. Best effort — the next membership change will sync again.
	if row.SeatBased {
		if _, err := h.seats.Sync(ctx, orgID, seatsync.WaitBounded); err != nil {
			h.log.Warnw("post-checkout seat sync failed", "org_id", orgID, "err", err)
		}
	}
	return nil
}

// completeCreditCheckout grants purchased credits, splitting any bundled
// bonus into its own reference so both grants are independently idempotent.
func (h *Handler) completeCreditCheckout(ctx context.Context, orgID uuid.UUID, session *stripe.CheckoutSession) error {
	amount := creditAmount(session.Metadata)

	if _, err := h.ledger.Grant(ctx, ledger.GrantParams{
		OrganizationID: orgID,
		Amount:         amount,
		Type:           credits.TransactionPurchase,
		ReferenceType:  credits.RefCheckoutSession,
		ReferenceID:    session.ID,
		Metadata:       session.Metadata,
	}); err != nil {
		return err
	}

	if bonus := bonusAmount(session.Metadata); bonus > 0 {
		if _, err := h.ledger.Grant(ctx, ledger.GrantParams{
			OrganizationID: orgID,
			Amount:         bonus,
			Type:           credits.TransactionBonus,
			ReferenceType:  credits.RefCheckoutSession + credits.BonusSuffix,
			ReferenceID:    session.ID,
			Metadata:       session.Metadata,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) recordOrder(ctx context.Context, ev *events.BillingEvent, orgID uuid.UUID, session *stripe.CheckoutSession) error {
	order := &orders.Order{
		OrganizationID:  orgID,
		StripeSessionID: session.ID,
		AmountTotal:     session.AmountTotal,
		Currency:        string(session.Currency),
		Status:          orders.StatusCompleted,
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		order.StripePaymentIntentID = &session.PaymentIntent.ID
	}
	if session.LineItems != nil {
		for _, li := range session.LineItems.Data {
			item := orders.OrderItem{
				Description: li.Description,
				Quantity:    li.Quantity,
				UnitAmount:  li.AmountTotal,
			}
			if li.Price != nil {
				item.StripePriceID = li.Price.ID
			}
			order.Items = append(order.Items, item)
		}
	}

	if err := h.db.WithContext(ctx).Create(order).Error; err != nil {
		if errs.IsDuplicate(err) {
			// Redelivered checkout; the order already exists.
			var existing orders.Order
			if err := h.db.WithContext(ctx).
				Where("stripe_session_id = ?", session.ID).
				First(&existing).Error; err == nil {
				ev.OrderID = &existing.ID
			}
			return nil
		}
		return fmt.Errorf("record order for session %s: %w", session.ID, err)
	}
	ev.OrderID = &order.ID
	return nil
}

// resolveCheckoutOrg: metadata first, then client_reference_id, then the
// Stripe customer id. Creation paths outside this engine stamp one of the
// first two onto every session they create.
func (h *Handler) resolveCheckoutOrg(ctx context.Context, session *stripe.CheckoutSession) (uuid.UUID, error) {
	if raw := session.Metadata["organization_id"]; raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, errs.Permanentf("invalid organization_id metadata %q on session %s", raw, session.ID)
		}
		return orgID, nil
	}

	if session.ClientReferenceID != "" {
		if orgID, err := uuid.Parse(session.ClientReferenceID); err == nil {
			return orgID, nil
		}
	}

	if session.Customer != nil && session.Customer.ID != "" {
		org, err := orgs.FindByStripeCustomer(ctx, h.db, session.Customer.ID)
		if err == nil {
			return org.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, err
		}
	}

	return uuid.Nil, errs.Permanentf("no organization for checkout session %s", session.ID)
}

func creditAmount(md map[string]string) int64 {
	return parseMetaInt(md, "credits")
}

func bonusAmount(md map[string]string) int64 {
	return parseMetaInt(md, "bonus_credits")
}

func parseMetaInt(md map[string]string, key string) int64 {
	if md == nil {
		return 0
	}
	n, err := strconv.ParseInt(md[key], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
