package subsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/notify"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
)

// Synchronizer keeps local subscription rows consistent with Stripe's view.
// It defends against two delivery hazards: payloads describing state that has
// already changed again (freshness re-fetch), and updated events arriving
// before created ones (convergent upsert keyed by the provider id).
type Synchronizer struct {
	db       *gorm.DB
	stripe   stripeapi.Client
	notifier notify.Notifier
	log      *logger.Logger
}

func New(db *gorm.DB, client stripeapi.Client, notifier notify.Notifier, log *logger.Logger) *Synchronizer {
	return &Synchronizer{db: db, stripe: client, notifier: notifier, log: log}
}

// Apply upserts the local row for a provider subscription payload. For any
// non-terminal status the subscription is re-fetched first, since the webhook
// snapshot may already be stale; a failed re-fetch degrades to the payload
// instead of failing the event.
func (s *Synchronizer) Apply(ctx context.Context, payload *stripe.Subscription) (*subscriptions.Subscription, error) {
	if payload == nil || payload.ID == "" {
		return nil, errs.Permanentf("subscription payload missing id")
	}

	src := payload
	if !stripeapi.StatusFromStripe(src.Status).Terminal() {
		fresh, err := s.stripe.RetrieveSubscription(src.ID)
		if err != nil {
			s.log.Warnw("freshness re-fetch failed, using webhook payload",
				"subscription_id", src.ID, "err", err)
		} else {
			src = fresh
		}
	}

	orgID, err := s.resolveOrg(ctx, src)
	if err != nil {
		return nil, err
	}

	row := fromStripe(orgID, src)
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"organization_id", "stripe_customer_id", "status", "stripe_price_id",
			"quantity", "seat_based", "current_period_start", "current_period_end",
			"trial_start", "trial_end", "cancel_at_period_end", "canceled_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", src.ID, err)
	}
	return row, nil
}

// MarkCanceled handles deletion events. The row is never removed; it flips to
// canceled so billing history survives. The cancellation notification only
// fires when the subscription existed locally beforehand.
func (s *Synchronizer) MarkCanceled(ctx context.Context, payload *stripe.Subscription) error {
	if payload == nil || payload.ID == "" {
		return nil
	}

	var existing subscriptions.Subscription
	err := s.db.WithContext(ctx).First(&existing, "id = ?", payload.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnw("deletion event for unknown subscription", "subscription_id", payload.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", payload.ID, err)
	}

	canceledAt := time.Now()
	if payload.CanceledAt > 0 {
		canceledAt = time.Unix(payload.CanceledAt, 0)
	}

	updates := map[string]interface{}{
		"status":      subscriptions.StatusCanceled,
		"canceled_at": canceledAt,
	}
	if payload.CurrentPeriodEnd > 0 {
		updates["current_period_end"] = time.Unix(payload.CurrentPeriodEnd, 0)
	}

	if err := s.db.WithContext(ctx).Model(&subscriptions.Subscription{}).
		Where("id = ?", payload.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("cancel subscription %s: %w", payload.ID, err)
	}

	if err := s.notifier.Notify(notify.KindSubscriptionCanceled, map[string]string{
		"organization_id": existing.OrganizationID.String(),
		"subscription_id": payload.ID,
	}); err != nil {
		s.log.Warnw("cancellation notification failed", "subscription_id", payload.ID, "err", err)
	}
	return nil
}

// Refresh pulls the current provider state for a subscription id and applies
// it. Used after invoice events, whose payloads carry the invoice rather than
// the subscription itself.
func (s *Synchronizer) Refresh(ctx context.Context, subscriptionID string) error {
	fresh, err := s.stripe.RetrieveSubscription(subscriptionID)
	if err != nil {
		if stripeapi.IsNotFound(err) {
			s.log.Warnw("subscription gone at provider", "subscription_id", subscriptionID)
			return nil
		}
		return fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}
	_, err = s.Apply(ctx, fresh)
	return err
}

// resolveOrg identifies the owning organization: explicit metadata first,
// then the Stripe customer id. An unresolvable reference is a permanent
// failure; redelivery can't invent the missing link.
func (s *Synchronizer) resolveOrg(ctx context.Context, sub *stripe.Subscription) (uuid.UUID, error) {
	if raw := sub.Metadata["organization_id"]; raw != "" {
		orgID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, errs.Permanentf("invalid organization_id metadata %q on %s", raw, sub.ID)
		}
		s.adoptCustomerID(ctx, orgID, sub)
		return orgID, nil
	}

	if sub.Customer != nil && sub.Customer.ID != "" {
		org, err := orgs.FindByStripeCustomer(ctx, s.db, sub.Customer.ID)
		if err == nil {
			return org.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, err
		}
	}

	return uuid.Nil, errs.Permanentf("no organization for subscription %s", sub.ID)
}

// adoptCustomerID backfills the org's Stripe customer id when metadata
// resolution revealed it. Best effort.
func (s *Synchronizer) adoptCustomerID(ctx context.Context, orgID uuid.UUID, sub *stripe.Subscription) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return
	}
	err := s.db.WithContext(ctx).Model(&orgs.Organization{}).
		Where("id = ? AND stripe_customer_id IS NULL", orgID).
		Update("stripe_customer_id", sub.Customer.ID).Error
	if err != nil {
		s.log.Warnw("could not backfill stripe customer id", "org_id", orgID, "err", err)
	}
}

func fromStripe(orgID uuid.UUID, src *stripe.Subscription) *subscriptions.Subscription {
	row := &subscriptions.Subscription{
		ID:                 src.ID,
		OrganizationID:     orgID,
		Status:             stripeapi.StatusFromStripe(src.Status),
		Quantity:           1,
		SeatBased:          src.Metadata["seat_based"] == "true",
		CurrentPeriodStart: unixPtr(src.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(src.CurrentPeriodEnd),
		TrialStart:         unixPtr(src.TrialStart),
		TrialEnd:           unixPtr(src.TrialEnd),
		CancelAtPeriodEnd:  src.CancelAtPeriodEnd,
		CanceledAt:         unixPtr(src.CanceledAt),
	}
	if src.Customer != nil {
		row.StripeCustomerID = src.Customer.ID
	}
	if src.Items != nil && len(src.Items.Data) > 0 {
		item := src.Items.Data[0]
		row.Quantity = item.Quantity
		if item.Price != nil {
			row.StripePriceID = item.Price.ID
			if item.Price.Metadata["seat_based"] == "true" {
				row.SeatBased = true
			}
		}
	}
	return row
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}
