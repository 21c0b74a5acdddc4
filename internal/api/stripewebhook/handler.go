package stripewebhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/gorm"

	"billing-engine/internal/domain/events"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/notify"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
	"billing-engine/internal/service/ledger"
	"billing-engine/internal/service/seatsync"
	"billing-engine/internal/service/subsync"
)

const maxWebhookBody = 65536

// Handler is the webhook ingestion gateway: verify signature, claim the
// event in the idempotency ledger, dispatch, finalize, pick the status code
// that steers Stripe's retry behavior.
type Handler struct {
	db         *gorm.DB
	secret     string
	dispatcher *Dispatcher
	log        *logger.Logger

	stripe   stripeapi.Client
	sync     *subsync.Synchronizer
	ledger   *ledger.Service
	seats    *seatsync.Coordinator
	notifier notify.Notifier
}

func New(
	db *gorm.DB,
	stripeClient stripeapi.Client,
	sync *subsync.Synchronizer,
	ledgerSvc *ledger.Service,
	seats *seatsync.Coordinator,
	notifier notify.Notifier,
	log *logger.Logger,
	webhookSecret string,
) *Handler {
	h := &Handler{
		db:       db,
		secret:   webhookSecret,
		log:      log,
		stripe:   stripeClient,
		sync:     sync,
		ledger:   ledgerSvc,
		seats:    seats,
		notifier: notifier,
	}

	d := NewDispatcher(log)
	d.Register("checkout.session.completed", h.handleCheckoutCompleted)
	d.Register("customer.subscription.created", h.handleSubscriptionCreated)
	d.Register("customer.subscription.updated", h.handleSubscriptionUpdated)
	d.Register("customer.subscription.deleted", h.handleSubscriptionDeleted)
	d.Register("customer.subscription.trial_will_end", h.handleTrialWillEnd)
	d.Register("invoice.payment_succeeded", h.handleInvoicePaymentSucceeded)
	d.Register("invoice.payment_failed", h.handleInvoicePaymentFailed)
	d.Register("charge.refunded", h.handleChargeRefunded)
	d.Register("charge.dispute.created", h.handleDisputeCreated)
	h.dispatcher = d

	return h
}

func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := readStripeBody(c, maxWebhookBody)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		// Forged or corrupted input never reaches the ledger.
		h.log.Warnw("stripe signature verification failed", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	ctx := c.Request.Context()

	// Claim. The unique index on stripe_event_id is the lock: whichever
	// delivery inserts first owns the event, everyone else acknowledges.
	ev := &events.BillingEvent{
		StripeEventID: event.ID,
		Type:          string(event.Type),
		Payload:       payload,
	}
	if err := h.db.WithContext(ctx).Create(ev).Error; err != nil {
		if errs.IsDuplicate(err) {
			h.handleRedelivery(c, event.ID)
			return
		}
		h.log.Errorw("could not claim billing event", "event_id", event.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
		return
	}

	if err := h.dispatch(ctx, ev, &event); err != nil {
		if errs.IsTransient(err) {
			// 5xx asks Stripe to redeliver with backoff. Safe, because the
			// ledger row stays processed=false and dispatch is idempotent.
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// A logic error won't be fixed by redelivery; acknowledge and leave
		// the error on the ledger row for operator follow-up.
		c.JSON(http.StatusOK, gin.H{"status": "failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// handleRedelivery owns the claim-conflict path. Handled or in-flight events
// are acknowledged without reprocessing; a row whose previous attempt failed
// (error recorded, nobody in flight) is the redelivery we asked for with a
// 5xx, so it goes through dispatch again.
func (h *Handler) handleRedelivery(c *gin.Context, stripeEventID string) {
	ctx := c.Request.Context()

	var existing events.BillingEvent
	if err := h.db.WithContext(ctx).
		Where("stripe_event_id = ?", stripeEventID).
		First(&existing).Error; err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}
	if existing.Processed || existing.Error == nil {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := h.Redispatch(ctx, &existing); err != nil {
		if errs.IsTransient(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// dispatch runs the routed handler and finalizes the ledger row either way.
func (h *Handler) dispatch(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	err := h.dispatcher.Dispatch(ctx, ev, event)

	updates := map[string]interface{}{
		"organization_id": ev.OrganizationID,
		"subscription_id": ev.SubscriptionID,
		"order_id":        ev.OrderID,
	}
	if err != nil {
		updates["error"] = err.Error()
		h.log.Errorw("event handler failed",
			"event_id", ev.StripeEventID, "type", ev.Type,
			"transient", errs.IsTransient(err), "err", err)
	} else {
		updates["processed"] = true
		updates["error"] = nil
	}

	if dbErr := h.db.WithContext(ctx).Model(&events.BillingEvent{}).
		Where("id = ?", ev.ID).
		Updates(updates).Error; dbErr != nil {
		h.log.Errorw("could not finalize billing event", "event_id", ev.StripeEventID, "err", dbErr)
		if err == nil {
			// Processing succeeded but the flag didn't stick; ask for a
			// redelivery so the ledger eventually reflects reality.
			return errs.Transient(dbErr)
		}
	}
	return err
}

// Redispatch replays a stored event through the normal pipeline. Used by the
// operator retry endpoint; safe because handlers are idempotent.
func (h *Handler) Redispatch(ctx context.Context, ev *events.BillingEvent) error {
	var event stripe.Event
	if err := json.Unmarshal(ev.Payload, &event); err != nil {
		return errs.Permanent(fmt.Errorf("stored payload unreadable: %w", err))
	}
	return h.dispatch(ctx, ev, &event)
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
