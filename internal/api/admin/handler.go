package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	stripewebhooks "billing-engine/internal/api/stripewebhook"
	"billing-engine/internal/domain/access"
	"billing-engine/internal/domain/credits"
	"billing-engine/internal/domain/events"
	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
	"billing-engine/internal/service/ledger"
)

type Handler struct {
	db               *gorm.DB
	webhooks         *stripewebhooks.Handler
	ledger           *ledger.Service
	stripe           stripeapi.Client
	log              *logger.Logger
	pastDueGraceDays int
}

func New(db *gorm.DB, webhooks *stripewebhooks.Handler, ledgerSvc *ledger.Service, stripeClient stripeapi.Client, log *logger.Logger, pastDueGraceDays int) *Handler {
	return &Handler{db: db, webhooks: webhooks, ledger: ledgerSvc, stripe: stripeClient, log: log, pastDueGraceDays: pastDueGraceDays}
}

type EventSummary struct {
	ID             uint       `json:"id"`
	StripeEventID  string     `json:"stripe_event_id"`
	Type           string     `json:"type"`
	Processed      bool       `json:"processed"`
	Error          *string    `json:"error,omitempty"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	OrderID        *uint      `json:"order_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Stats struct {
	TotalEvents       int64          `json:"total_events"`
	FailedEvents      int64          `json:"failed_events"`
	RecentEvents      int64          `json:"recent_events"`
	EventsPerType     map[string]int `json:"events_per_type"`
	CreditsIssued     int64          `json:"credits_issued"`
	ActiveSubscribers int64          `json:"active_subscribers"`
}

// ListEvents pages through the event ledger. ?processed=false narrows to
// rows needing attention; ?type= narrows to one event type.
func (h *Handler) ListEvents(c *gin.Context) {
	q := h.db.Model(&events.BillingEvent{}).Order("created_at DESC")

	if raw := c.Query("processed"); raw != "" {
		processed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "processed must be true or false"})
			return
		}
		q = q.Where("processed = ?", processed)
	}
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var rows []events.BillingEvent
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}

	result := make([]EventSummary, 0, len(rows))
	for _, ev := range rows {
		result = append(result, EventSummary{
			ID:             ev.ID,
			StripeEventID:  ev.StripeEventID,
			Type:           ev.Type,
			Processed:      ev.Processed,
			Error:          ev.Error,
			OrganizationID: ev.OrganizationID,
			SubscriptionID: ev.SubscriptionID,
			OrderID:        ev.OrderID,
			CreatedAt:      ev.CreatedAt,
			UpdatedAt:      ev.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetEvent(c *gin.Context) {
	var ev events.BillingEvent
	if err := h.db.First(&ev, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// RetryEvent replays a failed event through the webhook pipeline. Events
// that already processed are refused so a retry can't double-apply anything
// a handler forgot to guard.
func (h *Handler) RetryEvent(c *gin.Context) {
	var ev events.BillingEvent
	if err := h.db.First(&ev, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}
	if ev.Processed {
		c.JSON(http.StatusConflict, gin.H{"error": "Event already processed"})
		return
	}

	if err := h.webhooks.Redispatch(c.Request.Context(), &ev); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "failed",
			"transient": errs.IsTransient(err),
			"error":     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// GetOrgBilling is the operator's single-pane view of one organization:
// subscription, derived access state, and credit balance.
func (h *Handler) GetOrgBilling(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization id"})
		return
	}

	var sub subscriptions.Subscription
	var subPtr *subscriptions.Subscription
	err = h.db.Where("organization_id = ?", orgID).
		Order("updated_at DESC").
		First(&sub).Error
	if err == nil {
		subPtr = &sub
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load credit balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organization_id": orgID,
		"access_state":    access.ComputeState(time.Now(), subPtr, h.pastDueGraceDays),
		"subscription":    subPtr,
		"credit_balance":  balance,
	})
}

// EnsureCustomer provisions a Stripe customer for an organization that has
// none, so checkout and webhook resolution by customer id both work. A second
// call returns the existing id untouched.
func (h *Handler) EnsureCustomer(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization id"})
		return
	}

	var org orgs.Organization
	if err := h.db.First(&org, "id = ?", orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		return
	}
	if org.StripeCustomerID != nil && *org.StripeCustomerID != "" {
		c.JSON(http.StatusOK, gin.H{"stripe_customer_id": *org.StripeCustomerID, "created": false})
		return
	}

	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A billing email is required"})
		return
	}

	customer, err := h.stripe.CreateCustomer(req.Email, map[string]string{
		"organization_id": orgID.String(),
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Customer creation failed"})
		return
	}

	if err := h.db.Model(&orgs.Organization{}).
		Where("id = ?", orgID).
		Update("stripe_customer_id", customer.ID).Error; err != nil {
		h.log.Errorw("customer created but not recorded",
			"org_id", orgID, "customer_id", customer.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record customer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stripe_customer_id": customer.ID, "created": true})
}

func (h *Handler) GetStats(c *gin.Context) {
	var stats Stats

	h.db.Model(&events.BillingEvent{}).Count(&stats.TotalEvents)
	h.db.Model(&events.BillingEvent{}).
		Where("processed = ? AND error IS NOT NULL", false).
		Count(&stats.FailedEvents)

	dayAgo := time.Now().Add(-24 * time.Hour)
	h.db.Model(&events.BillingEvent{}).Where("created_at >= ?", dayAgo).Count(&stats.RecentEvents)

	type typeCount struct {
		Type  string
		Count int
	}
	var counts []typeCount
	h.db.Model(&events.BillingEvent{}).
		Select("type, COUNT(id) as count").
		Group("type").
		Scan(&counts)
	stats.EventsPerType = map[string]int{}
	for _, tc := range counts {
		stats.EventsPerType[tc.Type] = tc.Count
	}

	h.db.Model(&credits.CreditTransaction{}).
		Where("amount > 0").
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.CreditsIssued)
	h.db.Model(&subscriptions.Subscription{}).
		Where("status IN ?", []subscriptions.Status{subscriptions.StatusActive, subscriptions.StatusTrialing}).
		Count(&stats.ActiveSubscribers)

	c.JSON(http.StatusOK, stats)
}
