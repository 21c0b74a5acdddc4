package orgsapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"billing-engine/internal/domain/access"
	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
	"billing-engine/internal/errs"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
	"billing-engine/internal/service/ledger"
	"billing-engine/internal/service/seatsync"
)

type Handler struct {
	db               *gorm.DB
	seats            *seatsync.Coordinator
	ledger           *ledger.Service
	stripe           stripeapi.Client
	log              *logger.Logger
	pastDueGraceDays int
}

func New(db *gorm.DB, seats *seatsync.Coordinator, ledgerSvc *ledger.Service, stripeClient stripeapi.Client, log *logger.Logger, pastDueGraceDays int) *Handler {
	return &Handler{db: db, seats: seats, ledger: ledgerSvc, stripe: stripeClient, log: log, pastDueGraceDays: pastDueGraceDays}
}

// SyncSeats reconciles the billed seat count with current membership.
// Membership-change callers default to skip-if-locked: a concurrent sync is
// already doing this work. ?wait=true waits for the lock instead, for
// callers that need the result.
func (h *Handler) SyncSeats(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization id"})
		return
	}
	if _, err := h.ensureOrg(c, orgID); err != nil {
		return
	}

	mode := seatsync.SkipIfLocked
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		mode = seatsync.WaitBounded
	}

	result, err := h.seats.Sync(c.Request.Context(), orgID, mode)
	if err != nil {
		status := http.StatusInternalServerError
		if !errs.IsTransient(err) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// GetBilling returns the organization's subscription, derived access state
// and credit balance.
func (h *Handler) GetBilling(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization id"})
		return
	}
	org, err := h.ensureOrg(c, orgID)
	if err != nil {
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

	body := gin.H{
		"access_state":   access.ComputeState(time.Now(), subPtr, h.pastDueGraceDays),
		"subscription":   subPtr,
		"credit_balance": balance,
	}

	// Best effort: show what the next invoice would charge today, prorations
	// included. The page still renders without it.
	if subPtr != nil && !subPtr.Status.Terminal() && org.StripeCustomerID != nil {
		inv, err := h.stripe.CreatePreviewInvoice(*org.StripeCustomerID, subPtr.ID)
		if err != nil {
			h.log.Warnw("upcoming invoice preview failed", "org_id", orgID, "err", err)
		} else {
			body["upcoming_invoice"] = gin.H{
				"amount_due": inv.AmountDue,
				"currency":   inv.Currency,
				"period_end": inv.PeriodEnd,
			}
		}
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) ensureOrg(c *gin.Context, orgID uuid.UUID) (*orgs.Organization, error) {
	var org orgs.Organization
	if err := h.db.First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load organization"})
		}
		return nil, err
	}
	return &org, nil
}
