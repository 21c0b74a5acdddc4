package routes

import (
	"github.com/gin-gonic/gin"

	adminapi "billing-engine/internal/api/admin"
	orgsapi "billing-engine/internal/api/orgs"
	stripewebhooks "billing-engine/internal/api/stripewebhook"
	"billing-engine/internal/app/http/middleware"
)

type Deps struct {
	Webhooks  *stripewebhooks.Handler
	Orgs      *orgsapi.Handler
	Admin     *adminapi.Handler
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	// The webhook endpoint authenticates by signature, not by token.
	r.POST("/webhook", deps.Webhooks.HandleWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(deps.JWTSecret))

	org := auth.Group("/orgs/:id")
	org.Use(middleware.RequireOrgAccess())
	org.POST("/sync-seats", deps.Orgs.SyncSeats)
	org.GET("/billing", deps.Orgs.GetBilling)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(deps.JWTSecret), middleware.RequireRole("admin"))
	admin.GET("/events", deps.Admin.ListEvents)
	admin.GET("/events/:id", deps.Admin.GetEvent)
	admin.POST("/events/:id/retry", deps.Admin.RetryEvent)
	admin.GET("/orgs/:id/billing", deps.Admin.GetOrgBilling)
	admin.POST("/orgs/:id/ensure-customer", deps.Admin.EnsureCustomer)
	admin.GET("/stats", deps.Admin.GetStats)
}
