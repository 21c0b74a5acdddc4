package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"billing-engine/config"
	"billing-engine/database"
	adminapi "billing-engine/internal/api/admin"
	orgsapi "billing-engine/internal/api/orgs"
	stripewebhooks "billing-engine/internal/api/stripewebhook"
	routes "billing-engine/internal/app/http"
	"billing-engine/internal/infra/notify"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
	"billing-engine/internal/service/ledger"
	"billing-engine/internal/service/seatsync"
	"billing-engine/internal/service/subsync"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()

	zlog, err := logger.New()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer zlog.Sync()

	db, err := database.Open(config.DB_URL)
	if err != nil {
		zlog.Fatalw("database init failed", "err", err)
	}

	stripeClient := stripeapi.New(config.STRIPE_SECRET_KEY)
	notifier := notify.NewLogNotifier(zlog)

	ledgerSvc := ledger.New(db, zlog, config.ALLOW_NEGATIVE_CREDITS)
	subSync := subsync.New(db, stripeClient, notifier, zlog)
	seats := seatsync.New(db, stripeClient, seatsync.NewPGLocker(db), zlog)

	webhooks := stripewebhooks.New(
		db, stripeClient, subSync, ledgerSvc, seats, notifier,
		zlog, config.STRIPE_WEBHOOK_SECRET,
	)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		Webhooks:  webhooks,
		Orgs:      orgsapi.New(db, seats, ledgerSvc, stripeClient, zlog, config.PAST_DUE_GRACE_DAYS),
		Admin:     adminapi.New(db, webhooks, ledgerSvc, stripeClient, zlog, config.PAST_DUE_GRACE_DAYS),
		JWTSecret: config.JWT_SECRET,
	})

	if err := r.Run(":" + config.PORT); err != nil {
		zlog.Fatalw("server exited", "err", err)
	}
}
