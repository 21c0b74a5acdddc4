package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"billing-engine/internal/domain/credits"
	"billing-engine/internal/domain/events"
	"billing-engine/internal/domain/orders"
	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
)

// Open connects and migrates. TranslateError is required: duplicate-key
// detection across the codebase relies on gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&orgs.Organization{},
		&orgs.Member{},
		&subscriptions.Subscription{},
		&orders.Order{},
		&orders.OrderItem{},
		&credits.CreditTransaction{},
		&events.BillingEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}
