package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"billing-engine/internal/domain/credits"
	"billing-engine/internal/errs"
	"billing-engine/internal/logger"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(&credits.CreditTransaction{})
	require.NoError(t, err)

	return db
}

func TestGrant(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc := New(db, logger.NewNop(), false)
	ctx := context.Background()
	orgID := uuid.New()

	t.Run("grants once and records balance", func(t *testing.T) {
		tx, err := svc.Grant(ctx, GrantParams{
			OrganizationID: orgID,
			Amount:         100,
			Type:           credits.TransactionPurchase,
			ReferenceType:  credits.RefCheckoutSession,
			ReferenceID:    "cs_1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), tx.Amount)
		assert.Equal(t, int64(100), tx.BalanceAfter)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("retried grant with same reference is a no-op", func(t *testing.T) {
		tx, err := svc.Grant(ctx, GrantParams{
			OrganizationID: orgID,
			Amount:         100,
			Type:           credits.TransactionPurchase,
			ReferenceType:  credits.RefCheckoutSession,
			ReferenceID:    "cs_1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), tx.Amount)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance, "balance must increase exactly once")

		var count int64
		require.NoError(t, db.Model(&credits.CreditTransaction{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("bonus grant is independently idempotent", func(t *testing.T) {
		_, err := svc.Grant(ctx, GrantParams{
			OrganizationID: orgID,
			Amount:         50,
			Type:           credits.TransactionBonus,
			ReferenceType:  credits.RefCheckoutSession + credits.BonusSuffix,
			ReferenceID:    "cs_1",
		})
		require.NoError(t, err)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := svc.Grant(ctx, GrantParams{
			OrganizationID: orgID,
			Amount:         0,
			Type:           credits.TransactionPurchase,
			ReferenceType:  credits.RefCheckoutSession,
			ReferenceID:    "cs_zero",
		})
		require.Error(t, err)
		assert.False(t, errs.IsTransient(err))
	})
}

func TestReverse(t *testing.T) {
	ctx := context.Background()

	grantPurchase := func(t *testing.T, svc *Service, orgID uuid.UUID, sessionID string, base, bonus int64) {
		_, err := svc.Grant(ctx, GrantParams{
			OrganizationID: orgID,
			Amount:         base,
			Type:           credits.TransactionPurchase,
			ReferenceType:  credits.RefCheckoutSession,
			ReferenceID:    sessionID,
		})
		require.NoError(t, err)
		if bonus > 0 {
			_, err = svc.Grant(ctx, GrantParams{
				OrganizationID: orgID,
				Amount:         bonus,
				Type:           credits.TransactionBonus,
				ReferenceType:  credits.RefCheckoutSession + credits.BonusSuffix,
				ReferenceID:    sessionID,
			})
			require.NoError(t, err)
		}
	}

	t.Run("sums base and bonus into one reversal", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		svc := New(db, logger.NewNop(), false)
		orgID := uuid.New()
		grantPurchase(t, svc, orgID, "cs_rev", 100, 50)

		tx, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_rev",
			RefundID:        "re_1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-150), tx.Amount)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("second reversal with same refund id is a no-op", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		svc := New(db, logger.NewNop(), true)
		orgID := uuid.New()
		grantPurchase(t, svc, orgID, "cs_rev2", 150, 0)

		_, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_rev2",
			RefundID:        "re_2",
		})
		require.NoError(t, err)

		tx, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_rev2",
			RefundID:        "re_2",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-150), tx.Amount)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance, "reversal must apply exactly once")
	})

	t.Run("nothing to reverse returns nil without error", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		svc := New(db, logger.NewNop(), false)

		tx, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  uuid.New(),
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_unknown",
			RefundID:        "re_3",
		})
		require.NoError(t, err)
		assert.Nil(t, tx)
	})

	t.Run("block policy rejects reversal below zero", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		svc := New(db, logger.NewNop(), false)
		orgID := uuid.New()
		grantPurchase(t, svc, orgID, "cs_spent", 100, 0)

		// Simulate usage that already consumed some credits.
		require.NoError(t, db.Create(&credits.CreditTransaction{
			OrganizationID: orgID,
			Amount:         -80,
			Type:           credits.TransactionAdjustment,
			ReferenceType:  "adjustment",
			ReferenceID:    "adj_1",
			BalanceAfter:   20,
		}).Error)

		_, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_spent",
			RefundID:        "re_4",
		})
		require.Error(t, err)
		assert.False(t, errs.IsTransient(err))
	})

	t.Run("allow policy records a negative balance", func(t *testing.T) {
		db := setupLedgerTestDB(t)
		svc := New(db, logger.NewNop(), true)
		orgID := uuid.New()
		grantPurchase(t, svc, orgID, "cs_spent2", 100, 0)

		require.NoError(t, db.Create(&credits.CreditTransaction{
			OrganizationID: orgID,
			Amount:         -80,
			Type:           credits.TransactionAdjustment,
			ReferenceType:  "adjustment",
			ReferenceID:    "adj_2",
			BalanceAfter:   20,
		}).Error)

		tx, err := svc.Reverse(ctx, ReverseParams{
			OrganizationID:  orgID,
			PurchaseRefType: credits.RefCheckoutSession,
			PurchaseRefID:   "cs_spent2",
			RefundID:        "re_5",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-100), tx.Amount)

		balance, err := svc.Balance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, int64(-80), balance)
	})
}
