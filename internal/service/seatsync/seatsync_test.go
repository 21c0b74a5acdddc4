package seatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
	"billing-engine/internal/logger"
)

// memLocker is an in-process stand-in for the Postgres advisory lock.
type memLocker struct {
	mu   sync.Mutex
	held map[int32]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[int32]bool{}}
}

func (l *memLocker) TryAcquire(ctx context.Context, key int32) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

type quantityUpdate struct {
	subID    string
	quantity int64
}

type fakeProvider struct {
	mu        sync.Mutex
	updates   []quantityUpdate
	updateErr error
}

func (f *fakeProvider) RetrieveSubscription(id string) (*stripe.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) UpdateSubscriptionQuantity(id string, quantity int64) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, quantityUpdate{subID: id, quantity: quantity})
	return &stripe.Subscription{ID: id}, nil
}

func (f *fakeProvider) CreateCustomer(email string, metadata map[string]string) (*stripe.Customer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) ListCheckoutSessionsByPaymentIntent(paymentIntentID string) ([]*stripe.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) CreatePreviewInvoice(customerID, subscriptionID string) (*stripe.Invoice, error) {
	return nil, errors.New("not implemented")
}

func setupSeatTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&orgs.Organization{}, &orgs.Member{}, &subscriptions.Subscription{}))
	return db
}

func seedOrg(t *testing.T, db *gorm.DB, members int, quantity int64) (uuid.UUID, string) {
	org := &orgs.Organization{Name: "acme"}
	require.NoError(t, db.Create(org).Error)

	for i := 0; i < members; i++ {
		require.NoError(t, db.Create(&orgs.Member{
			OrganizationID: org.ID,
			Email:          "member@example.com",
			Status:         orgs.MemberActive,
		}).Error)
	}

	sub := &subscriptions.Subscription{
		ID:             "sub_" + org.ID.String()[:8],
		OrganizationID: org.ID,
		Status:         subscriptions.StatusActive,
		Quantity:       quantity,
		SeatBased:      true,
	}
	require.NoError(t, db.Create(sub).Error)
	return org.ID, sub.ID
}

func TestSyncConvergence(t *testing.T) {
	ctx := context.Background()

	t.Run("corrects provider then local when counts diverge", func(t *testing.T) {
		db := setupSeatTestDB(t)
		provider := &fakeProvider{}
		coord := New(db, provider, newMemLocker(), logger.NewNop())
		orgID, subID := seedOrg(t, db, 5, 3)

		result, err := coord.Sync(ctx, orgID, SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultUpdated, result)

		require.Len(t, provider.updates, 1)
		assert.Equal(t, quantityUpdate{subID: subID, quantity: 5}, provider.updates[0])

		var sub subscriptions.Subscription
		require.NoError(t, db.First(&sub, "id = ?", subID).Error)
		assert.Equal(t, int64(5), sub.Quantity)
	})

	t.Run("no-op when already in sync", func(t *testing.T) {
		db := setupSeatTestDB(t)
		provider := &fakeProvider{}
		coord := New(db, provider, newMemLocker(), logger.NewNop())
		orgID, _ := seedOrg(t, db, 4, 4)

		result, err := coord.Sync(ctx, orgID, SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultInSync, result)
		assert.Empty(t, provider.updates)
	})

	t.Run("removed members don't hold a seat", func(t *testing.T) {
		db := setupSeatTestDB(t)
		provider := &fakeProvider{}
		coord := New(db, provider, newMemLocker(), logger.NewNop())
		orgID, _ := seedOrg(t, db, 3, 3)

		require.NoError(t, db.Create(&orgs.Member{
			OrganizationID: orgID,
			Email:          "gone@example.com",
			Status:         orgs.MemberRemoved,
		}).Error)

		result, err := coord.Sync(ctx, orgID, SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultInSync, result)
	})

	t.Run("provider failure leaves local quantity untouched", func(t *testing.T) {
		db := setupSeatTestDB(t)
		provider := &fakeProvider{updateErr: errors.New("stripe unreachable: i/o timeout")}
		coord := New(db, provider, newMemLocker(), logger.NewNop())
		orgID, subID := seedOrg(t, db, 5, 3)

		_, err := coord.Sync(ctx, orgID, SkipIfLocked)
		require.Error(t, err)

		var sub subscriptions.Subscription
		require.NoError(t, db.First(&sub, "id = ?", subID).Error)
		assert.Equal(t, int64(3), sub.Quantity)
	})

	t.Run("no seat-based subscription", func(t *testing.T) {
		db := setupSeatTestDB(t)
		coord := New(db, &fakeProvider{}, newMemLocker(), logger.NewNop())

		result, err := coord.Sync(ctx, uuid.New(), SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultNoSubscription, result)
	})
}

func TestSyncLocking(t *testing.T) {
	ctx := context.Background()

	t.Run("skip mode yields when tenant is locked", func(t *testing.T) {
		db := setupSeatTestDB(t)
		locker := newMemLocker()
		provider := &fakeProvider{}
		coord := New(db, provider, locker, logger.NewNop())
		orgID, _ := seedOrg(t, db, 5, 3)

		release, ok, err := locker.TryAcquire(ctx, LockKey(orgID.String()))
		require.NoError(t, err)
		require.True(t, ok)

		result, err := coord.Sync(ctx, orgID, SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultSkipped, result)
		assert.Empty(t, provider.updates, "skipped sync must not touch the provider")

		release()

		result, err = coord.Sync(ctx, orgID, SkipIfLocked)
		require.NoError(t, err)
		assert.Equal(t, ResultUpdated, result)
	})

	t.Run("bounded wait acquires after the holder releases", func(t *testing.T) {
		db := setupSeatTestDB(t)
		locker := newMemLocker()
		coord := New(db, &fakeProvider{}, locker, logger.NewNop())
		orgID, _ := seedOrg(t, db, 5, 3)

		release, ok, err := locker.TryAcquire(ctx, LockKey(orgID.String()))
		require.NoError(t, err)
		require.True(t, ok)

		go func() {
			time.Sleep(50 * time.Millisecond)
			release()
		}()

		result, err := coord.Sync(ctx, orgID, WaitBounded)
		require.NoError(t, err)
		assert.Equal(t, ResultUpdated, result)
	})

	t.Run("bounded wait gives up against a stuck holder", func(t *testing.T) {
		db := setupSeatTestDB(t)
		locker := newMemLocker()
		coord := New(db, &fakeProvider{}, locker, logger.NewNop())
		coord.maxRetries = 1
		orgID, _ := seedOrg(t, db, 5, 3)

		_, ok, err := locker.TryAcquire(ctx, LockKey(orgID.String()))
		require.NoError(t, err)
		require.True(t, ok)

		result, err := coord.Sync(ctx, orgID, WaitBounded)
		require.NoError(t, err)
		assert.Equal(t, ResultSkipped, result)
	})
}

func TestLockKey(t *testing.T) {
	a := LockKey("org-a")
	b := LockKey("org-b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, LockKey("org-a"), "key must be deterministic")
	assert.GreaterOrEqual(t, a, int32(0))
	assert.GreaterOrEqual(t, b, int32(0))
}
