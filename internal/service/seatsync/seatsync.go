package seatsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"billing-engine/internal/domain/orgs"
	"billing-engine/internal/domain/subscriptions"
	"billing-engine/internal/infra/stripeapi"
	"billing-engine/internal/logger"
)

type Mode int

const (
	// SkipIfLocked returns immediately when another sync holds the tenant
	// lock. Used for user-triggered syncs where the caller shouldn't wait.
	SkipIfLocked Mode = iota
	// WaitBounded retries lock acquisition a few times with multiplying
	// backoff before giving up. Used for webhook-triggered syncs.
	WaitBounded
)

type Result string

const (
	ResultInSync         Result = "in_sync"
	ResultUpdated        Result = "updated"
	ResultSkipped        Result = "skipped"
	ResultNoSubscription Result = "no_subscription"
)

var errLockBusy = errors.New("seat sync lock busy")

// Coordinator keeps the provider subscription quantity equal to the actual
// member count for seat-based plans. Local quantity is a cache of the
// provider's, never the other way around: the provider update goes first and
// the local write only happens after it succeeds.
type Coordinator struct {
	db         *gorm.DB
	stripe     stripeapi.Client
	locker     Locker
	log        *logger.Logger
	maxRetries uint64
}

func New(db *gorm.DB, client stripeapi.Client, locker Locker, log *logger.Logger) *Coordinator {
	return &Coordinator{db: db, stripe: client, locker: locker, log: log, maxRetries: 3}
}

func (c *Coordinator) Sync(ctx context.Context, orgID uuid.UUID, mode Mode) (Result, error) {
	release, acquired, err := c.acquire(ctx, LockKey(orgID.String()), mode)
	if err != nil {
		return "", fmt.Errorf("acquire seat lock: %w", err)
	}
	if !acquired {
		c.log.Infow("seat sync skipped, tenant locked", "org_id", orgID)
		return ResultSkipped, nil
	}
	defer release()

	var sub subscriptions.Subscription
	err = c.db.WithContext(ctx).
		Where("organization_id = ? AND seat_based = ? AND status IN ?",
			orgID, true,
			[]subscriptions.Status{subscriptions.StatusActive, subscriptions.StatusTrialing, subscriptions.StatusPastDue}).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ResultNoSubscription, nil
		}
		return "", fmt.Errorf("load subscription: %w", err)
	}

	memberCount, err := orgs.CountActiveMembers(ctx, c.db, orgID)
	if err != nil {
		return "", fmt.Errorf("count members: %w", err)
	}

	if memberCount == sub.Quantity {
		return ResultInSync, nil
	}

	// Remote first. If the provider can't be reached the local row stays
	// untouched and the error propagates; claiming success here would leave
	// the two sides silently diverged.
	if _, err := c.stripe.UpdateSubscriptionQuantity(sub.ID, memberCount); err != nil {
		return "", fmt.Errorf("push quantity to provider: %w", err)
	}

	if err := c.db.WithContext(ctx).Model(&subscriptions.Subscription{}).
		Where("id = ?", sub.ID).
		Update("quantity", memberCount).Error; err != nil {
		return "", fmt.Errorf("store corrected quantity: %w", err)
	}

	c.log.Infow("seat count corrected",
		"org_id", orgID, "subscription_id", sub.ID,
		"was", sub.Quantity, "now", memberCount)
	return ResultUpdated, nil
}

func (c *Coordinator) acquire(ctx context.Context, key int32, mode Mode) (func(), bool, error) {
	if mode == SkipIfLocked {
		return c.locker.TryAcquire(ctx, key)
	}

	var release func()
	attempt := func() error {
		rel, ok, err := c.locker.TryAcquire(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		release = rel
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		if errors.Is(err, errLockBusy) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return release, true, nil
}
