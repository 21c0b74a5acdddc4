package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"billing-engine/internal/domain/subscriptions"
)

func TestComputeState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ptr := func(t time.Time) *time.Time { return &t }

	t.Run("no subscription is locked", func(t *testing.T) {
		assert.Equal(t, StateLocked, ComputeState(now, nil, 7))
	})

	t.Run("running trial wins over status", func(t *testing.T) {
		sub := &subscriptions.Subscription{
			Status:   subscriptions.StatusTrialing,
			TrialEnd: ptr(now.Add(48 * time.Hour)),
		}
		assert.Equal(t, StateTrial, ComputeState(now, sub, 7))
	})

	t.Run("active is full", func(t *testing.T) {
		sub := &subscriptions.Subscription{Status: subscriptions.StatusActive}
		assert.Equal(t, StateFull, ComputeState(now, sub, 7))
	})

	t.Run("past_due inside grace window is limited", func(t *testing.T) {
		sub := &subscriptions.Subscription{
			Status:           subscriptions.StatusPastDue,
			CurrentPeriodEnd: ptr(now.AddDate(0, 0, -3)),
		}
		assert.Equal(t, StateLimited, ComputeState(now, sub, 7))
	})

	t.Run("past_due beyond grace window is locked", func(t *testing.T) {
		sub := &subscriptions.Subscription{
			Status:           subscriptions.StatusPastDue,
			CurrentPeriodEnd: ptr(now.AddDate(0, 0, -10)),
		}
		assert.Equal(t, StateLocked, ComputeState(now, sub, 7))
	})

	t.Run("grace window length is configurable", func(t *testing.T) {
		sub := &subscriptions.Subscription{
			Status:           subscriptions.StatusPastDue,
			CurrentPeriodEnd: ptr(now.AddDate(0, 0, -10)),
		}
		assert.Equal(t, StateLimited, ComputeState(now, sub, 14))
	})

	t.Run("canceled keeps paid-through access", func(t *testing.T) {
		sub := &subscriptions.Subscription{
			Status:           subscriptions.StatusCanceled,
			CurrentPeriodEnd: ptr(now.AddDate(0, 0, 5)),
		}
		assert.Equal(t, StateFull, ComputeState(now, sub, 7))

		sub.CurrentPeriodEnd = ptr(now.AddDate(0, 0, -1))
		assert.Equal(t, StateLocked, ComputeState(now, sub, 7))
	})

	t.Run("incomplete_expired is locked", func(t *testing.T) {
		sub := &subscriptions.Subscription{Status: subscriptions.StatusIncompleteExpired}
		assert.Equal(t, StateLocked, ComputeState(now, sub, 7))
	})
}
