package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"offerwall/internal/datastore"
	"offerwall/internal/models"
	"offerwall/internal/provider/lootably"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCreditsUserShare(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "alice")
	offer := env.createOffer(t, "abc", "8.00")
	require.True(t, dec("4.00").Equal(offer.UserPayout))

	result, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "tx-1", "8.00", "400"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.True(t, dec("4.00").Equal(result.EarningAmount))
	assert.True(t, dec("4.00").Equal(result.PlatformAmount))
	assert.True(t, dec("4.00").Equal(result.NewBalance))
	assert.Equal(t, "tx-1", result.TransactionID)

	stored := env.user(t, user.ID)
	assert.True(t, dec("4.00").Equal(stored.Balance))
	assert.True(t, dec("4.00").Equal(stored.TotalEarned))
	assert.Equal(t, 1, stored.TasksCompleted)

	userOffer, err := datastore.FindUserOffer(ctx, env.db, user.ID, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UserOfferStatusCompleted, userOffer.Status)
	assert.True(t, dec("4.00").Equal(userOffer.RewardAmount.Decimal))

	callback, err := datastore.FindOfferCallback(ctx, env.db, lootably.ProviderName, "tx-1")
	require.NoError(t, err)
	assert.True(t, callback.Processed)
	assert.Equal(t, "8.00", callback.CallbackData["revenue"])

	env.requireConsistent(t, user.ID)
}

func TestReconcileReplayCreditsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "bob")
	offer := env.createOffer(t, "abc", "8.00")
	event := signedPostback(user, offer, "tx-1", "8.00", "400")

	first, err := reconciler.Reconcile(ctx, event)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := reconciler.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, dec("4.00").Equal(second.EarningAmount))
	assert.True(t, dec("4.00").Equal(second.NewBalance))

	stored := env.user(t, user.ID)
	assert.True(t, dec("4.00").Equal(stored.Balance))
	assert.Equal(t, 1, stored.TasksCompleted)
	env.requireConsistent(t, user.ID)
}

func TestReconcileSameOfferNewTransactionIsDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "carol")
	offer := env.createOffer(t, "abc", "8.00")

	_, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "tx-1", "8.00", "400"))
	require.NoError(t, err)

	result, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "tx-2", "8.00", "400"))
	require.NoError(t, err)
	assert.False(t, result.Applied)

	// the second callback is still kept for audit
	callback, err := datastore.FindOfferCallback(ctx, env.db, lootably.ProviderName, "tx-2")
	require.NoError(t, err)
	assert.False(t, callback.Processed)

	assert.True(t, dec("4.00").Equal(env.user(t, user.ID).Balance))
	env.requireConsistent(t, user.ID)
}

func TestReconcileConcurrentReplays(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "dave")
	offer := env.createOffer(t, "abc", "8.00")
	event := signedPostback(user, offer, "tx-1", "8.00", "400")

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := reconciler.Reconcile(ctx, event)
			assert.NoError(t, err)
			if err == nil && result.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.True(t, dec("4.00").Equal(env.user(t, user.ID).Balance))
	env.requireConsistent(t, user.ID)
}

func TestReconcileUsesSnapshotOfUserPayout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "erin")
	offer := env.createOffer(t, "abc", "8.00")

	_, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "tx-1", "8.00", "400"))
	require.NoError(t, err)

	// the provider doubles the offer afterwards
	env.createOffer(t, "abc", "16.00")

	userOffer, err := datastore.FindUserOffer(ctx, env.db, user.ID, offer.ID)
	require.NoError(t, err)
	assert.True(t, dec("4.00").Equal(userOffer.RewardAmount.Decimal))

	snapshot := env.requireConsistent(t, user.ID)
	assert.True(t, dec("4.00").Equal(snapshot.EarningsTotal))
}

func TestReconcileEmptyTransactionID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "frank")
	offer := env.createOffer(t, "abc", "3.00")

	result, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "", "3.00", "150"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, fmt.Sprintf("%d:abc", user.ID), result.TransactionID)
	assert.True(t, dec("1.50").Equal(result.EarningAmount))
}

func TestReconcileRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "gina")
	offer := env.createOffer(t, "abc", "8.00")

	t.Run("bad signature", func(t *testing.T) {
		event := signedPostback(user, offer, "tx-sig", "8.00", "400")
		event.CurrencyReward = "4000"
		_, err := reconciler.Reconcile(ctx, event)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("non-completion status", func(t *testing.T) {
		event := signedPostback(user, offer, "tx-status", "8.00", "400")
		event.Status = "0"
		_, err := reconciler.Reconcile(ctx, event)
		assert.ErrorIs(t, err, ErrNonCompletionStatus)
	})

	t.Run("unknown provider", func(t *testing.T) {
		event := signedPostback(user, offer, "tx-provider", "8.00", "400")
		event.Provider = "adgem"
		_, err := reconciler.Reconcile(ctx, event)
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("unknown user", func(t *testing.T) {
		ghost := &models.User{ID: user.ID + 1000}
		_, err := reconciler.Reconcile(ctx, signedPostback(ghost, offer, "tx-user", "8.00", "400"))
		var notFound *NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "user", notFound.Resource)
	})

	t.Run("unknown offer", func(t *testing.T) {
		ghost := &models.Offer{ExternalOfferID: "missing"}
		_, err := reconciler.Reconcile(ctx, signedPostback(user, ghost, "tx-offer", "8.00", "400"))
		var notFound *NotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "offer", notFound.Resource)
	})

	stored := env.user(t, user.ID)
	assert.True(t, stored.Balance.IsZero())
	assert.True(t, stored.TotalEarned.IsZero())
}
