package services

import (
	"context"
	"errors"
	"testing"

	"offerwall/internal/datastore"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"
	"offerwall/internal/provider/lootably"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncFromProviderAppliesShare(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	offers := do.MustInvoke[*ServiceOffer](env.container)

	stale := env.createOffer(t, "gone", "2.00")
	env.catalog.offers = []interfaces.CatalogOffer{
		{ExternalOfferID: "a1", Title: "Install app", Category: "app", Revenue: dec("8.00")},
		{ExternalOfferID: "a2", Title: "Survey", Category: "survey", Revenue: dec("1.25")},
		{ExternalOfferID: "a3", Title: "Variable", Revenue: dec("0")},
	}

	result, err := offers.SyncFromProvider(ctx, lootably.ProviderName, interfaces.CatalogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 1, result.Skipped)
	assert.EqualValues(t, 1, result.Deactivated)

	a1, err := datastore.FindOfferByExternalID(ctx, env.db, lootably.ProviderName, "a1")
	require.NoError(t, err)
	assert.True(t, dec("8.00").Equal(a1.RewardAmount))
	assert.True(t, dec("4.00").Equal(a1.UserPayout))

	a2, err := datastore.FindOfferByExternalID(ctx, env.db, lootably.ProviderName, "a2")
	require.NoError(t, err)
	assert.True(t, dec("0.63").Equal(a2.UserPayout))

	gone, err := offers.GetOffer(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, gone.IsActive)

	listed, err := offers.ListOffers(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	// a resync refreshes the reward and the derived payout together
	env.catalog.offers = []interfaces.CatalogOffer{
		{ExternalOfferID: "a1", Title: "Install app", Category: "app", Revenue: dec("10.00")},
		{ExternalOfferID: "a2", Title: "Survey", Category: "survey", Revenue: dec("1.25")},
	}
	_, err = offers.SyncFromProvider(ctx, lootably.ProviderName, interfaces.CatalogFilter{})
	require.NoError(t, err)

	a1, err = datastore.FindOfferByExternalID(ctx, env.db, lootably.ProviderName, "a1")
	require.NoError(t, err)
	assert.True(t, dec("5.00").Equal(a1.UserPayout))
}

func TestSyncFromProviderErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	offers := do.MustInvoke[*ServiceOffer](env.container)

	_, err := offers.SyncFromProvider(ctx, "adgem", interfaces.CatalogFilter{})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	env.catalog.err = errors.New("upstream 500")
	_, err = offers.SyncFromProvider(ctx, lootably.ProviderName, interfaces.CatalogFilter{})
	var railErr *RailError
	require.True(t, errors.As(err, &railErr))
	assert.Equal(t, "offer catalog fetch failed", railErr.Error())

	// an empty catalog leaves existing offers active
	existing := env.createOffer(t, "keep", "2.00")
	env.catalog.err = nil
	env.catalog.offers = nil
	result, err := offers.SyncFromProvider(ctx, lootably.ProviderName, interfaces.CatalogFilter{})
	require.NoError(t, err)
	assert.Zero(t, result.Fetched)

	stored, err := offers.GetOffer(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestStartOffer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	offers := do.MustInvoke[*ServiceOffer](env.container)

	user := env.createUser(t, "alice")
	offer := env.createOffer(t, "abc", "8.00")

	first, err := offers.StartOffer(ctx, user.ID, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UserOfferStatusStarted, first.Status)

	second, err := offers.StartOffer(ctx, user.ID, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = offers.StartOffer(ctx, user.ID, offer.ID+100)
	var notFound *NotFoundError
	assert.True(t, errors.As(err, &notFound))
}
