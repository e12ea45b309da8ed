package services

import (
	"context"
	"errors"
	"testing"

	"offerwall/internal/pkg/limiter"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	users := do.MustInvoke[*ServiceUser](env.container)
	authentication := do.MustInvoke[*Authentication](env.container)

	registered, err := users.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "bearer", registered.Type)
	assert.Equal(t, "alice@example.com", registered.User.PaypalEmail)
	assert.True(t, registered.User.Balance.IsZero())

	claims, err := authentication.Validate(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.ID)
	assert.Equal(t, "alice", claims.Username)

	loggedIn, err := users.Login(ctx, "ALICE@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	_, err = users.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = users.Login(ctx, "nobody", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = users.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "other@example.com",
		Password: "correct-horse",
	})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	users := do.MustInvoke[*ServiceUser](env.container)

	_, err := users.Register(ctx, RegisterRequest{
		Username: "a!",
		Email:    "not-an-email",
		Password: "short",
	})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, validation.Problems, "email must be a valid email")
	assert.Contains(t, validation.Problems, "password must be at least 8 characters")
	assert.Contains(t, validation.Problems, "username must be at least 3 characters")
}

func TestLoginRateLimited(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	users := do.MustInvoke[*ServiceUser](env.container)

	env.limiter.block(LimitKeyLogin("alice"))
	_, err := users.Login(ctx, "alice", "whatever")
	assert.ErrorIs(t, err, limiter.ErrRateLimited)
}

func TestUpdatePaypalEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	users := do.MustInvoke[*ServiceUser](env.container)
	user := env.createUser(t, "bob")

	updated, err := users.UpdatePaypalEmail(ctx, user.ID, " Bob@PayPal.Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "bob@paypal.example.com", updated.PaypalEmail)

	_, err = users.UpdatePaypalEmail(ctx, user.ID, "nope")
	var validation *ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	users := do.MustInvoke[*ServiceUser](env.container)
	reconciler := do.MustInvoke[*ServiceReconciler](env.container)

	user := env.createUser(t, "carol")
	offer := env.createOffer(t, "abc", "8.00")
	_, err := reconciler.Reconcile(ctx, signedPostback(user, offer, "tx-1", "8.00", "400"))
	require.NoError(t, err)

	stats, err := users.Dashboard(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, dec("4.00").Equal(stats.Balance))
	assert.True(t, dec("4.00").Equal(stats.TotalEarnings))
	assert.Equal(t, 1, stats.CompletedOffers)
	assert.Zero(t, stats.PendingOffers)
	assert.Len(t, stats.RecentEarnings, 1)
	require.Len(t, stats.RecentOffers, 1)
	assert.Equal(t, offer.ID, stats.RecentOffers[0].Offer.ID)
}
