package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/models"
	"offerwall/internal/pkg/limiter"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPayoutSplitsFee(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "alice")
	env.fund(t, user.ID, "100.00")

	receipt, err := payouts.RequestPayout(ctx, user.ID, dec("100.00"), "")
	require.NoError(t, err)
	assert.True(t, dec("100.00").Equal(receipt.Gross))
	assert.True(t, dec("2.00").Equal(receipt.Fee))
	assert.True(t, dec("98.00").Equal(receipt.Net))
	assert.Equal(t, models.PayoutStatusProcessing, receipt.Status)
	assert.Equal(t, "alice@paypal.example.com", receipt.Destination)
	assert.Equal(t, "Payout of $98.00 sent to alice@paypal.example.com", receipt.Message)

	require.Equal(t, 1, env.rail.submissions())
	batch := env.rail.submitted[0]
	assert.True(t, strings.HasPrefix(batch.Token, payoutTokenPrefix))
	require.Len(t, batch.Items, 1)
	assert.True(t, dec("98.00").Equal(batch.Items[0].Amount))

	payout := env.payout(t, receipt.PayoutID)
	require.NotNil(t, payout.BatchID)
	require.NotNil(t, payout.ItemID)
	assert.Equal(t, batch.Token, payout.SenderBatchID)

	assert.True(t, env.user(t, user.ID).Balance.IsZero())
	env.requireConsistent(t, user.ID)
}

func TestRequestPayoutRejectsSecondOpenPayout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "bob")
	env.fund(t, user.ID, "100.00")

	_, err := payouts.RequestPayout(ctx, user.ID, dec("20.00"), "paypal")
	require.NoError(t, err)

	_, err = payouts.RequestPayout(ctx, user.ID, dec("20.00"), "paypal")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, msgPendingPayout, conflict.Reason)

	assert.Equal(t, 1, env.rail.submissions())
	assert.True(t, dec("80.00").Equal(env.user(t, user.ID).Balance))
}

func TestRequestPayoutConflictsWhileProcessing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "bob")
	env.fund(t, user.ID, "50.00")

	receipt, err := payouts.RequestPayout(ctx, user.ID, dec("40.00"), "paypal")
	require.NoError(t, err)
	require.Equal(t, models.PayoutStatusProcessing, receipt.Status)

	// more than the remaining balance, still a conflict rather than a validation error
	_, err = payouts.RequestPayout(ctx, user.ID, dec("40.00"), "paypal")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	var validation *ValidationError
	assert.False(t, errors.As(err, &validation))
}

func TestRequestPayoutConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "frank")
	env.fund(t, user.ID, "50.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, conflicts := 0, 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := payouts.RequestPayout(ctx, user.ID, dec("40.00"), "paypal")

			mu.Lock()
			defer mu.Unlock()
			var conflict *ConflictError
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &conflict):
				conflicts++
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 3, conflicts)
	assert.Equal(t, 1, env.rail.submissions())
	assert.True(t, dec("10.00").Equal(env.user(t, user.ID).Balance))
	env.requireConsistent(t, user.ID)
}

func TestRequestPayoutValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "carol")
	env.fund(t, user.ID, "10.00")

	t.Run("insufficient balance", func(t *testing.T) {
		_, err := payouts.RequestPayout(ctx, user.ID, dec("20.00"), "paypal")
		var validation *ValidationError
		require.True(t, errors.As(err, &validation))
		assert.Contains(t, validation.Problems, "Insufficient balance. Available: $10.00")
	})

	t.Run("problems are aggregated", func(t *testing.T) {
		_, err := payouts.RequestPayout(ctx, user.ID, dec("1.005"), "venmo")
		var validation *ValidationError
		require.True(t, errors.As(err, &validation))
		assert.Contains(t, validation.Problems, "Amount must have at most 2 decimal places")
		assert.Contains(t, validation.Problems, "Minimum payout amount is $5.00")
		assert.Contains(t, validation.Problems, "Unsupported payout method: venmo")
	})

	t.Run("above maximum", func(t *testing.T) {
		_, err := payouts.RequestPayout(ctx, user.ID, dec("20000.00"), "paypal")
		var validation *ValidationError
		require.True(t, errors.As(err, &validation))
		assert.Contains(t, validation.Problems, "Maximum payout amount is $10000.00")
	})

	history, err := payouts.History(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, history.Total)
	assert.Zero(t, env.rail.submissions())
	assert.True(t, dec("10.00").Equal(env.user(t, user.ID).Balance))
}

func TestRequestPayoutRequiresPaypalEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "dave")
	env.fund(t, user.ID, "10.00")
	require.NoError(t, datastore.UpdateUserPaypalEmail(ctx, env.db, user.ID, ""))

	_, err := payouts.RequestPayout(ctx, user.ID, dec("10.00"), "paypal")
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, []string{"Valid PayPal email required"}, validation.Problems)
}

func TestRequestPayoutRateLimited(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "erin")
	env.fund(t, user.ID, "10.00")
	env.limiter.block(LimitKeyPayoutRequest(user.ID))

	_, err := payouts.RequestPayout(ctx, user.ID, dec("10.00"), "paypal")
	assert.ErrorIs(t, err, limiter.ErrRateLimited)
}

func TestRequestPayoutRailFailureKeepsBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "frank")
	env.fund(t, user.ID, "50.00")
	env.rail.submitErr = errors.New("INSUFFICIENT_FUNDS")

	_, err := payouts.RequestPayout(ctx, user.ID, dec("50.00"), "paypal")
	var railErr *RailError
	require.True(t, errors.As(err, &railErr))
	assert.Equal(t, "payout submission failed", railErr.Error())

	history, err := payouts.History(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Payouts, 1)
	assert.Equal(t, models.PayoutStatusFailed, history.Payouts[0].Status)

	stored := env.payout(t, history.Payouts[0].ID)
	assert.Contains(t, stored.Notes, "INSUFFICIENT_FUNDS")
	assert.Nil(t, stored.BatchID)

	assert.True(t, dec("50.00").Equal(env.user(t, user.ID).Balance))
	env.requireConsistent(t, user.ID)

	// a failed payout does not block the next request
	env.rail.submitErr = nil
	_, err = payouts.RequestPayout(ctx, user.ID, dec("50.00"), "paypal")
	require.NoError(t, err)
}

func TestRequestPayoutRailTimeout(t *testing.T) {
	ctx := context.Background()
	policy := DefaultPolicy()
	policy.RailTimeout = 50 * time.Millisecond
	env := newTestEnvWithPolicy(t, policy)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "gina")
	env.fund(t, user.ID, "50.00")
	env.rail.delay = time.Second

	_, err := payouts.RequestPayout(ctx, user.ID, dec("25.00"), "paypal")
	var railErr *RailError
	require.True(t, errors.As(err, &railErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	history, err := payouts.History(ctx, user.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Payouts, 1)
	stored := env.payout(t, history.Payouts[0].ID)
	assert.Equal(t, models.PayoutStatusFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.Notes, railTimeoutNote))

	assert.True(t, dec("50.00").Equal(env.user(t, user.ID).Balance))
	env.requireConsistent(t, user.ID)
}

func insertPendingPayout(t *testing.T, env *testEnv, user *models.User, amount string) *models.Payout {
	t.Helper()
	payout := &models.Payout{
		UserID:        user.ID,
		Amount:        dec(amount),
		Fee:           dec("0.20"),
		NetAmount:     dec(amount).Sub(dec("0.20")),
		Currency:      "USD",
		Method:        models.PayoutMethodPaypal,
		Destination:   user.PaypalEmail,
		Status:        models.PayoutStatusPending,
		SenderBatchID: payoutTokenPrefix + user.Username,
	}
	require.NoError(t, datastore.InsertPayout(context.Background(), env.db, payout))
	return payout
}

func TestResubmitPendingPayout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "henry")
	env.fund(t, user.ID, "10.00")
	pending := insertPendingPayout(t, env, user, "10.00")

	receipt, err := payouts.Resubmit(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusProcessing, receipt.Status)
	assert.Equal(t, pending.SenderBatchID, env.rail.submitted[0].Token)
	assert.True(t, env.user(t, user.ID).Balance.IsZero())

	_, err = payouts.Resubmit(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrPayoutState)
}

func TestResubmitAlreadyAcceptedTokenStaysPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "iris")
	env.fund(t, user.ID, "10.00")
	pending := insertPendingPayout(t, env, user, "10.00")
	env.rail.acceptToken(pending.SenderBatchID)

	_, err := payouts.Resubmit(ctx, pending.ID)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))

	assert.Equal(t, models.PayoutStatusPending, env.payout(t, pending.ID).Status)
	assert.True(t, dec("10.00").Equal(env.user(t, user.ID).Balance))
}

func TestPayoutInfo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payouts := do.MustInvoke[*ServicePayout](env.container)

	user := env.createUser(t, "jack")

	info, err := payouts.Info(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, info.CanPayout)
	assert.True(t, dec("5.00").Equal(info.MinimumAmount))

	env.fund(t, user.ID, "12.00")
	info, err = payouts.Info(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, info.CanPayout)
	assert.Nil(t, info.OpenPayout)

	_, err = payouts.RequestPayout(ctx, user.ID, dec("6.00"), "paypal")
	require.NoError(t, err)

	info, err = payouts.Info(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, info.CanPayout)
	require.NotNil(t, info.OpenPayout)
	assert.True(t, dec("6.00").Equal(info.Balance))
}
