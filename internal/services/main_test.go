package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"
	"offerwall/internal/pkg/caching"
	"offerwall/internal/pkg/limiter"
	"offerwall/internal/provider/lootably"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis_rate/v10"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const testPostbackSecret = "test-postback-secret"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeLimiter struct {
	mu      sync.Mutex
	blocked map[string]bool
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit redis_rate.Limit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blocked[key] {
		return limiter.ErrRateLimited
	}
	return nil
}

func (l *fakeLimiter) block(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[key] = true
}

// fakeRail records submitted batches and reports whatever item status the
// test sets.
type fakeRail struct {
	mu        sync.Mutex
	submitErr error
	statusErr error
	delay     time.Duration
	seq       int
	tokens    map[string]string
	batches   map[string]*interfaces.RailBatchStatus
	submitted []interfaces.RailBatch
}

func newFakeRail() *fakeRail {
	return &fakeRail{
		tokens:  map[string]string{},
		batches: map[string]*interfaces.RailBatchStatus{},
	}
}

func (r *fakeRail) Name() string {
	return "fake"
}

func (r *fakeRail) Submit(ctx context.Context, batch interfaces.RailBatch) (*interfaces.RailReceipt, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.submitted = append(r.submitted, batch)
	if r.submitErr != nil {
		return nil, r.submitErr
	}
	if _, ok := r.tokens[batch.Token]; ok {
		return nil, interfaces.ErrDuplicateBatch
	}

	r.seq++
	status := &interfaces.RailBatchStatus{
		BatchID:     fmt.Sprintf("BATCH-%d", r.seq),
		BatchStatus: "PENDING",
	}
	receipt := &interfaces.RailReceipt{BatchID: status.BatchID, BatchStatus: "PENDING", ItemIDs: map[string]string{}}
	for i, item := range batch.Items {
		itemID := fmt.Sprintf("ITEM-%d-%d", r.seq, i)
		receipt.ItemIDs[item.ItemToken] = itemID
		status.Items = append(status.Items, interfaces.RailItemStatus{ItemID: itemID, ItemToken: item.ItemToken, Status: "PENDING"})
	}
	r.tokens[batch.Token] = status.BatchID
	r.batches[status.BatchID] = status
	return receipt, nil
}

func (r *fakeRail) Status(ctx context.Context, batchID string) (*interfaces.RailBatchStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.statusErr != nil {
		return nil, r.statusErr
	}
	status, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}
	copied := *status
	copied.Items = append([]interfaces.RailItemStatus(nil), status.Items...)
	return &copied, nil
}

func (r *fakeRail) setItemStatus(batchID, status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.batches[batchID].Items {
		r.batches[batchID].Items[i].Status = status
		r.batches[batchID].Items[i].Error = reason
	}
}

// acceptToken pretends an earlier submission with token reached the rail.
func (r *fakeRail) acceptToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = "BATCH-EARLIER"
}

func (r *fakeRail) submissions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitted)
}

type fakeCatalog struct {
	offers []interfaces.CatalogOffer
	err    error
}

func (c *fakeCatalog) Provider() string {
	return lootably.ProviderName
}

func (c *fakeCatalog) FetchOffers(ctx context.Context, filter interfaces.CatalogFilter) ([]interfaces.CatalogOffer, error) {
	return c.offers, c.err
}

type testEnv struct {
	container *do.Injector
	db        *bun.DB
	redis     *miniredis.Miniredis
	limiter   *fakeLimiter
	rail      *fakeRail
	catalog   *fakeCatalog
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithPolicy(t, DefaultPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy Policy) *testEnv {
	t.Helper()
	ctx := context.Background()

	sqldb, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, datastore.CreateTables(ctx, db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := caching.NewCacheRedis(client, false)
	require.NoError(t, err)

	env := &testEnv{
		container: do.New(),
		db:        db,
		redis:     mr,
		limiter:   &fakeLimiter{blocked: map[string]bool{}},
		rail:      newFakeRail(),
		catalog:   &fakeCatalog{},
	}

	injector := env.container
	do.ProvideValue(injector, db)
	do.ProvideNamedValue(injector, "db-readonly", db)
	do.ProvideNamedValue[redis.UniversalClient](injector, "redis-db", client)
	do.ProvideNamedValue[redis.UniversalClient](injector, "redis-cache", client)
	do.ProvideValue[caching.Cache](injector, cache)
	do.ProvideValue[caching.ReadOnlyCache](injector, cache)
	do.ProvideValue[interfaces.Limiter](injector, env.limiter)
	do.ProvideValue(injector, redsync.New(goredis.NewPool(client)))
	do.ProvideValue(injector, policy)
	do.ProvideValue(injector, PostbackVerifiers{
		lootably.ProviderName: NewPostbackVerifier(lootably.ProviderName, testPostbackSecret, false),
	})
	do.ProvideValue(injector, OfferCatalogs{lootably.ProviderName: env.catalog})
	do.ProvideValue[interfaces.PayoutRail](injector, env.rail)

	authentication, err := NewAuthentication("test-jwt-secret")
	require.NoError(t, err)
	do.ProvideValue(injector, authentication)

	do.Provide(injector, NewServiceLedger)
	do.Provide(injector, NewServiceReconciler)
	do.Provide(injector, NewServicePayout)
	do.Provide(injector, NewServicePayoutPoller)
	do.Provide(injector, NewServiceOffer)
	do.Provide(injector, NewServiceUser)
	do.Provide(injector, NewServiceConfig)
	do.Provide(injector, NewServiceReport)

	return env
}

func (env *testEnv) createUser(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := datastore.CreateUser(context.Background(), env.db, &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		PaypalEmail:  username + "@paypal.example.com",
		Balance:      decimal.Zero,
		TotalEarned:  decimal.Zero,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

func (env *testEnv) createOffer(t *testing.T, externalID string, reward string) *models.Offer {
	t.Helper()
	ctx := context.Background()
	offer := &models.Offer{
		Title:           "Offer " + externalID,
		Provider:        lootably.ProviderName,
		Category:        models.OfferCategoryGeneral,
		RewardAmount:    decimal.RequireFromString(reward),
		ExternalOfferID: externalID,
		Requirements:    map[string]interface{}{},
		IsActive:        true,
	}
	offer.ApplyRevenueShare(decimal.RequireFromString("0.50"))
	require.NoError(t, datastore.UpsertOffer(ctx, env.db, offer))

	stored, err := datastore.FindOfferByExternalID(ctx, env.db, lootably.ProviderName, externalID)
	require.NoError(t, err)
	return stored
}

// fund credits a bonus through the ledger so the user's invariants hold.
func (env *testEnv) fund(t *testing.T, userID int64, amount string) {
	t.Helper()
	ledger := do.MustInvoke[*ServiceLedger](env.container)
	err := env.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, _, err := ledger.CreditCompletion(ctx, tx, Credit{
			UserID:      userID,
			Amount:      decimal.RequireFromString(amount),
			Type:        models.EarningTypeBonus,
			Description: "test funding",
		})
		return err
	})
	require.NoError(t, err)
}

func (env *testEnv) user(t *testing.T, userID int64) *models.User {
	t.Helper()
	user, err := datastore.FindUserByID(context.Background(), env.db, userID)
	require.NoError(t, err)
	return user
}

func (env *testEnv) payout(t *testing.T, payoutID int64) *models.Payout {
	t.Helper()
	payout, err := datastore.FindPayoutByID(context.Background(), env.db, payoutID)
	require.NoError(t, err)
	return payout
}

func (env *testEnv) requireConsistent(t *testing.T, userID int64) *LedgerSnapshot {
	t.Helper()
	ledger := do.MustInvoke[*ServiceLedger](env.container)
	snapshot, err := ledger.CheckInvariants(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, snapshot.Problems)
	return snapshot
}

func signedPostback(user *models.User, offer *models.Offer, transactionID, revenue, reward string) PostbackEvent {
	event := PostbackEvent{
		Provider:       lootably.ProviderName,
		UserID:         fmt.Sprint(user.ID),
		TransactionID:  transactionID,
		OfferID:        offer.ExternalOfferID,
		OfferName:      offer.Title,
		Revenue:        revenue,
		CurrencyReward: reward,
		Status:         lootably.SuccessStatus,
		IP:             "203.0.113.7",
	}
	event.Hash = Sign(event.UserID, event.IP, event.Revenue, event.CurrencyReward, testPostbackSecret)
	return event
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
