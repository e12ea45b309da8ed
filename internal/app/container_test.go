package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"offerwall/internal/interfaces"
	"offerwall/internal/provider/lootably"
	"offerwall/internal/rail/paypal"
	"offerwall/internal/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

func testEnvs(t *testing.T) map[string]string {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DSN", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	t.Setenv("LOOTABLY_POSTBACK_SECRET", "postback-secret")
	t.Setenv("USER_REVENUE_SHARE", "0.40")

	vs, err := Envs()
	require.NoError(t, err)
	return vs
}

func TestEnvsDefaults(t *testing.T) {
	vs := testEnvs(t)
	assert.Equal(t, "production", vs["API_MODE"])
	assert.Equal(t, "*", vs["API_ORIGINS"])
	assert.Equal(t, "sandbox", vs["PAYPAL_MODE"])
	assert.Equal(t, "postback-secret", vs["LOOTABLY_POSTBACK_SECRET"])
}

func TestOpenDBSqlite(t *testing.T) {
	db := openDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), "")
	defer db.Close()
	assert.Equal(t, dialect.SQLite, db.Dialect().Name())
}

func TestRailTokenStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := &railTokenStore{client: client, rail: "paypal"}
	ctx := context.Background()

	token, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SetToken(ctx, "A21AA", time.Minute))
	token, err = store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A21AA", token)

	// a stale token does not remove a newer one
	require.NoError(t, store.DropToken(ctx, "OLD"))
	token, err = store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A21AA", token)

	require.NoError(t, store.DropToken(ctx, "A21AA"))
	token, err = store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.SetToken(ctx, "A21AB", time.Minute))
	mr.FastForward(2 * time.Minute)
	token, err = store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestNewContainerWithoutCredentials(t *testing.T) {
	vs := testEnvs(t)
	injector := NewContainer(vs)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	do.OverrideNamedValue[redis.UniversalClient](injector, "redis-db", client)

	policy, err := do.Invoke[services.Policy](injector)
	require.NoError(t, err)
	assert.Equal(t, "0.4", policy.UserShare.String())

	rail, err := do.Invoke[interfaces.PayoutRail](injector)
	require.NoError(t, err)
	assert.IsType(t, &paypal.DemoRail{}, rail)

	catalogs, err := do.Invoke[services.OfferCatalogs](injector)
	require.NoError(t, err)
	assert.Empty(t, catalogs)

	verifiers, err := do.Invoke[services.PostbackVerifiers](injector)
	require.NoError(t, err)
	assert.Contains(t, verifiers, lootably.ProviderName)

	primary, err := do.Invoke[*bun.DB](injector)
	require.NoError(t, err)
	readonly, err := do.InvokeNamed[*bun.DB](injector, "db-readonly")
	require.NoError(t, err)
	assert.Same(t, primary, readonly)
}
