package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	"offerwall/internal/datastore/redis_store"
	"offerwall/internal/interfaces"
	"offerwall/internal/pkg/caching"
	"offerwall/internal/pkg/limiter"
	"offerwall/internal/provider/lootably"
	"offerwall/internal/rail/paypal"
	"offerwall/internal/services"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/hiendaovinh/toolkit/pkg/db"
	"github.com/hiendaovinh/toolkit/pkg/env"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var optionalEnvs = []string{
	"API_MODE",
	"API_ORIGINS",
	"ADMIN_API_KEY",
	"USER_REVENUE_SHARE",
	"PAYOUT_FEE_PERCENTAGE",
	"MINIMUM_PAYOUT_AMOUNT",
	"MAXIMUM_PAYOUT_AMOUNT",
	"PAYOUT_CURRENCY",
	"RAIL_TIMEOUT",
	"LOOTABLY_API_KEY",
	"LOOTABLY_PLACEMENT_ID",
	"LOOTABLY_API_URL",
	"LOOTABLY_POSTBACK_SECRET",
	"POSTBACK_REQUIRE_SIGNATURE",
	"PAYPAL_CLIENT_ID",
	"PAYPAL_CLIENT_SECRET",
	"PAYPAL_MODE",
	"PAYPAL_BASE_URL",
}

// Envs loads the required variables and fills in the optional ones.
func Envs() (map[string]string, error) {
	vs, err := env.EnvsRequired(
		"JWT_SECRET",
		"DB_DSN",
	)
	if err != nil {
		return nil, err
	}

	for _, key := range optionalEnvs {
		vs[key] = os.Getenv(key)
	}

	if vs["API_MODE"] == "" {
		vs["API_MODE"] = "production"
	}
	if vs["API_ORIGINS"] == "" {
		vs["API_ORIGINS"] = "*"
	}
	if vs["PAYPAL_MODE"] == "" {
		vs["PAYPAL_MODE"] = "sandbox"
	}

	return vs, nil
}

// openDB picks sqlite for "file:" DSNs and postgres for everything else.
func openDB(dsn, password string) *bun.DB {
	if strings.HasPrefix(dsn, "file:") {
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			panic(err)
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New())
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithPassword(password),
	))
	return bun.NewDB(sqldb, pgdialect.New())
}

func initRedis(clusterEnv, urlEnv string) (redis.UniversalClient, error) {
	clusterURL := os.Getenv(clusterEnv)
	if clusterURL != "" {
		clusterOpts, err := redis.ParseClusterURL(clusterURL)
		if err != nil {
			return nil, err
		}
		return redis.NewClusterClient(clusterOpts), nil
	}
	return db.InitRedis(&db.RedisConfig{
		URL: os.Getenv(urlEnv),
	})
}

// railTokenStore keeps the rail's OAuth token in redis so every process
// shares one token.
type railTokenStore struct {
	client redis.UniversalClient
	rail   string
}

func (s *railTokenStore) GetToken(ctx context.Context) (string, error) {
	return redis_store.GetRailToken(ctx, s.client, s.rail)
}

func (s *railTokenStore) SetToken(ctx context.Context, token string, ttl time.Duration) error {
	return redis_store.SetRailToken(ctx, s.client, s.rail, token, ttl)
}

func (s *railTokenStore) DropToken(ctx context.Context, token string) error {
	return redis_store.DropRailToken(ctx, s.client, s.rail, token)
}

func NewContainer(vs map[string]string) *do.Injector {
	injector := do.New()

	do.ProvideNamedValue(injector, "envs", vs)

	do.Provide(injector, func(i *do.Injector) (*bun.DB, error) {
		return openDB(vs["DB_DSN"], os.Getenv("DB_PASSWORD")), nil
	})

	do.ProvideNamed(injector, "db-readonly", func(i *do.Injector) (*bun.DB, error) {
		dsn := os.Getenv("DB_DSN_READONLY")
		if dsn == "" || strings.HasPrefix(vs["DB_DSN"], "file:") {
			return do.Invoke[*bun.DB](i)
		}
		return openDB(dsn, os.Getenv("DB_PASSWORD_READONLY")), nil
	})

	do.ProvideNamed(injector, "redis-db", func(i *do.Injector) (redis.UniversalClient, error) {
		return initRedis("CLUSTER_REDIS_DB", "REDIS_DB")
	})

	do.ProvideNamed(injector, "redis-cache", func(i *do.Injector) (redis.UniversalClient, error) {
		return initRedis("CLUSTER_REDIS_CACHE", "REDIS_CACHE")
	})

	do.ProvideNamed(injector, "redis-cache-readonly", func(i *do.Injector) (redis.UniversalClient, error) {
		var clusterOpts *redis.ClusterOptions
		var err error
		clusterCacheRedisReadOnlyURL := os.Getenv("CLUSTER_REDIS_CACHE_READONLY")
		if clusterCacheRedisReadOnlyURL != "" {
			clusterOpts, err = redis.ParseClusterURL(clusterCacheRedisReadOnlyURL)
		} else if clusterCacheRedisURL := os.Getenv("CLUSTER_REDIS_CACHE"); clusterCacheRedisURL != "" {
			clusterOpts, err = redis.ParseClusterURL(clusterCacheRedisURL)
		}

		if err != nil {
			return nil, err
		}
		if clusterOpts != nil {
			clusterOpts.ReadOnly = true
			return redis.NewClusterClient(clusterOpts), nil
		}

		url := os.Getenv("REDIS_CACHE_READONLY")
		if url == "" {
			url = os.Getenv("REDIS_CACHE")
		}
		return db.InitRedis(&db.RedisConfig{URL: url})
	})

	do.ProvideNamed(injector, "redis-limiter", func(i *do.Injector) (redis.UniversalClient, error) {
		return initRedis("CLUSTER_REDIS_LIMITER", "REDIS_LIMITER")
	})

	do.ProvideNamed(injector, "redis-mutex", func(i *do.Injector) (redis.UniversalClient, error) {
		return initRedis("CLUSTER_REDIS_MUTEX", "REDIS_MUTEX")
	})

	do.Provide(injector, func(i *do.Injector) (caching.Cache, error) {
		dbRedis, err := do.InvokeNamed[redis.UniversalClient](i, "redis-cache")
		if err != nil {
			return nil, err
		}

		return caching.NewCacheRedis(dbRedis, false)
	})

	do.Provide(injector, func(i *do.Injector) (caching.ReadOnlyCache, error) {
		dbRedis, err := do.InvokeNamed[redis.UniversalClient](i, "redis-cache-readonly")
		if err != nil {
			return nil, err
		}

		return caching.NewCacheRedis(dbRedis, false)
	})

	do.Provide(injector, func(i *do.Injector) (interfaces.Limiter, error) {
		dbRedis, err := do.InvokeNamed[redis.UniversalClient](i, "redis-limiter")
		if err != nil {
			return nil, err
		}

		return limiter.NewLimiter(dbRedis)
	})

	do.Provide(injector, func(i *do.Injector) (*redsync.Redsync, error) {
		dbRedis, err := do.InvokeNamed[redis.UniversalClient](i, "redis-mutex")
		if err != nil {
			return nil, err
		}

		pool := goredis.NewPool(dbRedis)
		return redsync.New(pool), nil
	})

	do.Provide(injector, func(i *do.Injector) (services.Policy, error) {
		return services.PolicyFromEnv(vs)
	})

	do.Provide(injector, func(i *do.Injector) (services.PostbackVerifiers, error) {
		requireSignature := vs["POSTBACK_REQUIRE_SIGNATURE"] == "true"
		return services.PostbackVerifiers{
			lootably.ProviderName: services.NewPostbackVerifier(lootably.ProviderName, vs["LOOTABLY_POSTBACK_SECRET"], requireSignature),
		}, nil
	})

	do.Provide(injector, func(i *do.Injector) (services.OfferCatalogs, error) {
		catalogs := services.OfferCatalogs{}

		client, err := lootably.New(lootably.Config{
			APIKey:      vs["LOOTABLY_API_KEY"],
			PlacementID: vs["LOOTABLY_PLACEMENT_ID"],
			URL:         vs["LOOTABLY_API_URL"],
		})
		if errors.Is(err, lootably.ErrNotConfigured) {
			zap.L().Warn("offer catalog disabled", zap.String("provider", lootably.ProviderName))
			return catalogs, nil
		}
		if err != nil {
			return nil, err
		}

		catalogs[lootably.ProviderName] = client
		return catalogs, nil
	})

	do.Provide(injector, func(i *do.Injector) (interfaces.PayoutRail, error) {
		policy, err := do.Invoke[services.Policy](i)
		if err != nil {
			return nil, err
		}

		redisDB, err := do.InvokeNamed[redis.UniversalClient](i, "redis-db")
		if err != nil {
			return nil, err
		}

		rail, err := paypal.New(paypal.Config{
			ClientID:     vs["PAYPAL_CLIENT_ID"],
			ClientSecret: vs["PAYPAL_CLIENT_SECRET"],
			Mode:         vs["PAYPAL_MODE"],
			BaseURL:      vs["PAYPAL_BASE_URL"],
			Timeout:      policy.RailTimeout,
			TokenStore:   &railTokenStore{client: redisDB, rail: "paypal"},
		})
		if errors.Is(err, paypal.ErrNotConfigured) {
			zap.L().Warn("paypal credentials missing, payouts use the demo rail")
			return paypal.NewDemoRail(), nil
		}
		if err != nil {
			return nil, err
		}

		return rail, nil
	})

	do.Provide(injector, func(i *do.Injector) (*services.Authentication, error) {
		return services.NewAuthentication(vs["JWT_SECRET"])
	})

	do.Provide(injector, services.NewServiceConfig)
	do.Provide(injector, services.NewServiceLedger)
	do.Provide(injector, services.NewServiceReconciler)
	do.Provide(injector, services.NewServicePayout)
	do.Provide(injector, services.NewServicePayoutPoller)
	do.Provide(injector, services.NewServiceOffer)
	do.Provide(injector, services.NewServiceUser)
	do.Provide(injector, services.NewServiceReport)

	return injector
}
