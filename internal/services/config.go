package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"offerwall/internal/datastore"
	"offerwall/internal/models"
	"offerwall/internal/pkg/caching"

	"github.com/samber/do"
	"github.com/uptrace/bun"
)

type ServiceConfig struct {
	container          *do.Injector
	postgresDB         *bun.DB
	readonlyPostgresDB *bun.DB
	cache              caching.Cache
	readonlyCache      caching.ReadOnlyCache
}

func NewServiceConfig(container *do.Injector) (*ServiceConfig, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	cache, err := do.Invoke[caching.Cache](container)
	if err != nil {
		return nil, err
	}

	readonlyPostgresDB, err := do.InvokeNamed[*bun.DB](container, "db-readonly")
	if err != nil {
		return nil, err
	}

	readOnlyCache, err := do.Invoke[caching.ReadOnlyCache](container)
	if err != nil {
		return nil, err
	}

	return &ServiceConfig{container, postgresDB, readonlyPostgresDB, cache, readOnlyCache}, nil
}

// GetStringConfig falls back to defaultValue when the key is missing.
func (service *ServiceConfig) GetStringConfig(ctx context.Context, key string, defaultValue string) (string, error) {
	callback := func() (string, error) {
		config, err := datastore.GetConfigByKey(ctx, service.readonlyPostgresDB, key)
		if err != nil {
			return defaultValue, err
		}
		return config.Value, nil
	}

	value, err := caching.UseCacheWithRO(ctx, service.readonlyCache, service.cache, DBKeyConfig(key), CACHE_TTL_5_MINS, callback)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, err
	}

	return value, nil
}

func (service *ServiceConfig) GetIntConfig(ctx context.Context, key string, defaultValue int) (int, error) {
	value, err := service.GetStringConfig(ctx, key, strconv.Itoa(defaultValue))
	if err != nil {
		return defaultValue, err
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, err
	}

	return intValue, nil
}

// SeedDefaults stores the default of every known key without touching values
// an operator already changed.
func (service *ServiceConfig) SeedDefaults(ctx context.Context) error {
	defaults := []models.Config{
		{Key: CONFIG_CRONJOB_TIME_PAYOUT_POLLER, Value: DEFAULT_CRONJOB_TIME_PAYOUT_POLLER},
		{Key: CONFIG_CRONJOB_TIME_OFFER_SYNC, Value: DEFAULT_CRONJOB_TIME_OFFER_SYNC},
		{Key: CONFIG_PAYOUT_POLLER_BATCH_SIZE, Value: strconv.Itoa(DEFAULT_PAYOUT_POLLER_BATCH_SIZE)},
		{Key: CONFIG_PAYOUT_STALE_MINUTES, Value: strconv.Itoa(DEFAULT_PAYOUT_STALE_MINUTES)},
	}

	for _, config := range defaults {
		if err := datastore.InsertConfigIfMissing(ctx, service.postgresDB, config); err != nil {
			return err
		}
	}

	return nil
}

func (service *ServiceConfig) SetConfig(ctx context.Context, key string, value string) (*models.Config, error) {
	config, err := datastore.GetConfigByKey(ctx, service.postgresDB, key)
	if errors.Is(err, sql.ErrNoRows) {
		config = &models.Config{Key: key, Value: value}
		if err := datastore.InsertConfigIfMissing(ctx, service.postgresDB, *config); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		config.Value = value
		if config, err = datastore.EditConfig(ctx, service.postgresDB, config); err != nil {
			return nil, err
		}
	}

	if err := service.cache.Delete(ctx, DBKeyConfig(key)); err != nil {
		return nil, err
	}
	return config, nil
}
