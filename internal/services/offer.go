package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"offerwall/internal/datastore"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"
	"offerwall/internal/pkg/caching"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// OfferCatalogs maps a provider name to its catalog client.
type OfferCatalogs map[string]interfaces.OfferCatalog

type OfferSyncResult struct {
	Provider    string `json:"provider"`
	Fetched     int    `json:"fetched"`
	Upserted    int    `json:"upserted"`
	Skipped     int    `json:"skipped"`
	Deactivated int64  `json:"deactivated"`
}

type ServiceOffer struct {
	container          *do.Injector
	redisCache         redis.UniversalClient
	rs                 *redsync.Redsync
	postgresDB         *bun.DB
	readonlyPostgresDB *bun.DB
	cache              caching.Cache
	readonlyCache      caching.ReadOnlyCache
	catalogs           OfferCatalogs
	policy             Policy
}

func NewServiceOffer(container *do.Injector) (*ServiceOffer, error) {
	redisCache, err := do.InvokeNamed[redis.UniversalClient](container, "redis-cache")
	if err != nil {
		return nil, err
	}

	rs, err := do.Invoke[*redsync.Redsync](container)
	if err != nil {
		return nil, err
	}

	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	readonlyPostgresDB, err := do.InvokeNamed[*bun.DB](container, "db-readonly")
	if err != nil {
		return nil, err
	}

	cache, err := do.Invoke[caching.Cache](container)
	if err != nil {
		return nil, err
	}

	readonlyCache, err := do.Invoke[caching.ReadOnlyCache](container)
	if err != nil {
		return nil, err
	}

	catalogs, err := do.Invoke[OfferCatalogs](container)
	if err != nil {
		return nil, err
	}

	policy, err := do.Invoke[Policy](container)
	if err != nil {
		return nil, err
	}

	return &ServiceOffer{container, redisCache, rs, postgresDB, readonlyPostgresDB, cache, readonlyCache, catalogs, policy}, nil
}

func (service *ServiceOffer) ListOffers(ctx context.Context, provider string, category string) ([]*models.Offer, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	category = strings.ToLower(strings.TrimSpace(category))

	callback := func() ([]*models.Offer, error) {
		offers, err := datastore.GetActiveOffers(ctx, service.readonlyPostgresDB, datastore.OfferFilter{
			Provider: provider,
			Category: category,
		})
		if err != nil {
			return nil, err
		}
		if offers == nil {
			offers = []*models.Offer{}
		}
		return offers, nil
	}

	return caching.UseCacheWithRO(ctx, service.readonlyCache, service.cache, DBKeyOffers(provider, category), CACHE_TTL_5_MINS, callback)
}

func (service *ServiceOffer) GetOffer(ctx context.Context, offerID int64) (*models.Offer, error) {
	offer, err := datastore.FindOfferByID(ctx, service.readonlyPostgresDB, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "offer", ID: fmt.Sprint(offerID)}
		}
		return nil, err
	}
	return offer, nil
}

// StartOffer records that the user opened an offer. Starting twice returns the
// existing attempt.
func (service *ServiceOffer) StartOffer(ctx context.Context, userID int64, offerID int64) (*models.UserOffer, error) {
	offer, err := datastore.FindOfferByID(ctx, service.postgresDB, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "offer", ID: fmt.Sprint(offerID)}
		}
		return nil, err
	}
	if !offer.IsActive {
		return nil, &NotFoundError{Resource: "offer", ID: fmt.Sprint(offerID)}
	}

	userOffer, err := datastore.InsertUserOfferIfMissing(ctx, service.postgresDB, userID, offerID)
	if err != nil {
		return nil, err
	}
	userOffer.Offer = offer

	if err := service.cache.Delete(ctx, DBKeyDashboard(userID)); err != nil {
		zap.L().Warn("dashboard cache not cleared", zap.Int64("user_id", userID), zap.Error(err))
	}
	return userOffer, nil
}

// SyncFromProvider pulls the provider's catalog and upserts it. The user
// payout is always derived from the platform share, never from the
// provider's own reward figure.
func (service *ServiceOffer) SyncFromProvider(ctx context.Context, provider string, filter interfaces.CatalogFilter) (*OfferSyncResult, error) {
	catalog, ok := service.catalogs[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	mutex := service.rs.NewMutex(LockKeyOfferSync(provider), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, ErrOfferSyncLock
	}
	// nolint:errcheck
	defer mutex.Unlock()

	offers, err := catalog.FetchOffers(ctx, filter)
	if err != nil {
		RailErrors.WithLabelValues(provider, "catalog").Inc()
		return nil, &RailError{Op: "offer catalog fetch", Err: err}
	}

	result := &OfferSyncResult{Provider: provider, Fetched: len(offers)}
	if len(offers) == 0 {
		zap.L().Warn("no offers received from provider", zap.String("provider", provider))
		return result, nil
	}

	seen := make([]string, 0, len(offers))
	for _, item := range offers {
		if !item.Revenue.IsPositive() {
			result.Skipped++
			continue
		}

		offer := &models.Offer{
			Title:           item.Title,
			Description:     item.Description,
			Provider:        provider,
			Category:        item.Category,
			RewardAmount:    item.Revenue.Round(2),
			TimeEstimate:    item.TimeEstimate,
			Requirements:    item.Requirements,
			ExternalOfferID: item.ExternalOfferID,
			IsActive:        true,
		}
		offer.ApplyRevenueShare(service.policy.UserShare)

		if err := datastore.UpsertOffer(ctx, service.postgresDB, offer); err != nil {
			zap.L().Error("offer upsert failed",
				zap.String("provider", provider),
				zap.String("external_offer_id", item.ExternalOfferID),
				zap.Error(err))
			result.Skipped++
			continue
		}
		seen = append(seen, item.ExternalOfferID)
		result.Upserted++
	}
	OfferSyncUpserts.WithLabelValues(provider).Add(float64(result.Upserted))

	if result.Upserted > 0 {
		result.Deactivated, err = datastore.DeactivateMissingOffers(ctx, service.postgresDB, provider, seen)
		if err != nil {
			return nil, err
		}
	}

	if err := caching.DeleteKeys(ctx, service.redisCache, DBKeyOffersPattern()); err != nil {
		zap.L().Warn("offer cache not cleared", zap.Error(err))
	}

	zap.L().Info("offers synchronized",
		zap.String("provider", provider),
		zap.Int("fetched", result.Fetched),
		zap.Int("upserted", result.Upserted),
		zap.Int("skipped", result.Skipped),
		zap.Int64("deactivated", result.Deactivated))
	return result, nil
}

func (service *ServiceOffer) Providers() []string {
	providers := make([]string, 0, len(service.catalogs))
	for name := range service.catalogs {
		providers = append(providers, name)
	}
	return providers
}
