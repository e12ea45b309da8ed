package services

import (
	"context"
	"fmt"

	"offerwall/internal/datastore"
	"offerwall/internal/datastore/redis_store"
	"offerwall/internal/models"
	"offerwall/internal/pkg/caching"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const recentPayoutsLimit = 10

// PlatformStats keeps what users were paid apart from what the platform
// earned: advertiser revenue for completions minus the users' share.
type PlatformStats struct {
	TotalUsers           int             `json:"total_users"`
	ActiveUsers          int             `json:"active_users"`
	ActiveOffers         int             `json:"active_offers"`
	TotalOffersCompleted int             `json:"total_offers_completed"`
	TotalPaidToUsers     decimal.Decimal `json:"total_paid_to_users"`
	AdvertiserRevenue    decimal.Decimal `json:"advertiser_revenue"`
	PlatformRevenue      decimal.Decimal `json:"platform_revenue"`
	UnprocessedCallbacks int             `json:"unprocessed_callbacks"`
	ProcessedCallbacks   int             `json:"processed_callbacks"`
}

type PayoutStatusTotal struct {
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalFees   decimal.Decimal `json:"total_fees"`
	TotalNet    decimal.Decimal `json:"total_net"`
}

type PayoutStats struct {
	PayoutStats   map[string]PayoutStatusTotal  `json:"payout_stats"`
	RecentPayouts []*models.Payout              `json:"recent_payouts"`
	LastSync      *redis_store.PayoutSyncReport `json:"last_sync"`
}

// ServiceReport is read-only.
type ServiceReport struct {
	container          *do.Injector
	redisDB            redis.UniversalClient
	readonlyPostgresDB *bun.DB
	cache              caching.Cache
	readonlyCache      caching.ReadOnlyCache
	ledger             *ServiceLedger
}

func NewServiceReport(container *do.Injector) (*ServiceReport, error) {
	redisDB, err := do.InvokeNamed[redis.UniversalClient](container, "redis-db")
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

	ledger, err := do.Invoke[*ServiceLedger](container)
	if err != nil {
		return nil, err
	}

	return &ServiceReport{container, redisDB, readonlyPostgresDB, cache, readonlyCache, ledger}, nil
}

func (service *ServiceReport) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	callback := func() (*PlatformStats, error) {
		return service.platformStats(ctx)
	}

	return caching.UseCacheWithRO(ctx, service.readonlyCache, service.cache, DBKeyPlatformStats(), CACHE_TTL_1_MIN, callback)
}

func (service *ServiceReport) platformStats(ctx context.Context) (*PlatformStats, error) {
	db := service.readonlyPostgresDB
	stats := &PlatformStats{}

	var err error
	if stats.TotalUsers, err = datastore.CountUsers(ctx, db); err != nil {
		return nil, err
	}
	if stats.ActiveUsers, err = datastore.CountActiveUsers(ctx, db); err != nil {
		return nil, err
	}
	if stats.ActiveOffers, err = datastore.CountActiveOffers(ctx, db); err != nil {
		return nil, err
	}
	if stats.TotalOffersCompleted, err = datastore.CountCompletedUserOffers(ctx, db); err != nil {
		return nil, err
	}
	if stats.TotalPaidToUsers, err = datastore.SumAllEarnings(ctx, db); err != nil {
		return nil, err
	}
	if stats.UnprocessedCallbacks, err = datastore.CountOfferCallbacks(ctx, db, false); err != nil {
		return nil, err
	}
	if stats.ProcessedCallbacks, err = datastore.CountOfferCallbacks(ctx, db, true); err != nil {
		return nil, err
	}

	revenue, err := datastore.GetCompletionRevenue(ctx, db)
	if err != nil {
		return nil, err
	}
	stats.AdvertiserRevenue = revenue.AdvertiserTotal.Decimal
	stats.PlatformRevenue = revenue.AdvertiserTotal.Decimal.Sub(revenue.UserTotal.Decimal).Round(2)

	return stats, nil
}

func (service *ServiceReport) PayoutStats(ctx context.Context) (*PayoutStats, error) {
	rows, err := datastore.GetPayoutStatsByStatus(ctx, service.readonlyPostgresDB)
	if err != nil {
		return nil, err
	}

	stats := &PayoutStats{PayoutStats: map[string]PayoutStatusTotal{}}
	for _, row := range rows {
		stats.PayoutStats[row.Status] = PayoutStatusTotal{
			Count:       row.Count,
			TotalAmount: row.Amount.Decimal.Round(2),
			TotalFees:   row.Fee.Decimal.Round(2),
			TotalNet:    row.NetAmount.Decimal.Round(2),
		}
	}

	stats.RecentPayouts, err = datastore.GetRecentPayouts(ctx, service.readonlyPostgresDB, recentPayoutsLimit)
	if err != nil {
		return nil, err
	}

	stats.LastSync, err = redis_store.GetPayoutSyncReport(ctx, service.redisDB)
	if err != nil {
		return nil, fmt.Errorf("payout sync report: %w", err)
	}

	return stats, nil
}

// UserLedger checks one user's ledger invariants.
func (service *ServiceReport) UserLedger(ctx context.Context, userID int64) (*LedgerSnapshot, error) {
	return service.ledger.CheckInvariants(ctx, userID)
}
