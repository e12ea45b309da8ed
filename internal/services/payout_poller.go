package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/datastore/redis_store"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrPollerLock = errors.New("payout poller already running")

const (
	POLLER_CONCURRENCY  = 8
	POLLER_LOCK_EXPIRY  = 10 * time.Minute
	STALE_PENDING_LIMIT = 100

	pollOutcomeCompleted = "completed"
	pollOutcomeReleased  = "released"
	pollOutcomeUnchanged = "unchanged"
)

var (
	railItemSettled = map[string]bool{
		"SUCCESS": true,
	}
	railItemReversed = map[string]bool{
		"FAILED":   true,
		"RETURNED": true,
		"BLOCKED":  true,
		"REFUNDED": true,
		"REVERSED": true,
		"DENIED":   true,
		"CANCELED": true,
	}
)

// ServicePayoutPoller settles processing payouts against the rail's view of
// them. A payout the rail reports failed gets its debit reversed.
type ServicePayoutPoller struct {
	container  *do.Injector
	redisDB    redis.UniversalClient
	rs         *redsync.Redsync
	postgresDB *bun.DB
	ledger     *ServiceLedger
	rail       interfaces.PayoutRail
	policy     Policy
}

func NewServicePayoutPoller(container *do.Injector) (*ServicePayoutPoller, error) {
	redisDB, err := do.InvokeNamed[redis.UniversalClient](container, "redis-db")
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

	ledger, err := do.Invoke[*ServiceLedger](container)
	if err != nil {
		return nil, err
	}

	rail, err := do.Invoke[interfaces.PayoutRail](container)
	if err != nil {
		return nil, err
	}

	policy, err := do.Invoke[Policy](container)
	if err != nil {
		return nil, err
	}

	return &ServicePayoutPoller{container, redisDB, rs, postgresDB, ledger, rail, policy}, nil
}

// SyncProcessing checks up to limit processing payouts, least recently checked
// first. Users are handled in parallel, one user's payouts in order.
func (service *ServicePayoutPoller) SyncProcessing(ctx context.Context, limit int, staleAfter time.Duration) (*redis_store.PayoutSyncReport, error) {
	mutex := service.rs.NewMutex(LockKeyPayoutPoller(), redsync.WithExpiry(POLLER_LOCK_EXPIRY), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, ErrPollerLock
	}
	// nolint:errcheck
	defer mutex.Unlock()

	report := &redis_store.PayoutSyncReport{StartedAt: time.Now().UTC()}

	payouts, err := datastore.GetPayoutsLeastRecentlyChecked(ctx, service.postgresDB, models.PayoutStatusProcessing, limit)
	if err != nil {
		return nil, err
	}

	var order []int64
	byUser := map[int64][]*models.Payout{}
	for _, payout := range payouts {
		if _, ok := byUser[payout.UserID]; !ok {
			order = append(order, payout.UserID)
		}
		byUser[payout.UserID] = append(byUser[payout.UserID], payout)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(POLLER_CONCURRENCY)
	for _, userID := range order {
		userPayouts := byUser[userID]
		g.Go(func() error {
			for _, payout := range userPayouts {
				outcome, err := service.SyncPayout(gctx, payout.ID)

				mu.Lock()
				report.Checked++
				switch {
				case err != nil:
					report.Errors++
				case outcome == pollOutcomeCompleted:
					report.Completed++
				case outcome == pollOutcomeReleased:
					report.Released++
				default:
					report.Unchanged++
				}
				mu.Unlock()

				if err != nil {
					zap.L().Error("payout sync failed",
						zap.Int64("payout_id", payout.ID),
						zap.Int64("user_id", payout.UserID),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	// nolint:errcheck
	g.Wait()

	if staleAfter > 0 {
		stale, err := service.ScanStalePending(ctx, staleAfter)
		if err != nil {
			zap.L().Error("stale payout scan failed", zap.Error(err))
		}
		report.StalePending = len(stale)
	}

	report.FinishedAt = time.Now().UTC()
	if err := redis_store.SavePayoutSyncReport(ctx, service.redisDB, report); err != nil {
		zap.L().Warn("payout sync report not saved", zap.Error(err))
	}

	zap.L().Info("payout sync finished",
		zap.Int("checked", report.Checked),
		zap.Int("completed", report.Completed),
		zap.Int("released", report.Released),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("errors", report.Errors),
		zap.Int("stale_pending", report.StalePending))
	return report, nil
}

// SyncPayout asks the rail about one processing payout and confirms or
// releases it accordingly.
func (service *ServicePayoutPoller) SyncPayout(ctx context.Context, payoutID int64) (string, error) {
	payout, err := datastore.FindPayoutByID(ctx, service.postgresDB, payoutID)
	if err != nil {
		return "", err
	}

	unlock, err := service.ledger.LockUser(ctx, payout.UserID)
	if err != nil {
		return "", err
	}
	defer unlock()

	payout, err = datastore.FindPayoutByID(ctx, service.postgresDB, payoutID)
	if err != nil {
		return "", err
	}
	if payout.Status != models.PayoutStatusProcessing {
		return pollOutcomeUnchanged, nil
	}
	if err := datastore.MarkPayoutChecked(ctx, service.postgresDB, payout.ID, time.Now().UTC()); err != nil {
		return "", err
	}
	if payout.BatchID == nil || *payout.BatchID == "" {
		return "", fmt.Errorf("payout %d is processing without a batch id", payout.ID)
	}

	railCtx, cancel := context.WithTimeout(ctx, service.policy.RailTimeout)
	status, err := service.rail.Status(railCtx, *payout.BatchID)
	cancel()
	if err != nil {
		RailErrors.WithLabelValues(service.rail.Name(), "status").Inc()
		return "", &RailError{Op: "payout status", Err: err}
	}

	itemStatus, itemError := payoutItemStatus(payout, status)
	switch {
	case railItemSettled[itemStatus]:
		if _, err := service.ledger.ConfirmPayout(ctx, payout.ID); err != nil {
			return "", err
		}
		return pollOutcomeCompleted, nil

	case railItemReversed[itemStatus]:
		reason := "rail reported " + itemStatus
		if itemError != "" {
			reason += ": " + itemError
		}
		if _, err := service.ledger.ReleasePayout(ctx, payout.ID, reason); err != nil {
			return "", err
		}
		return pollOutcomeReleased, nil
	}

	return pollOutcomeUnchanged, nil
}

// payoutItemStatus picks the payout's item out of a batch status. Without a
// matching item the batch status stands in for it.
func payoutItemStatus(payout *models.Payout, status *interfaces.RailBatchStatus) (string, string) {
	token := payoutItemToken(payout)
	for _, item := range status.Items {
		if (payout.ItemID != nil && item.ItemID == *payout.ItemID) || item.ItemToken == token {
			return strings.ToUpper(item.Status), item.Error
		}
	}
	if len(status.Items) == 1 {
		return strings.ToUpper(status.Items[0].Status), status.Items[0].Error
	}

	batchStatus := strings.ToUpper(status.BatchStatus)
	if railItemReversed[batchStatus] {
		return batchStatus, ""
	}
	return "", ""
}

// ScanStalePending lists payouts left pending longer than olderThan. They were
// recorded but never settled with the rail and need an operator.
func (service *ServicePayoutPoller) ScanStalePending(ctx context.Context, olderThan time.Duration) ([]*models.Payout, error) {
	payouts, err := datastore.GetPayoutsByStatus(ctx, service.postgresDB, models.PayoutStatusPending, time.Now().UTC().Add(-olderThan), STALE_PENDING_LIMIT)
	if err != nil {
		return nil, err
	}

	for _, payout := range payouts {
		zap.L().Warn("stale pending payout",
			zap.Int64("payout_id", payout.ID),
			zap.Int64("user_id", payout.UserID),
			zap.String("sender_batch_id", payout.SenderBatchID),
			zap.Time("requested_at", payout.RequestedAt))
	}

	return payouts, nil
}

func (service *ServicePayoutPoller) LastReport(ctx context.Context) (*redis_store.PayoutSyncReport, error) {
	return redis_store.GetPayoutSyncReport(ctx, service.redisDB)
}
