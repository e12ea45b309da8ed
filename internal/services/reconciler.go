package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/interfaces"
	"offerwall/internal/models"
	"offerwall/internal/pkg/money"
	"offerwall/internal/provider/lootably"

	"github.com/go-redis/redis_rate/v10"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// provider postback status meaning "conversion completed"
var providerSuccessStatus = map[string]string{
	lootably.ProviderName: lootably.SuccessStatus,
}

type ReconcileResult struct {
	Applied        bool            `json:"applied"`
	EarningAmount  decimal.Decimal `json:"earning_amount"`
	PlatformAmount decimal.Decimal `json:"-"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	TransactionID  string          `json:"transaction_id"`
}

// ServiceReconciler applies provider postbacks to the ledger exactly once.
type ServiceReconciler struct {
	container  *do.Injector
	postgresDB *bun.DB
	limiter    interfaces.Limiter
	ledger     *ServiceLedger
	verifiers  PostbackVerifiers
}

func NewServiceReconciler(container *do.Injector) (*ServiceReconciler, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	limiter, err := do.Invoke[interfaces.Limiter](container)
	if err != nil {
		return nil, err
	}

	ledger, err := do.Invoke[*ServiceLedger](container)
	if err != nil {
		return nil, err
	}

	verifiers, err := do.Invoke[PostbackVerifiers](container)
	if err != nil {
		return nil, err
	}

	return &ServiceReconciler{container, postgresDB, limiter, ledger, verifiers}, nil
}

// AllowPostback throttles callbacks per provider and sender address.
func (service *ServiceReconciler) AllowPostback(ctx context.Context, provider string, remoteIP string) error {
	return service.limiter.Allow(ctx, LimitKeyPostback(provider, remoteIP), redis_rate.PerMinute(POSTBACK_RATE_LIMIT_PER_MINUTE))
}

// Reconcile authenticates a postback and credits the completion it reports.
// A completion that was already paid yields Applied=false and no error.
func (service *ServiceReconciler) Reconcile(ctx context.Context, event PostbackEvent) (*ReconcileResult, error) {
	result, err := service.reconcile(ctx, event)
	switch {
	case err == nil && result.Applied:
		PostbacksTotal.WithLabelValues(event.Provider, postbackResultCredited).Inc()
	case err == nil:
		PostbacksTotal.WithLabelValues(event.Provider, postbackResultDuplicate).Inc()
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrUnknownProvider):
		PostbacksTotal.WithLabelValues(event.Provider, postbackResultRejected).Inc()
	case errors.Is(err, ErrNonCompletionStatus):
		PostbacksTotal.WithLabelValues(event.Provider, postbackResultIgnored).Inc()
	default:
		PostbacksTotal.WithLabelValues(event.Provider, postbackResultError).Inc()
	}
	return result, err
}

func (service *ServiceReconciler) reconcile(ctx context.Context, event PostbackEvent) (*ReconcileResult, error) {
	verifier, ok := service.verifiers[event.Provider]
	successStatus, known := providerSuccessStatus[event.Provider]
	if !ok || !known {
		return nil, ErrUnknownProvider
	}

	if verdict := verifier.Verify(event); !verdict.Accepted {
		return nil, ErrInvalidSignature
	}

	if event.Status != successStatus {
		zap.L().Warn("postback with non-completion status",
			zap.String("provider", event.Provider),
			zap.String("transaction_id", event.TransactionID),
			zap.String("status", event.Status))
		return nil, ErrNonCompletionStatus
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(event.UserID), 10, 64)
	if err != nil {
		return nil, &NotFoundError{Resource: "user", ID: event.UserID}
	}
	user, err := datastore.FindUserByID(ctx, service.postgresDB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "user", ID: event.UserID}
		}
		return nil, err
	}

	offer, err := datastore.FindOfferByExternalID(ctx, service.postgresDB, event.Provider, event.OfferID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "offer", ID: event.OfferID}
		}
		return nil, err
	}

	transactionID := event.TransactionID
	if transactionID == "" {
		transactionID = fmt.Sprintf("%d:%s", user.ID, offer.ExternalOfferID)
	}

	unlock, err := service.ledger.LockUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	duplicate, err := service.findApplied(ctx, event.Provider, transactionID, user.ID, offer.ID)
	if err != nil {
		return nil, err
	}

	callback, err := datastore.RecordOfferCallback(ctx, service.postgresDB, newOfferCallback(event, transactionID, user.ID))
	if err != nil {
		return nil, err
	}

	if duplicate != nil {
		duplicate.TransactionID = transactionID
		zap.L().Info("postback already applied",
			zap.String("provider", event.Provider),
			zap.String("transaction_id", transactionID),
			zap.Int64("user_id", user.ID),
			zap.Int64("offer_id", offer.ID))
		return duplicate, nil
	}

	result := &ReconcileResult{Applied: true, TransactionID: transactionID}
	err = service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		userOffer, err := datastore.InsertUserOfferIfMissing(ctx, tx, user.ID, offer.ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		progress := map[string]interface{}{
			"transaction_id": transactionID,
			"revenue":        event.Revenue,
		}
		ok, err := datastore.CompleteUserOffer(ctx, tx, userOffer.ID, offer.UserPayout, progress, now)
		if err != nil {
			return err
		}
		if !ok {
			return &ConflictError{Reason: fmt.Sprintf("offer attempt already %s", userOffer.Status)}
		}

		written, earning, err := service.ledger.CreditCompletion(ctx, tx, Credit{
			UserID:      user.ID,
			UserOfferID: &userOffer.ID,
			Amount:      offer.UserPayout,
			Type:        models.EarningTypeTaskCompletion,
			Description: "Completed: " + offer.Title,
		})
		if err != nil {
			return err
		}

		if err := datastore.MarkOfferCallbackProcessed(ctx, tx, callback.ID, now); err != nil {
			return err
		}

		result.EarningAmount = earning.Amount
		result.NewBalance = written.Balance
		result.PlatformAmount = offer.RewardAmount.Sub(earning.Amount)
		return nil
	})
	if err != nil {
		zap.L().Error("postback reconciliation failed",
			zap.String("provider", event.Provider),
			zap.String("transaction_id", transactionID),
			zap.Int64("user_id", user.ID),
			zap.Int64("offer_id", offer.ID),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("postback credited",
		zap.String("provider", event.Provider),
		zap.String("transaction_id", transactionID),
		zap.Int64("user_id", user.ID),
		zap.Int64("offer_id", offer.ID),
		zap.String("amount", money.Format(result.EarningAmount)))
	return result, nil
}

// findApplied returns a non-applied result when the transaction or the
// (user, offer) completion was already paid, and nil otherwise.
func (service *ServiceReconciler) findApplied(ctx context.Context, provider, transactionID string, userID, offerID int64) (*ReconcileResult, error) {
	seen := false
	callback, err := datastore.FindOfferCallback(ctx, service.postgresDB, provider, transactionID)
	switch {
	case err == nil:
		seen = callback.Processed
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	userOffer, err := datastore.FindUserOffer(ctx, service.postgresDB, userID, offerID)
	switch {
	case err == nil:
		seen = seen || userOffer.IsCompleted()
	case errors.Is(err, sql.ErrNoRows):
		userOffer = nil
	default:
		return nil, err
	}

	if !seen {
		return nil, nil
	}

	user, err := datastore.FindUserByID(ctx, service.postgresDB, userID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Applied: false, NewBalance: user.Balance}
	if userOffer != nil && userOffer.RewardAmount.Valid {
		result.EarningAmount = userOffer.RewardAmount.Decimal
	}
	return result, nil
}

func newOfferCallback(event PostbackEvent, transactionID string, userID int64) *models.OfferCallback {
	data := map[string]interface{}{
		"transaction_id":  transactionID,
		"offer_name":      event.OfferName,
		"revenue":         event.Revenue,
		"currency_reward": event.CurrencyReward,
		"ip_address":      event.IP,
		"hash":            event.Hash,
	}
	for k, v := range event.Raw {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}

	callback := &models.OfferCallback{
		Provider:        event.Provider,
		TransactionID:   transactionID,
		UserID:          &userID,
		ExternalOfferID: event.OfferID,
		ExternalUserID:  event.UserID,
		Status:          models.UserOfferStatusCompleted,
		CallbackData:    data,
	}
	if reward, err := decimal.NewFromString(strings.TrimSpace(event.CurrencyReward)); err == nil {
		callback.RewardAmount = decimal.NewNullDecimal(reward.Round(2))
	}
	return callback
}
