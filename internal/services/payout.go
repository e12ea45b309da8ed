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
	"offerwall/internal/pkg"
	"offerwall/internal/pkg/money"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

const (
	payoutTokenPrefix = "PAYOUT_"
	railTimeoutNote   = "RAIL_TIMEOUT"

	msgPendingPayout = "You have a pending payout request. Please wait for it to complete."
)

type PayoutReceipt struct {
	PayoutID    int64           `json:"payout_id"`
	Gross       decimal.Decimal `json:"gross_amount"`
	Fee         decimal.Decimal `json:"transaction_fee"`
	Net         decimal.Decimal `json:"net_amount"`
	Currency    string          `json:"currency"`
	Destination string          `json:"destination"`
	Status      string          `json:"status"`
	Message     string          `json:"message"`
}

type PayoutHistory struct {
	Payouts []*models.Payout `json:"payouts"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
}

type PayoutInfo struct {
	MinimumAmount decimal.Decimal `json:"minimum_amount"`
	MaximumAmount decimal.Decimal `json:"maximum_amount"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Destination   string          `json:"destination"`
	CanPayout     bool            `json:"can_payout"`
	OpenPayout    *models.Payout  `json:"open_payout"`
}

// ServicePayout takes a withdrawal from request to rail acceptance. The
// poller settles what the rail accepted.
type ServicePayout struct {
	container          *do.Injector
	postgresDB         *bun.DB
	readonlyPostgresDB *bun.DB
	limiter            interfaces.Limiter
	ledger             *ServiceLedger
	rail               interfaces.PayoutRail
	policy             Policy
	validate           *validator.Validate
}

func NewServicePayout(container *do.Injector) (*ServicePayout, error) {
	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	readonlyPostgresDB, err := do.InvokeNamed[*bun.DB](container, "db-readonly")
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

	rail, err := do.Invoke[interfaces.PayoutRail](container)
	if err != nil {
		return nil, err
	}

	policy, err := do.Invoke[Policy](container)
	if err != nil {
		return nil, err
	}

	return &ServicePayout{container, postgresDB, readonlyPostgresDB, limiter, ledger, rail, policy, newValidator()}, nil
}

// RequestPayout validates a withdrawal, records it as pending and submits it
// to the rail. The balance is debited only once the rail accepts.
func (service *ServicePayout) RequestPayout(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*PayoutReceipt, error) {
	err := service.limiter.Allow(ctx, LimitKeyPayoutRequest(userID), redis_rate.PerMinute(PAYOUT_REQUEST_RATE_LIMIT_PER_MINUTE))
	if err != nil {
		return nil, err
	}

	if method == "" {
		method = models.PayoutMethodPaypal
	}

	unlock, err := service.ledger.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	user, err := datastore.FindUserByID(ctx, service.postgresDB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "user", ID: fmt.Sprint(userID)}
		}
		return nil, err
	}

	// an open payout conflicts whatever the amount
	_, err = datastore.FindOpenPayoutByUser(ctx, service.postgresDB, userID)
	if err == nil {
		return nil, &ConflictError{Reason: msgPendingPayout}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err := service.validateRequest(user, amount, method).OrNil(); err != nil {
		return nil, err
	}

	fee, net := money.SplitFee(amount, service.policy.FeeRate)
	payout := &models.Payout{
		UserID:        userID,
		Amount:        amount,
		Fee:           fee,
		NetAmount:     net,
		Currency:      service.policy.Currency,
		Method:        method,
		Destination:   user.PaypalEmail,
		Status:        models.PayoutStatusPending,
		SenderBatchID: payoutTokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := datastore.InsertPayout(ctx, service.postgresDB, payout); err != nil {
		return nil, err
	}
	PayoutTransitions.WithLabelValues(models.PayoutStatusPending).Inc()

	return service.submit(ctx, payout)
}

func (service *ServicePayout) validateRequest(user *models.User, amount decimal.Decimal, method string) *ValidationError {
	problems := &ValidationError{}

	if !amount.Equal(amount.Round(money.Places)) {
		problems.Add("Amount must have at most %d decimal places", money.Places)
	}
	if amount.LessThan(service.policy.MinPayout) {
		problems.Add("Minimum payout amount is $%s", money.Format(service.policy.MinPayout))
	}
	if amount.GreaterThan(service.policy.MaxPayout) {
		problems.Add("Maximum payout amount is $%s", money.Format(service.policy.MaxPayout))
	}
	if amount.GreaterThan(user.Balance) {
		problems.Add("Insufficient balance. Available: $%s", money.Format(user.Balance))
	}
	if err := service.validate.Var(user.PaypalEmail, "required,email"); err != nil {
		problems.Add("Valid PayPal email required")
	}
	if method != models.PayoutMethodPaypal {
		problems.Add("Unsupported payout method: %s", method)
	}

	return problems
}

func payoutItemToken(payout *models.Payout) string {
	return fmt.Sprintf("ITEM_%d", payout.ID)
}

// submit hands a pending payout to the rail and records the outcome. No
// transaction is open while the rail is called.
func (service *ServicePayout) submit(ctx context.Context, payout *models.Payout) (*PayoutReceipt, error) {
	itemToken := payoutItemToken(payout)
	batch := interfaces.RailBatch{
		Token:        payout.SenderBatchID,
		EmailSubject: PAYOUT_EMAIL_SUBJECT,
		EmailMessage: PAYOUT_EMAIL_MESSAGE,
		Items: []interfaces.RailItem{{
			Destination: payout.Destination,
			Amount:      payout.NetAmount,
			Currency:    payout.Currency,
			Note:        fmt.Sprintf("Offerwall earnings payout - Request #%d", payout.ID),
			ItemToken:   itemToken,
		}},
	}

	railCtx, cancel := context.WithTimeout(ctx, service.policy.RailTimeout)
	receipt, err := service.rail.Submit(railCtx, batch)
	timedOut := errors.Is(railCtx.Err(), context.DeadlineExceeded)
	cancel()

	// the outcome is recorded even if the caller went away
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		RailErrors.WithLabelValues(service.rail.Name(), "submit").Inc()
		zap.L().Error("payout rail submission failed",
			zap.Int64("payout_id", payout.ID),
			zap.Int64("user_id", payout.UserID),
			zap.String("sender_batch_id", payout.SenderBatchID),
			zap.String("rail", service.rail.Name()),
			zap.Error(err))

		if errors.Is(err, interfaces.ErrDuplicateBatch) {
			// the rail holds this token already, only its status can settle it
			return nil, &ConflictError{Reason: "payout already submitted, awaiting reconciliation"}
		}

		note := err.Error()
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			note = railTimeoutNote + ": " + note
		}
		if _, failErr := service.ledger.FailPayout(ctx, payout.ID, note); failErr != nil {
			zap.L().Error("payout could not be marked failed",
				zap.Int64("payout_id", payout.ID),
				zap.Error(failErr))
		}
		return nil, &RailError{Op: "payout submission", Err: err}
	}

	reserved, err := service.ledger.ReservePayout(ctx, payout.ID, receipt.BatchID, receipt.ItemIDs[itemToken])
	if err != nil {
		// left pending with its token for the stale payout scan
		zap.L().Error("payout accepted by rail but not reserved",
			zap.Int64("payout_id", payout.ID),
			zap.Int64("user_id", payout.UserID),
			zap.String("sender_batch_id", payout.SenderBatchID),
			zap.String("batch_id", receipt.BatchID),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("payout accepted",
		zap.Int64("payout_id", reserved.ID),
		zap.Int64("user_id", reserved.UserID),
		zap.String("amount", money.Format(reserved.Amount)),
		zap.String("batch_id", receipt.BatchID))

	return &PayoutReceipt{
		PayoutID:    reserved.ID,
		Gross:       reserved.Amount,
		Fee:         reserved.Fee,
		Net:         reserved.NetAmount,
		Currency:    reserved.Currency,
		Destination: reserved.Destination,
		Status:      reserved.Status,
		Message:     fmt.Sprintf("Payout of $%s sent to %s", money.Format(reserved.NetAmount), reserved.Destination),
	}, nil
}

// Resubmit sends a stuck pending payout to the rail again under its original
// token, so the rail can refuse it if the first submission went through.
func (service *ServicePayout) Resubmit(ctx context.Context, payoutID int64) (*PayoutReceipt, error) {
	payout, err := datastore.FindPayoutByID(ctx, service.postgresDB, payoutID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "payout", ID: fmt.Sprint(payoutID)}
		}
		return nil, err
	}

	unlock, err := service.ledger.LockUser(ctx, payout.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// reload under the lock
	payout, err = datastore.FindPayoutByID(ctx, service.postgresDB, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutStatusPending {
		return nil, fmt.Errorf("%w: payout %d is %s", ErrPayoutState, payoutID, payout.Status)
	}

	zap.L().Info("resubmitting payout",
		zap.Int64("payout_id", payout.ID),
		zap.String("sender_batch_id", payout.SenderBatchID))
	return service.submit(ctx, payout)
}

func (service *ServicePayout) History(ctx context.Context, userID int64, page, limit int) (*PayoutHistory, error) {
	payouts, total, err := datastore.GetPayoutsByUser(ctx, service.readonlyPostgresDB, userID, limit, pkg.Offset(page, limit))
	if err != nil {
		return nil, err
	}

	return &PayoutHistory{Payouts: payouts, Total: total, Page: page, Limit: limit}, nil
}

func (service *ServicePayout) Info(ctx context.Context, userID int64) (*PayoutInfo, error) {
	user, err := datastore.FindUserByID(ctx, service.readonlyPostgresDB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Resource: "user", ID: fmt.Sprint(userID)}
		}
		return nil, err
	}

	info := &PayoutInfo{
		MinimumAmount: service.policy.MinPayout,
		MaximumAmount: service.policy.MaxPayout,
		Currency:      service.policy.Currency,
		Balance:       user.Balance,
		Destination:   user.PaypalEmail,
	}

	open, err := datastore.FindOpenPayoutByUser(ctx, service.readonlyPostgresDB, userID)
	switch {
	case err == nil:
		info.OpenPayout = open
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	info.CanPayout = info.OpenPayout == nil &&
		user.Balance.GreaterThanOrEqual(service.policy.MinPayout) &&
		service.validate.Var(user.PaypalEmail, "required,email") == nil
	return info, nil
}
