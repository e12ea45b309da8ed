package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offerwall/internal/datastore"
	"offerwall/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/samber/do"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ServiceLedger is the only writer of a user's balance, total_earned and
// tasks_completed. Callers hold the user's ledger mutex (LockUser) around every
// call; each call runs in its own transaction with the user row locked.
type ServiceLedger struct {
	container  *do.Injector
	rs         *redsync.Redsync
	postgresDB *bun.DB
	lockExpiry time.Duration
}

func NewServiceLedger(container *do.Injector) (*ServiceLedger, error) {
	rs, err := do.Invoke[*redsync.Redsync](container)
	if err != nil {
		return nil, err
	}

	postgresDB, err := do.Invoke[*bun.DB](container)
	if err != nil {
		return nil, err
	}

	policy, err := do.Invoke[Policy](container)
	if err != nil {
		return nil, err
	}

	return &ServiceLedger{container, rs, postgresDB, ledgerLockExpiry(policy)}, nil
}

// ledgerLockExpiry outlives a rail call made while the lock is held.
func ledgerLockExpiry(policy Policy) time.Duration {
	expiry := policy.RailTimeout + LEDGER_LOCK_MARGIN
	if expiry < LEDGER_LOCK_EXPIRY {
		return LEDGER_LOCK_EXPIRY
	}
	return expiry
}

// LockUser serialises ledger work for one user across processes.
func (service *ServiceLedger) LockUser(ctx context.Context, userID int64) (func(), error) {
	mutex := service.rs.NewMutex(
		LockKeyUserLedger(userID),
		redsync.WithExpiry(service.lockExpiry),
		redsync.WithTries(LEDGER_LOCK_TRIES),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerLock, err)
	}

	return func() {
		// nolint:errcheck
		mutex.Unlock()
	}, nil
}

type Credit struct {
	UserID      int64
	UserOfferID *int64
	Amount      decimal.Decimal
	Type        string
	Description string
}

// CreditCompletion appends an earning and raises balance, total_earned and,
// for task completions, tasks_completed. It runs inside the caller's
// transaction and returns the user as written.
func (service *ServiceLedger) CreditCompletion(ctx context.Context, tx bun.Tx, credit Credit) (*models.User, *models.Earning, error) {
	if !credit.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("credit amount must be positive, got %s", credit.Amount)
	}

	user, err := datastore.LockUserByID(ctx, tx, credit.UserID)
	if err != nil {
		return nil, nil, err
	}

	earning := &models.Earning{
		UserID:      credit.UserID,
		UserOfferID: credit.UserOfferID,
		Amount:      credit.Amount.Round(2),
		Type:        credit.Type,
		Description: credit.Description,
	}
	if err := datastore.InsertEarning(ctx, tx, earning); err != nil {
		return nil, nil, err
	}

	user.Balance = user.Balance.Add(earning.Amount).Round(2)
	user.TotalEarned = user.TotalEarned.Add(earning.Amount).Round(2)
	if credit.Type == models.EarningTypeTaskCompletion {
		user.TasksCompleted++
	}

	if err := datastore.SetUserLedger(ctx, tx, user.ID, user.Balance, user.TotalEarned, user.TasksCompleted); err != nil {
		return nil, nil, err
	}

	return user, earning, nil
}

// ReservePayout moves a pending payout to processing with the rail's ids and
// debits the gross amount.
func (service *ServiceLedger) ReservePayout(ctx context.Context, payoutID int64, batchID string, itemID string) (*models.Payout, error) {
	if batchID == "" {
		return nil, fmt.Errorf("payout %d: reserve without batch id", payoutID)
	}

	var payout *models.Payout
	err := service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		payout, err = datastore.LockPayoutByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusPending {
			return fmt.Errorf("%w: payout %d is %s", ErrPayoutState, payoutID, payout.Status)
		}

		user, err := datastore.LockUserByID(ctx, tx, payout.UserID)
		if err != nil {
			return err
		}
		if user.Balance.LessThan(payout.Amount) {
			return ErrInsufficientBalance
		}

		payout.Status = models.PayoutStatusProcessing
		payout.BatchID = &batchID
		if itemID != "" {
			payout.ItemID = &itemID
		}
		ok, err := datastore.TransitionPayout(ctx, tx, payout, models.PayoutStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payout %d changed concurrently", ErrPayoutState, payoutID)
		}

		balance := user.Balance.Sub(payout.Amount).Round(2)
		return datastore.SetUserLedger(ctx, tx, user.ID, balance, user.TotalEarned, user.TasksCompleted)
	})
	if err != nil {
		return nil, err
	}

	PayoutTransitions.WithLabelValues(models.PayoutStatusProcessing).Inc()
	return payout, nil
}

// ConfirmPayout finalises a processing payout. The balance was already
// debited on reserve.
func (service *ServiceLedger) ConfirmPayout(ctx context.Context, payoutID int64) (*models.Payout, error) {
	var payout *models.Payout
	err := service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		payout, err = datastore.LockPayoutByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusProcessing {
			return fmt.Errorf("%w: payout %d is %s", ErrPayoutState, payoutID, payout.Status)
		}

		now := time.Now().UTC()
		payout.Status = models.PayoutStatusCompleted
		payout.ProcessedAt = &now
		ok, err := datastore.TransitionPayout(ctx, tx, payout, models.PayoutStatusProcessing)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payout %d changed concurrently", ErrPayoutState, payoutID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	PayoutTransitions.WithLabelValues(models.PayoutStatusCompleted).Inc()
	return payout, nil
}

// ReleasePayout fails a processing payout and credits the gross amount back.
func (service *ServiceLedger) ReleasePayout(ctx context.Context, payoutID int64, reason string) (*models.Payout, error) {
	var payout *models.Payout
	err := service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		payout, err = datastore.LockPayoutByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusProcessing {
			return fmt.Errorf("%w: payout %d is %s", ErrPayoutState, payoutID, payout.Status)
		}

		user, err := datastore.LockUserByID(ctx, tx, payout.UserID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		payout.Status = models.PayoutStatusFailed
		payout.Notes = reason
		payout.ProcessedAt = &now
		ok, err := datastore.TransitionPayout(ctx, tx, payout, models.PayoutStatusProcessing)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payout %d changed concurrently", ErrPayoutState, payoutID)
		}

		balance := user.Balance.Add(payout.Amount).Round(2)
		return datastore.SetUserLedger(ctx, tx, user.ID, balance, user.TotalEarned, user.TasksCompleted)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("payout released",
		zap.Int64("payout_id", payout.ID),
		zap.Int64("user_id", payout.UserID),
		zap.String("amount", payout.Amount.StringFixed(2)),
		zap.String("reason", reason))
	PayoutTransitions.WithLabelValues(models.PayoutStatusFailed).Inc()
	return payout, nil
}

// FailPayout fails a payout that never reached the rail. No balance change.
func (service *ServiceLedger) FailPayout(ctx context.Context, payoutID int64, reason string) (*models.Payout, error) {
	var payout *models.Payout
	err := service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		payout, err = datastore.LockPayoutByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusPending {
			return fmt.Errorf("%w: payout %d is %s", ErrPayoutState, payoutID, payout.Status)
		}

		now := time.Now().UTC()
		payout.Status = models.PayoutStatusFailed
		payout.Notes = reason
		payout.ProcessedAt = &now
		ok, err := datastore.TransitionPayout(ctx, tx, payout, models.PayoutStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payout %d changed concurrently", ErrPayoutState, payoutID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	PayoutTransitions.WithLabelValues(models.PayoutStatusFailed).Inc()
	return payout, nil
}

// LedgerSnapshot is what the ledger looks like for one user at one moment.
type LedgerSnapshot struct {
	UserID         int64           `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TasksCompleted int             `json:"tasks_completed"`
	EarningsTotal  decimal.Decimal `json:"earnings_total"`
	PaidOut        decimal.Decimal `json:"paid_out"`
	Problems       []string        `json:"problems"`
}

func (s *LedgerSnapshot) Consistent() bool {
	return len(s.Problems) == 0
}

// CheckInvariants reads the user's ledger in one transaction and reports
// every broken invariant.
func (service *ServiceLedger) CheckInvariants(ctx context.Context, userID int64) (*LedgerSnapshot, error) {
	snapshot := &LedgerSnapshot{UserID: userID}
	err := service.postgresDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := datastore.FindUserByID(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{Resource: "user", ID: fmt.Sprint(userID)}
			}
			return err
		}
		snapshot.Balance = user.Balance.Round(2)
		snapshot.TotalEarned = user.TotalEarned.Round(2)
		snapshot.TasksCompleted = user.TasksCompleted

		snapshot.EarningsTotal, err = datastore.SumEarningsByUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		snapshot.PaidOut, err = datastore.SumPayoutsByUser(ctx, tx, userID, models.PayoutStatusProcessing, models.PayoutStatusCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !snapshot.EarningsTotal.Equal(snapshot.TotalEarned) {
		snapshot.Problems = append(snapshot.Problems, fmt.Sprintf("earnings sum %s != total_earned %s", snapshot.EarningsTotal.StringFixed(2), snapshot.TotalEarned.StringFixed(2)))
	}
	expected := snapshot.TotalEarned.Sub(snapshot.PaidOut)
	if !expected.Equal(snapshot.Balance) {
		snapshot.Problems = append(snapshot.Problems, fmt.Sprintf("balance %s != total_earned - paid_out %s", snapshot.Balance.StringFixed(2), expected.StringFixed(2)))
	}
	if snapshot.Balance.IsNegative() {
		snapshot.Problems = append(snapshot.Problems, "negative balance")
	}
	if snapshot.Balance.GreaterThan(snapshot.TotalEarned) {
		snapshot.Problems = append(snapshot.Problems, "balance exceeds total_earned")
	}

	return snapshot, nil
}
