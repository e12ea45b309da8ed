package datastore

import (
	"context"
	"time"

	"offerwall/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

func CreateTablePayout(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.Payout)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	// at most one open payout per user
	_, err = db.NewCreateIndex().Model((*models.Payout)(nil)).Index("index_payout_user_open").IfNotExists().Unique().Column("user_id").
		Where("status IN ('pending', 'processing')").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Payout)(nil)).Index("index_payout_status_requested").IfNotExists().Column("status", "requested_at").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Payout)(nil)).Index("index_payout_status_checked").IfNotExists().Column("status", "checked_at").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Payout)(nil)).Index("index_payout_user_requested").IfNotExists().Column("user_id", "requested_at").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func InsertPayout(ctx context.Context, db bun.IDB, payout *models.Payout) error {
	now := time.Now().UTC()
	payout.RequestedAt = now
	payout.UpdatedAt = now
	_, err := db.NewInsert().Model(payout).Exec(ctx)
	return err
}

func FindPayoutByID(ctx context.Context, db bun.IDB, payoutID int64) (*models.Payout, error) {
	var payout models.Payout
	err := db.NewSelect().Model(&payout).Where("id = ?", payoutID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// LockPayoutByID must run inside a transaction.
func LockPayoutByID(ctx context.Context, tx bun.IDB, payoutID int64) (*models.Payout, error) {
	var payout models.Payout
	err := forUpdate(tx.NewSelect().Model(&payout).Where("id = ?", payoutID)).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func FindOpenPayoutByUser(ctx context.Context, db bun.IDB, userID int64) (*models.Payout, error) {
	var payout models.Payout
	err := db.NewSelect().Model(&payout).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In([]string{models.PayoutStatusPending, models.PayoutStatusProcessing})).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// TransitionPayout moves a payout from one status to another and reports
// whether the row was in the expected status.
func TransitionPayout(ctx context.Context, tx bun.IDB, payout *models.Payout, from string) (bool, error) {
	payout.UpdatedAt = time.Now().UTC()
	res, err := tx.NewUpdate().Model(payout).
		Column("status", "batch_id", "item_id", "notes", "processed_at", "updated_at").
		WherePK().
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func GetPayoutsByUser(ctx context.Context, db bun.IDB, userID int64, limit, offset int) ([]*models.Payout, int, error) {
	var payouts []*models.Payout
	count, err := db.NewSelect().Model(&payouts).
		Where("user_id = ?", userID).
		Order("requested_at DESC", "id DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	return payouts, count, nil
}

func GetRecentPayouts(ctx context.Context, db bun.IDB, limit int) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := db.NewSelect().Model(&payouts).
		Order("requested_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

// GetPayoutsSortedByID pages through payouts in id order. An empty status
// matches every payout.
func GetPayoutsSortedByID(ctx context.Context, db bun.IDB, status string, limit, offset int) ([]*models.Payout, error) {
	var payouts []*models.Payout
	q := db.NewSelect().Model(&payouts)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id ASC").Limit(limit).Offset(offset).Scan(ctx)
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

// GetPayoutsLeastRecentlyChecked lists payouts in status, never checked ones
// first, then by the time of their last check.
func GetPayoutsLeastRecentlyChecked(ctx context.Context, db bun.IDB, status string, limit int) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := db.NewSelect().Model(&payouts).
		Where("status = ?", status).
		Order("checked_at ASC NULLS FIRST", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

func MarkPayoutChecked(ctx context.Context, db bun.IDB, payoutID int64, checkedAt time.Time) error {
	_, err := db.NewUpdate().Model((*models.Payout)(nil)).
		Set("checked_at = ?", checkedAt).
		Where("id = ?", payoutID).
		Exec(ctx)
	return err
}

// GetPayoutsByStatus lists payouts oldest first. A zero olderThan disables the
// age filter.
func GetPayoutsByStatus(ctx context.Context, db bun.IDB, status string, olderThan time.Time, limit int) ([]*models.Payout, error) {
	var payouts []*models.Payout
	q := db.NewSelect().Model(&payouts).Where("status = ?", status)
	if !olderThan.IsZero() {
		q = q.Where("requested_at < ?", olderThan)
	}
	err := q.Order("requested_at ASC", "id ASC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, err
	}

	return payouts, nil
}

// SumPayoutsByUser sums gross amounts of the user's payouts in the given statuses.
func SumPayoutsByUser(ctx context.Context, db bun.IDB, userID int64, statuses ...string) (decimal.Decimal, error) {
	var res sumResult
	err := db.NewSelect().Model((*models.Payout)(nil)).
		ColumnExpr("SUM(amount) AS total").
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(statuses)).
		Scan(ctx, &res)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Total.Decimal.Round(2), nil
}

type PayoutStatusStat struct {
	Status    string              `bun:"status" json:"status"`
	Count     int                 `bun:"count" json:"count"`
	Amount    decimal.NullDecimal `bun:"amount" json:"amount"`
	Fee       decimal.NullDecimal `bun:"fee" json:"fee"`
	NetAmount decimal.NullDecimal `bun:"net_amount" json:"net_amount"`
}

func GetPayoutStatsByStatus(ctx context.Context, db bun.IDB) ([]*PayoutStatusStat, error) {
	var stats []*PayoutStatusStat
	err := db.NewSelect().Model((*models.Payout)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("SUM(amount) AS amount").
		ColumnExpr("SUM(fee) AS fee").
		ColumnExpr("SUM(net_amount) AS net_amount").
		Group("status").
		Order("status ASC").
		Scan(ctx, &stats)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
