package datastore

import (
	"context"
	"time"

	"offerwall/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

func CreateTableEarning(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.Earning)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Earning)(nil)).Index("index_earning_user_created").IfNotExists().Column("user_id", "created_at").Exec(ctx)
	if err != nil {
		return err
	}

	// a completion can be paid once
	_, err = db.NewCreateIndex().Model((*models.Earning)(nil)).Index("index_earning_user_offer").IfNotExists().Unique().Column("user_offer_id").Where("user_offer_id IS NOT NULL").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func InsertEarning(ctx context.Context, tx bun.IDB, earning *models.Earning) error {
	if earning.CreatedAt.IsZero() {
		earning.CreatedAt = time.Now().UTC()
	}
	_, err := tx.NewInsert().Model(earning).Exec(ctx)
	return err
}

func FindEarningByUserOffer(ctx context.Context, db bun.IDB, userOfferID int64) (*models.Earning, error) {
	var earning models.Earning
	err := db.NewSelect().Model(&earning).Where("user_offer_id = ?", userOfferID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &earning, nil
}

func GetRecentEarnings(ctx context.Context, db bun.IDB, userID int64, limit int) ([]*models.Earning, error) {
	var earnings []*models.Earning
	err := db.NewSelect().Model(&earnings).
		Where("user_id = ?", userID).
		Order("created_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return earnings, nil
}

type sumResult struct {
	Total decimal.NullDecimal `bun:"total"`
}

func SumEarningsByUser(ctx context.Context, db bun.IDB, userID int64) (decimal.Decimal, error) {
	var res sumResult
	err := db.NewSelect().Model((*models.Earning)(nil)).
		ColumnExpr("SUM(amount) AS total").
		Where("user_id = ?", userID).
		Scan(ctx, &res)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Total.Decimal.Round(2), nil
}

func SumAllEarnings(ctx context.Context, db bun.IDB) (decimal.Decimal, error) {
	var res sumResult
	err := db.NewSelect().Model((*models.Earning)(nil)).
		ColumnExpr("SUM(amount) AS total").
		Scan(ctx, &res)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Total.Decimal.Round(2), nil
}
