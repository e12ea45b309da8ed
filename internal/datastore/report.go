package datastore

import (
	"context"

	"offerwall/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type CompletionRevenue struct {
	Completions     int                 `bun:"completions"`
	AdvertiserTotal decimal.NullDecimal `bun:"advertiser_total"`
	UserTotal       decimal.NullDecimal `bun:"user_total"`
}

// GetCompletionRevenue sums what advertisers paid for completed attempts and
// what was credited to users for them.
func GetCompletionRevenue(ctx context.Context, db bun.IDB) (*CompletionRevenue, error) {
	var res CompletionRevenue
	err := db.NewSelect().
		TableExpr("user_offer AS uo").
		Join("JOIN offer AS o ON o.id = uo.offer_id").
		ColumnExpr("COUNT(*) AS completions").
		ColumnExpr("SUM(o.reward_amount) AS advertiser_total").
		ColumnExpr("SUM(uo.reward_amount) AS user_total").
		Where("uo.status = ?", models.UserOfferStatusCompleted).
		Scan(ctx, &res)
	if err != nil {
		return nil, err
	}

	res.AdvertiserTotal.Decimal = res.AdvertiserTotal.Decimal.Round(2)
	res.UserTotal.Decimal = res.UserTotal.Decimal.Round(2)
	return &res, nil
}
