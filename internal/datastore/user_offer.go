package datastore

import (
	"context"
	"time"

	"offerwall/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

func CreateTableUserOffer(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.UserOffer)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.UserOffer)(nil)).Index("index_user_offer_user_offer").IfNotExists().Unique().Column("user_id", "offer_id").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.UserOffer)(nil)).Index("index_user_offer_user_status").IfNotExists().Column("user_id", "status").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func FindUserOffer(ctx context.Context, db bun.IDB, userID, offerID int64) (*models.UserOffer, error) {
	var userOffer models.UserOffer
	err := db.NewSelect().Model(&userOffer).
		Where("user_id = ?", userID).
		Where("offer_id = ?", offerID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &userOffer, nil
}

// InsertUserOfferIfMissing creates a started attempt unless one already exists
// for the pair, then returns the stored row.
func InsertUserOfferIfMissing(ctx context.Context, db bun.IDB, userID, offerID int64) (*models.UserOffer, error) {
	userOffer := &models.UserOffer{
		UserID:       userID,
		OfferID:      offerID,
		Status:       models.UserOfferStatusStarted,
		ProgressData: map[string]interface{}{},
		StartedAt:    time.Now().UTC(),
	}
	_, err := db.NewInsert().Model(userOffer).
		On("CONFLICT (user_id, offer_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return FindUserOffer(ctx, db, userID, offerID)
}

// CompleteUserOffer flips a non-terminal attempt to completed with the payout
// snapshot. It reports false when the row was already terminal.
func CompleteUserOffer(ctx context.Context, tx bun.IDB, userOfferID int64, reward decimal.Decimal, progress map[string]interface{}, completedAt time.Time) (bool, error) {
	res, err := tx.NewUpdate().Model((*models.UserOffer)(nil)).
		Set("status = ?", models.UserOfferStatusCompleted).
		Set("reward_amount = ?", reward).
		Set("progress_data = ?", progress).
		Set("completed_at = ?", completedAt).
		Where("id = ?", userOfferID).
		Where("status NOT IN (?)", bun.In([]string{models.UserOfferStatusCompleted, models.UserOfferStatusFailed})).
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

func CountUserOffersByStatus(ctx context.Context, db bun.IDB, userID int64, statuses ...string) (int, error) {
	return db.NewSelect().Model((*models.UserOffer)(nil)).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(statuses)).
		Count(ctx)
}

func GetRecentUserOffers(ctx context.Context, db bun.IDB, userID int64, limit int) ([]*models.UserOffer, error) {
	var userOffers []*models.UserOffer
	err := db.NewSelect().Model(&userOffers).
		Relation("Offer").
		Where("user_offer.user_id = ?", userID).
		Order("user_offer.started_at DESC", "user_offer.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return userOffers, nil
}

func CountCompletedUserOffers(ctx context.Context, db bun.IDB) (int, error) {
	return db.NewSelect().Model((*models.UserOffer)(nil)).
		Where("status = ?", models.UserOfferStatusCompleted).
		Count(ctx)
}
