package datastore

import (
	"context"
	"time"

	"offerwall/internal/models"

	"github.com/uptrace/bun"
)

func CreateTableOffer(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.Offer)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Offer)(nil)).Index("index_offer_provider_external_id").IfNotExists().Unique().Column("provider", "external_offer_id").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.Offer)(nil)).Index("index_offer_active_payout").IfNotExists().Column("is_active", "user_payout").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

func FindOfferByID(ctx context.Context, db bun.IDB, offerID int64) (*models.Offer, error) {
	var offer models.Offer
	err := db.NewSelect().Model(&offer).Where("id = ?", offerID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func FindOfferByExternalID(ctx context.Context, db bun.IDB, provider, externalOfferID string) (*models.Offer, error) {
	var offer models.Offer
	err := db.NewSelect().Model(&offer).
		Where("provider = ?", provider).
		Where("external_offer_id = ?", externalOfferID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

type OfferFilter struct {
	Provider string
	Category string
	Limit    int
	Offset   int
}

func GetActiveOffers(ctx context.Context, db bun.IDB, filter OfferFilter) ([]*models.Offer, error) {
	var offers []*models.Offer
	q := db.NewSelect().Model(&offers).Where("is_active = ?", true)
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}

	err := q.Order("user_payout DESC", "id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}

	return offers, nil
}

// UpsertOffer inserts or refreshes an offer keyed by (provider, external_offer_id).
// The caller must have applied the revenue share already.
func UpsertOffer(ctx context.Context, db bun.IDB, offer *models.Offer) error {
	now := time.Now().UTC()
	offer.CreatedAt = now
	offer.UpdatedAt = now
	_, err := db.NewInsert().Model(offer).
		On("CONFLICT (provider, external_offer_id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("category = EXCLUDED.category").
		Set("reward_amount = EXCLUDED.reward_amount").
		Set("user_payout = EXCLUDED.user_payout").
		Set("time_estimate = EXCLUDED.time_estimate").
		Set("requirements = EXCLUDED.requirements").
		Set("is_active = EXCLUDED.is_active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// DeactivateMissingOffers turns off every offer of the provider whose external
// id was not part of the latest sync.
func DeactivateMissingOffers(ctx context.Context, db bun.IDB, provider string, seenExternalIDs []string) (int64, error) {
	q := db.NewUpdate().Model((*models.Offer)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider = ?", provider).
		Where("is_active = ?", true)
	if len(seenExternalIDs) > 0 {
		q = q.Where("external_offer_id NOT IN (?)", bun.In(seenExternalIDs))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func CountActiveOffers(ctx context.Context, db bun.IDB) (int, error) {
	return db.NewSelect().Model((*models.Offer)(nil)).Where("is_active = ?", true).Count(ctx)
}
