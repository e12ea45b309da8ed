package datastore

import (
	"context"
	"time"

	"offerwall/internal/models"

	"github.com/uptrace/bun"
)

func CreateTableOfferCallback(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.OfferCallback)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.OfferCallback)(nil)).Index("index_offer_callback_provider_tx").IfNotExists().Unique().Column("provider", "transaction_id").Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.OfferCallback)(nil)).Index("index_offer_callback_user").IfNotExists().Column("user_id", "created_at").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

// RecordOfferCallback stores the callback unless the (provider, transaction_id)
// pair is already known, and returns the stored row either way.
func RecordOfferCallback(ctx context.Context, db bun.IDB, callback *models.OfferCallback) (*models.OfferCallback, error) {
	if callback.CreatedAt.IsZero() {
		callback.CreatedAt = time.Now().UTC()
	}
	_, err := db.NewInsert().Model(callback).
		On("CONFLICT (provider, transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return FindOfferCallback(ctx, db, callback.Provider, callback.TransactionID)
}

func FindOfferCallback(ctx context.Context, db bun.IDB, provider, transactionID string) (*models.OfferCallback, error) {
	var callback models.OfferCallback
	err := db.NewSelect().Model(&callback).
		Where("provider = ?", provider).
		Where("transaction_id = ?", transactionID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &callback, nil
}

func MarkOfferCallbackProcessed(ctx context.Context, tx bun.IDB, callbackID int64, processedAt time.Time) error {
	_, err := tx.NewUpdate().Model((*models.OfferCallback)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", processedAt).
		Where("id = ?", callbackID).
		Exec(ctx)
	return err
}

func CountOfferCallbacks(ctx context.Context, db bun.IDB, processed bool) (int, error) {
	return db.NewSelect().Model((*models.OfferCallback)(nil)).Where("processed = ?", processed).Count(ctx)
}
