package datastore

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateTables creates every table and index the platform needs. It is safe to
// run repeatedly.
func CreateTables(ctx context.Context, db bun.IDB) error {
	for _, create := range []func(context.Context, bun.IDB) error{
		CreateTableConfig,
		CreateTableUser,
		CreateTableOffer,
		CreateTableUserOffer,
		CreateTableEarning,
		CreateTablePayout,
		CreateTableOfferCallback,
	} {
		if err := create(ctx, db); err != nil {
			return err
		}
	}

	return nil
}
