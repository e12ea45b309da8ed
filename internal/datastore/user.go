package datastore

import (
	"context"
	"strings"
	"time"

	"offerwall/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

func CreateTableUser(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*models.User)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return err
	}

	_, err = db.NewCreateIndex().Model((*models.User)(nil)).Index("index_user_paypal_email").IfNotExists().Column("paypal_email").Exec(ctx)
	if err != nil {
		return err
	}

	return nil
}

// forUpdate adds a row lock on dialects that support it. SQLite serialises
// writers on its own.
func forUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if q.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

func FindUserByID(ctx context.Context, db bun.IDB, userID int64) (*models.User, error) {
	var user models.User
	err := db.NewSelect().Model(&user).Where("id = ?", userID).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUserByID must run inside a transaction.
func LockUserByID(ctx context.Context, tx bun.IDB, userID int64) (*models.User, error) {
	var user models.User
	err := forUpdate(tx.NewSelect().Model(&user).Where("id = ?", userID)).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// if the user is not found, return sql.ErrNoRows
func FindUserByLogin(ctx context.Context, db bun.IDB, login string) (*models.User, error) {
	var user models.User
	login = strings.ToLower(strings.TrimSpace(login))
	err := db.NewSelect().Model(&user).
		Where("username = ?", login).
		WhereOr("email = ?", login).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func CheckUserExists(ctx context.Context, db bun.IDB, username, email string) (bool, error) {
	return db.NewSelect().Model((*models.User)(nil)).
		Where("username = ?", strings.ToLower(username)).
		WhereOr("email = ?", strings.ToLower(email)).
		Exists(ctx)
}

func CreateUser(ctx context.Context, db bun.IDB, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	user.Username = strings.ToLower(user.Username)
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := db.NewInsert().Model(user).Exec(ctx)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func UpdateUserPaypalEmail(ctx context.Context, db bun.IDB, userID int64, paypalEmail string) error {
	_, err := db.NewUpdate().Model((*models.User)(nil)).
		Set("paypal_email = ?", paypalEmail).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

// SetUserLedger writes the monetary columns. It is only called by the ledger
// while the user row is locked.
func SetUserLedger(ctx context.Context, tx bun.IDB, userID int64, balance, totalEarned decimal.Decimal, tasksCompleted int) error {
	_, err := tx.NewUpdate().Model((*models.User)(nil)).
		Set("balance = ?", balance).
		Set("total_earned = ?", totalEarned).
		Set("tasks_completed = ?", tasksCompleted).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func CountUsers(ctx context.Context, db bun.IDB) (int, error) {
	count, err := db.NewSelect().Model((*models.User)(nil)).Count(ctx)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func CountActiveUsers(ctx context.Context, db bun.IDB) (int, error) {
	return db.NewSelect().Model((*models.User)(nil)).Where("is_active = ?", true).Count(ctx)
}
