package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	EarningTypeTaskCompletion = "task_completion"
	EarningTypeBonus          = "bonus"
	EarningTypeReferral       = "referral"
)

// Earning is append-only. Rows are never updated or deleted.
type Earning struct {
	bun.BaseModel `bun:"table:earning"`
	ID            int64           `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64           `bun:"user_id,notnull" json:"user_id"`
	UserOfferID   *int64          `bun:"user_offer_id" json:"user_offer_id"`
	Amount        decimal.Decimal `bun:"amount,type:decimal(14,2),notnull" json:"amount"`
	Type          string          `bun:"type,notnull" json:"type"`
	Description   string          `bun:"description" json:"description"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}
