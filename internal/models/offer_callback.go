package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OfferCallback is the audit row of an inbound postback and its dedup key:
// (provider, transaction_id) is unique. Only Processed/ProcessedAt ever change.
type OfferCallback struct {
	bun.BaseModel   `bun:"table:offer_callback"`
	ID              int64                  `bun:"id,pk,autoincrement" json:"id"`
	Provider        string                 `bun:"provider,notnull" json:"provider"`
	TransactionID   string                 `bun:"transaction_id,notnull" json:"transaction_id"`
	UserID          *int64                 `bun:"user_id" json:"user_id"`
	ExternalOfferID string                 `bun:"external_offer_id" json:"external_offer_id"`
	ExternalUserID  string                 `bun:"external_user_id" json:"external_user_id"`
	Status          string                 `bun:"status" json:"status"`
	RewardAmount    decimal.NullDecimal    `bun:"reward_amount,type:decimal(14,2)" json:"reward_amount"`
	CallbackData    map[string]interface{} `bun:"callback_data,type:jsonb" json:"callback_data"`
	Processed       bool                   `bun:"processed,notnull,default:false" json:"processed"`
	ProcessedAt     *time.Time             `bun:"processed_at" json:"processed_at"`
	CreatedAt       time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}
