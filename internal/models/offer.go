package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	OfferCategoryGeneral = "general"
)

type Offer struct {
	bun.BaseModel   `bun:"table:offer"`
	ID              int64                  `bun:"id,pk,autoincrement" json:"id"`
	Title           string                 `bun:"title,notnull" json:"title"`
	Description     string                 `bun:"description" json:"description"`
	Provider        string                 `bun:"provider,notnull" json:"provider"`
	Category        string                 `bun:"category" json:"category"`
	RewardAmount    decimal.Decimal        `bun:"reward_amount,type:decimal(14,2),notnull" json:"-"`
	UserPayout      decimal.Decimal        `bun:"user_payout,type:decimal(14,2),notnull" json:"user_payout"`
	TimeEstimate    string                 `bun:"time_estimate" json:"time_estimate"`
	Requirements    map[string]interface{} `bun:"requirements,type:jsonb" json:"requirements"`
	ExternalOfferID string                 `bun:"external_offer_id,notnull" json:"external_offer_id"`
	IsActive        bool                   `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt       time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time              `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ApplyRevenueShare recomputes UserPayout from RewardAmount. Every write of an
// offer goes through it so the stored payout never drifts from the reward.
func (o *Offer) ApplyRevenueShare(share decimal.Decimal) {
	o.UserPayout = o.RewardAmount.Mul(share).Round(2)
}
