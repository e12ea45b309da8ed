package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	UserOfferStatusStarted    = "started"
	UserOfferStatusInProgress = "in_progress"
	UserOfferStatusCompleted  = "completed"
	UserOfferStatusFailed     = "failed"
)

// UserOffer is one user's attempt at an offer. RewardAmount is frozen when the
// attempt completes.
type UserOffer struct {
	bun.BaseModel `bun:"table:user_offer"`
	ID            int64                  `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64                  `bun:"user_id,notnull" json:"user_id"`
	OfferID       int64                  `bun:"offer_id,notnull" json:"offer_id"`
	Status        string                 `bun:"status,notnull" json:"status"`
	ProgressData  map[string]interface{} `bun:"progress_data,type:jsonb" json:"progress_data"`
	StartedAt     time.Time              `bun:"started_at,nullzero,notnull,default:current_timestamp" json:"started_at"`
	CompletedAt   *time.Time             `bun:"completed_at" json:"completed_at"`
	RewardAmount  decimal.NullDecimal    `bun:"reward_amount,type:decimal(14,2)" json:"reward_amount"`

	Offer *Offer `bun:"rel:belongs-to,join:offer_id=id" json:"offer,omitempty"`
}

func (uo *UserOffer) IsCompleted() bool {
	return uo.Status == UserOfferStatusCompleted
}

func (uo *UserOffer) IsTerminal() bool {
	return uo.Status == UserOfferStatusCompleted || uo.Status == UserOfferStatusFailed
}
