package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"

	PayoutMethodPaypal = "paypal"
)

// Payout moves pending -> processing -> completed|failed, or pending -> failed.
// The user's balance is debited on entering processing and credited back when
// a processing payout fails.
type Payout struct {
	bun.BaseModel `bun:"table:payout"`
	ID            int64           `bun:"id,pk,autoincrement" json:"id"`
	UserID        int64           `bun:"user_id,notnull" json:"user_id"`
	Amount        decimal.Decimal `bun:"amount,type:decimal(14,2),notnull" json:"amount"`
	Fee           decimal.Decimal `bun:"fee,type:decimal(14,2),notnull" json:"-"`
	NetAmount     decimal.Decimal `bun:"net_amount,type:decimal(14,2),notnull" json:"net_amount"`
	Currency      string          `bun:"currency,notnull" json:"currency"`
	Method        string          `bun:"method,notnull" json:"method"`
	Destination   string          `bun:"destination,notnull" json:"destination"`
	Status        string          `bun:"status,notnull" json:"status"`
	SenderBatchID string          `bun:"sender_batch_id,notnull,unique" json:"-"`
	BatchID       *string         `bun:"batch_id" json:"-"`
	ItemID        *string         `bun:"item_id" json:"-"`
	Notes         string          `bun:"notes" json:"-"`
	RequestedAt   time.Time       `bun:"requested_at,nullzero,notnull,default:current_timestamp" json:"requested_at"`
	ProcessedAt   *time.Time      `bun:"processed_at" json:"processed_at"`
	CheckedAt     *time.Time      `bun:"checked_at" json:"-"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

func (p *Payout) IsOpen() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusProcessing
}
