package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel  `bun:"table:user"`
	ID             int64           `bun:"id,pk,autoincrement" json:"id"`
	Username       string          `bun:"username,notnull,unique" json:"username"`
	Email          string          `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string          `bun:"password_hash,notnull" json:"-"`
	PaypalEmail    string          `bun:"paypal_email" json:"paypal_email"`
	Balance        decimal.Decimal `bun:"balance,type:decimal(14,2),notnull,default:0" json:"balance"`
	TotalEarned    decimal.Decimal `bun:"total_earned,type:decimal(14,2),notnull,default:0" json:"total_earned"`
	TasksCompleted int             `bun:"tasks_completed,notnull,default:0" json:"tasks_completed"`
	IsActive       bool            `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// UserFromAuth only use in middleware
type UserFromAuth struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
