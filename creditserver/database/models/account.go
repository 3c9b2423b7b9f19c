package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account holds the authoritative credit balance for a single user.
// Invariant enforced by the repository layer: Balance = TotalEarned -
// TotalSpent and Balance >= 0 at all times.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	// Opaque user id issued by the auth provider
	ID          string `bun:"id,pk"`
	Balance     int64  `bun:"balance,notnull,default:0"`
	TotalEarned int64  `bun:"total_earned,notnull,default:0"`
	TotalSpent  int64  `bun:"total_spent,notnull,default:0"`

	Anonymous bool   `bun:"anonymous,notnull,default:true"`
	Email     string `bun:"email"`

	// Zero when the account has never claimed a daily grant
	LastDailyClaim time.Time `bun:"last_daily_claim,nullzero"`

	CreatedAt   time.Time `bun:"created_at,notnull"`
	LastUpdated time.Time `bun:"last_updated,notnull"`
}
