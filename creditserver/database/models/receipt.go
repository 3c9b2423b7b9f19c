package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Receipt records a platform purchase that has already been credited. The
// primary key is the platform transaction id reported by the verification
// backend, which makes double-crediting a constraint violation rather than a
// client-side bookkeeping problem.
type Receipt struct {
	bun.BaseModel `bun:"table:receipts,alias:r"`

	// Platform transaction id (App Store transaction_id / Play order id)
	ID           string    `bun:"id,pk"`
	AccountID    string    `bun:"account_id,notnull"`
	ProductID    string    `bun:"product_id,notnull"`
	Platform     string    `bun:"platform,notnull"`
	CreditsAdded int64     `bun:"credits_added,notnull"`
	CreditedAt   time.Time `bun:"credited_at,notnull"`
}
