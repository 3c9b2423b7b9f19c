package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransactionKind string

const (
	TransactionKindEarn  TransactionKind = "earn"
	TransactionKindSpend TransactionKind = "spend"
)

// Transaction is one immutable entry in an account's ledger log. Only the
// most recent 100 entries per account are retained.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID          string          `bun:"id,pk"`
	AccountID   string          `bun:"account_id,notnull"`
	Kind        TransactionKind `bun:"kind,notnull"`
	Amount      int64           `bun:"amount,notnull"`
	Description string          `bun:"description,notnull"`
	// Set for purchase-originated earns
	ProductID string    `bun:"product_id,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
