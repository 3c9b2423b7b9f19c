package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/stylemirror/credits-server/creditserver/database/models"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mock/store.go -package=mock

// Store is the authoritative persistence boundary for account balances.
// Credit and DebitIfSufficient must apply the balance change, the running
// totals, the transaction append and the log pruning atomically;
// DebitIfSufficient must be conditional on the stored balance so concurrent
// debits can never take an account negative.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account, seed *models.Transaction) error
	Credit(ctx context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error)
	DebitIfSufficient(ctx context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error)
	Transactions(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error)
	// MarkDailyClaim is a compare-and-swap on last_daily_claim; it returns
	// false when another writer already moved the timestamp past prev.
	MarkDailyClaim(ctx context.Context, accountID string, prev, now time.Time) (bool, error)
}
