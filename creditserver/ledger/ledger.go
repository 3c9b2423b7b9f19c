package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database/models"
)

// Service owns every balance mutation. Mutations for one account are
// serialized through a per-account mutex on top of the store's conditional
// updates, so a double-tap spending twice can never over-debit.
type Service struct {
	store           Store
	startingBalance int64
	accountLocks    sync.Map // accountID -> *sync.Mutex
}

func New(store Store, startingBalance int64) *Service {
	if startingBalance <= 0 {
		startingBalance = config.StartingBalance
	}
	return &Service{
		store:           store,
		startingBalance: startingBalance,
	}
}

func (s *Service) lock(accountID string) *sync.Mutex {
	mu, _ := s.accountLocks.LoadOrStore(accountID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// NewTransactionID builds a ledger transaction id from a kind prefix, a
// snowflake for the time component and a random suffix as a same-millisecond
// tiebreaker.
func NewTransactionID(kind models.TransactionKind) string {
	return fmt.Sprintf("%s_%s_%04d", kind, snowflake.New(time.Now()), rand.Intn(10000))
}

// EnsureAccount returns the account for accountID, creating and seeding it
// with the starting balance on first sight.
func (s *Service) EnsureAccount(ctx context.Context, accountID string, anonymous bool, email string) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the lock, another request may have won the race
	if account, err = s.store.GetAccount(ctx, accountID); err == nil {
		return account, nil
	}

	now := time.Now()
	account = &models.Account{
		ID:          accountID,
		Balance:     s.startingBalance,
		TotalEarned: s.startingBalance,
		TotalSpent:  0,
		Anonymous:   anonymous,
		Email:       email,
		CreatedAt:   now,
		LastUpdated: now,
	}
	seed := &models.Transaction{
		ID:          NewTransactionID(models.TransactionKindEarn),
		AccountID:   accountID,
		Kind:        models.TransactionKindEarn,
		Amount:      s.startingBalance,
		Description: "Welcome credits",
		CreatedAt:   now,
	}

	if err := s.store.CreateAccount(ctx, account, seed); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("Account created",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int64("starting_balance", s.startingBalance),
		slog.Bool("anonymous", anonymous),
	)

	return account, nil
}

// Account returns the current authoritative state for accountID.
func (s *Service) Account(ctx context.Context, accountID string) (*models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// GetBalance returns the current balance without side effects.
func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// CanAfford reports whether accountID holds at least cost credits.
func (s *Service) CanAfford(ctx context.Context, accountID string, cost int64) (bool, error) {
	balance, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// Spend debits amount from the account. Insufficient balance returns
// ErrInsufficientCredits with no mutation.
func (s *Service) Spend(ctx context.Context, accountID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	txn := &models.Transaction{
		ID:          NewTransactionID(models.TransactionKindSpend),
		AccountID:   accountID,
		Kind:        models.TransactionKindSpend,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now(),
	}

	balance, err := s.store.DebitIfSufficient(ctx, accountID, amount, txn)
	if err != nil {
		if !errors.Is(err, ErrInsufficientCredits) {
			slog.Error("Spend failed",
				slog.String("type", "ledger"),
				slog.String("account_id", accountID),
				slog.Int64("amount", amount),
				slog.Any("error", err),
			)
		}
		return 0, err
	}

	slog.Info("Credits spent",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
		slog.String("description", description),
	)

	return balance, nil
}

// Earn credits amount to the account. productID is set for
// purchase-originated earns and empty otherwise.
func (s *Service) Earn(ctx context.Context, accountID string, amount int64, description, productID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	txn := &models.Transaction{
		ID:          NewTransactionID(models.TransactionKindEarn),
		AccountID:   accountID,
		Kind:        models.TransactionKindEarn,
		Amount:      amount,
		Description: description,
		ProductID:   productID,
		CreatedAt:   time.Now(),
	}

	balance, err := s.store.Credit(ctx, accountID, amount, txn)
	if err != nil {
		slog.Error("Earn failed",
			slog.String("type", "ledger"),
			slog.String("account_id", accountID),
			slog.Int64("amount", amount),
			slog.Any("error", err),
		)
		return 0, err
	}

	slog.Info("Credits earned",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
		slog.String("description", description),
	)

	return balance, nil
}

// Transactions returns the most recent ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > config.TransactionRetention {
		limit = config.TransactionRetention
	}
	return s.store.Transactions(ctx, accountID, limit)
}

// MarkDailyClaim exposes the store's compare-and-swap for the grants engine.
func (s *Service) MarkDailyClaim(ctx context.Context, accountID string, prev, now time.Time) (bool, error) {
	return s.store.MarkDailyClaim(ctx, accountID, prev, now)
}
