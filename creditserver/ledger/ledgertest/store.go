// Package ledgertest provides an in-memory ledger.Store for tests. It
// mirrors the Postgres repository's semantics: conditional debits, atomic
// totals and log pruning at the retention limit.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/ledger"
)

type MemStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	logs     map[string][]*models.Transaction
}

func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[string]*models.Account),
		logs:     make(map[string][]*models.Transaction),
	}
}

func (s *MemStore) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemStore) CreateAccount(_ context.Context, account *models.Account, seed *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return nil
	}
	copied := *account
	s.accounts[account.ID] = &copied
	if seed != nil {
		s.append(account.ID, seed)
	}
	return nil
}

func (s *MemStore) Credit(_ context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	account.Balance += amount
	account.TotalEarned += amount
	account.LastUpdated = time.Now()
	s.append(accountID, txn)
	return account.Balance, nil
}

func (s *MemStore) DebitIfSufficient(_ context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	if account.Balance < amount {
		return 0, ledger.ErrInsufficientCredits
	}
	account.Balance -= amount
	account.TotalSpent += amount
	account.LastUpdated = time.Now()
	s.append(accountID, txn)
	return account.Balance, nil
}

func (s *MemStore) Transactions(_ context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, ledger.ErrAccountNotFound
	}

	log := s.logs[accountID]
	out := make([]*models.Transaction, len(log))
	copy(out, log)
	// Newest first, matching the repository's ORDER BY
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkDailyClaim(_ context.Context, accountID string, prev, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return false, ledger.ErrAccountNotFound
	}
	if !account.LastDailyClaim.Equal(prev) {
		return false, nil
	}
	account.LastDailyClaim = now
	return true, nil
}

// append adds txn to the log and prunes to the retention limit, oldest first.
func (s *MemStore) append(accountID string, txn *models.Transaction) {
	copied := *txn
	log := append(s.logs[accountID], &copied)
	if len(log) > config.TransactionRetention {
		log = log[len(log)-config.TransactionRetention:]
	}
	s.logs[accountID] = log
}
