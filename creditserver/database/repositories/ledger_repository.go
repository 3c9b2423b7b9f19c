package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/uptrace/bun"
)

// ledgerRepository implements ledger.Store over Postgres. All mutations run
// inside a transaction and the debit path is conditional on the stored
// balance, so the database stays the arbiter of sufficiency no matter how
// many server instances are running.
type ledgerRepository struct {
	db        *bun.DB
	txManager *database.LedgerTransactionManager
	retention int
}

func NewLedgerRepository(db *bun.DB) ledger.Store {
	return &ledgerRepository{
		db:        db,
		txManager: database.NewLedgerTransactionManager(db),
		retention: config.TransactionRetention,
	}
}

func (r *ledgerRepository) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("id = ?", accountID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Debug("Account not found in database",
				slog.String("type", "db"),
				slog.String("account_id", accountID))
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (r *ledgerRepository) CreateAccount(ctx context.Context, account *models.Account, seed *models.Transaction) error {
	return r.txManager.WithTransaction(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewInsert().
			Model(account).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			// Another request created the account first; nothing to seed
			return nil
		}

		if seed != nil {
			if _, err := tx.NewInsert().Model(seed).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ledgerRepository) Credit(ctx context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error) {
	var balance int64
	err := r.txManager.WithTransaction(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		balance, err = creditInTx(ctx, tx, accountID, amount, txn, r.retention)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// creditInTx applies a balance credit and the ledger append inside an already
// open transaction. Shared with the receipt repository so a purchase's
// receipt row and its credit commit or roll back together.
func creditInTx(ctx context.Context, tx bun.Tx, accountID string, amount int64, txn *models.Transaction, retention int) (int64, error) {
	var balance int64
	err := tx.NewUpdate().
		Model((*models.Account)(nil)).
		Set("balance = balance + ?", amount).
		Set("total_earned = total_earned + ?", amount).
		Set("last_updated = ?", txn.CreatedAt).
		Where("id = ?", accountID).
		Returning("balance").
		Scan(ctx, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ledger.ErrAccountNotFound
		}
		return 0, err
	}

	if err := appendTransactionTx(ctx, tx, txn, retention); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *ledgerRepository) DebitIfSufficient(ctx context.Context, accountID string, amount int64, txn *models.Transaction) (int64, error) {
	var balance int64
	err := r.txManager.WithTransaction(ctx, database.SerializableTransactionOptions(), func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewUpdate().
			Model((*models.Account)(nil)).
			Set("balance = balance - ?", amount).
			Set("total_spent = total_spent + ?", amount).
			Set("last_updated = ?", txn.CreatedAt).
			Where("id = ? AND balance >= ?", accountID, amount).
			Returning("balance").
			Scan(ctx, &balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Distinguish a missing account from an unaffordable debit
				exists, existsErr := tx.NewSelect().
					Model((*models.Account)(nil)).
					Where("id = ?", accountID).
					Exists(ctx)
				if existsErr != nil {
					return existsErr
				}
				if !exists {
					return ledger.ErrAccountNotFound
				}
				return ledger.ErrInsufficientCredits
			}
			return err
		}

		return appendTransactionTx(ctx, tx, txn, r.retention)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// appendTransactionTx inserts the ledger entry and prunes the log to the most
// recent entries, oldest evicted first.
func appendTransactionTx(ctx context.Context, tx bun.Tx, txn *models.Transaction, retention int) error {
	if _, err := tx.NewInsert().Model(txn).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	_, err := tx.NewDelete().
		Model((*models.Transaction)(nil)).
		Where("account_id = ?", txn.AccountID).
		Where("id NOT IN (SELECT id FROM transactions WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ?)",
			txn.AccountID, retention).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune transaction log: %w", err)
	}
	return nil
}

func (r *ledgerRepository) Transactions(ctx context.Context, accountID string, limit int) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	err := r.db.NewSelect().
		Model(&transactions).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return transactions, nil
}

func (r *ledgerRepository) MarkDailyClaim(ctx context.Context, accountID string, prev, next time.Time) (bool, error) {
	query := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("last_updated = ?", time.Now()).
		Where("id = ?", accountID)

	// A zero next releases the claim date, used when the grant credit after
	// a successful swap could not be applied
	if next.IsZero() {
		query = query.Set("last_daily_claim = NULL")
	} else {
		query = query.Set("last_daily_claim = ?", next)
	}

	if prev.IsZero() {
		query = query.Where("last_daily_claim IS NULL")
	} else {
		query = query.Where("last_daily_claim = ?", prev)
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark daily claim: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}
