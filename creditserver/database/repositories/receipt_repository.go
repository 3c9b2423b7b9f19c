package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/uptrace/bun"
)

var ErrReceiptExists = errors.New("receipt already credited")

type ReceiptRepository interface {
	// RecordAndCredit inserts the receipt and applies the matching balance
	// credit in one transaction, so a crash can never leave a recorded
	// receipt without its credit. ErrReceiptExists when the platform
	// transaction id has been credited before; nothing is written then.
	RecordAndCredit(ctx context.Context, receipt *models.Receipt, txn *models.Transaction) (int64, error)
	GetByAccount(ctx context.Context, accountID string) ([]*models.Receipt, error)
	Exists(ctx context.Context, receiptID string) (bool, error)
}

type receiptRepository struct {
	db        *bun.DB
	txManager *database.LedgerTransactionManager
	retention int
}

func NewReceiptRepository(db *bun.DB) ReceiptRepository {
	return &receiptRepository{
		db:        db,
		txManager: database.NewLedgerTransactionManager(db),
		retention: config.TransactionRetention,
	}
}

func (r *receiptRepository) RecordAndCredit(ctx context.Context, receipt *models.Receipt, txn *models.Transaction) (int64, error) {
	var balance int64
	err := r.txManager.WithTransaction(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewInsert().
			Model(receipt).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to record receipt: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrReceiptExists
		}

		balance, err = creditInTx(ctx, tx, receipt.AccountID, txn.Amount, txn, r.retention)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *receiptRepository) GetByAccount(ctx context.Context, accountID string) ([]*models.Receipt, error) {
	var receipts []*models.Receipt
	err := r.db.NewSelect().
		Model(&receipts).
		Where("account_id = ?", accountID).
		Order("credited_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	return receipts, nil
}

func (r *receiptRepository) Exists(ctx context.Context, receiptID string) (bool, error) {
	return r.db.NewSelect().
		Model((*models.Receipt)(nil)).
		Where("id = ?", receiptID).
		Exists(ctx)
}
