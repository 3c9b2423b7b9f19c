package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/uptrace/bun"
)

// TransactionOptions configures transaction behavior
type TransactionOptions struct {
	IsolationLevel sql.IsolationLevel
	Timeout        time.Duration
}

// LedgerTransactionManager provides standardized transaction utilities for
// balance mutations
type LedgerTransactionManager struct {
	db *bun.DB
}

// NewLedgerTransactionManager creates a new transaction manager
func NewLedgerTransactionManager(db *bun.DB) *LedgerTransactionManager {
	return &LedgerTransactionManager{db: db}
}

// StandardTransactionOptions returns default transaction options
func StandardTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelReadCommitted,
		Timeout:        config.DefaultTxTimeout,
	}
}

// SerializableTransactionOptions returns serializable isolation level options
// for critical operations
func SerializableTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		IsolationLevel: sql.LevelSerializable,
		Timeout:        config.DefaultTxTimeout,
	}
}

// WithTransaction executes a function within a database transaction
func (ltm *LedgerTransactionManager) WithTransaction(ctx context.Context, opts *TransactionOptions, fn func(context.Context, bun.Tx) error) error {
	if opts == nil {
		opts = StandardTransactionOptions()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tx, err := ltm.db.BeginTx(timeoutCtx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(timeoutCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
