package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/database/repositories"
	"github.com/stylemirror/credits-server/creditserver/ledger"
)

// Reconciler converts verified platform receipts into ledger credits exactly
// once. The receipts table, keyed by platform transaction id, is the single
// source of truth for "already credited", never client state.
type Reconciler struct {
	verifier Verifier
	receipts repositories.ReceiptRepository
	ledger   *ledger.Service
}

func NewReconciler(verifier Verifier, receipts repositories.ReceiptRepository, ledgerSvc *ledger.Service) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		receipts: receipts,
		ledger:   ledgerSvc,
	}
}

// ReconcileResult reports the outcome of crediting one receipt.
type ReconcileResult struct {
	ProductID       string `json:"productId"`
	CreditsAdded    int64  `json:"creditsAdded"`
	TotalCredits    int64  `json:"totalCredits"`
	AlreadyCredited bool   `json:"alreadyCredited"`
}

// Reconcile verifies receiptData and credits the matching product's credits
// to accountID. Reconciling the same platform transaction twice credits
// exactly once; the repeat reports AlreadyCredited with no mutation.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, receiptData string) (*ReconcileResult, error) {
	verified, err := r.verifier.Verify(ctx, receiptData)
	if err != nil {
		slog.Warn("Receipt verification failed",
			slog.String("type", "ledger"),
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return nil, err
	}

	return r.credit(ctx, accountID, verified)
}

func (r *Reconciler) credit(ctx context.Context, accountID string, verified *VerifiedReceipt) (*ReconcileResult, error) {
	product, ok := ProductByID(verified.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, verified.ProductID)
	}

	now := time.Now()
	receipt := &models.Receipt{
		ID:           verified.TransactionID,
		AccountID:    accountID,
		ProductID:    product.ID,
		Platform:     verified.Platform,
		CreditsAdded: product.TotalCredits(),
		CreditedAt:   now,
	}
	txn := &models.Transaction{
		ID:          ledger.NewTransactionID(models.TransactionKindEarn),
		AccountID:   accountID,
		Kind:        models.TransactionKindEarn,
		Amount:      product.TotalCredits(),
		Description: fmt.Sprintf("Purchased %s", product.Title),
		ProductID:   product.ID,
		CreatedAt:   now,
	}

	balance, err := r.receipts.RecordAndCredit(ctx, receipt, txn)
	if err != nil {
		if errors.Is(err, repositories.ErrReceiptExists) {
			balance, balErr := r.ledger.GetBalance(ctx, accountID)
			if balErr != nil {
				return nil, balErr
			}
			slog.Info("Receipt already credited, skipping",
				slog.String("type", "ledger"),
				slog.String("account_id", accountID),
				slog.String("receipt_id", verified.TransactionID),
			)
			return &ReconcileResult{
				ProductID:       product.ID,
				CreditsAdded:    0,
				TotalCredits:    balance,
				AlreadyCredited: true,
			}, nil
		}
		return nil, err
	}

	slog.Info("Credits earned",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int64("amount", product.TotalCredits()),
		slog.Int64("balance", balance),
		slog.String("product_id", product.ID),
	)

	return &ReconcileResult{
		ProductID:    product.ID,
		CreditsAdded: product.TotalCredits(),
		TotalCredits: balance,
	}, nil
}

// RestoreResult summarizes a restore pass over the platform purchase history.
type RestoreResult struct {
	Restored     int   `json:"restored"`
	Skipped      int   `json:"skipped"`
	CreditsAdded int64 `json:"creditsAdded"`
	TotalCredits int64 `json:"totalCredits"`
}

// Restore replays the platform purchase history for the receipt, crediting
// any purchase that has not been credited yet. Each receipt is reconciled at
// most once regardless of how often restore runs.
func (r *Reconciler) Restore(ctx context.Context, accountID, receiptData string) (*RestoreResult, error) {
	history, err := r.verifier.History(ctx, receiptData)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	for _, verified := range history {
		res, err := r.credit(ctx, accountID, verified)
		if err != nil {
			if errors.Is(err, ErrUnknownProduct) {
				// Legacy products no longer in the catalog are skipped,
				// not fatal
				result.Skipped++
				continue
			}
			return nil, err
		}
		if res.AlreadyCredited {
			result.Skipped++
		} else {
			result.Restored++
			result.CreditsAdded += res.CreditsAdded
		}
	}

	// Report the live balance even when every entry was skipped.
	balance, err := r.ledger.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	result.TotalCredits = balance

	slog.Info("Purchase restore completed",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int("restored", result.Restored),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}
