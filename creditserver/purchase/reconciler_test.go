package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/database/repositories"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/stylemirror/credits-server/creditserver/ledger/ledgertest"
)

// memReceipts mirrors the Postgres receipt repository: the receipt id is a
// primary key, and a receipt row only exists once its credit applied.
type memReceipts struct {
	mu       sync.Mutex
	store    ledger.Store
	receipts map[string]*models.Receipt
}

func newMemReceipts(store ledger.Store) *memReceipts {
	return &memReceipts{store: store, receipts: make(map[string]*models.Receipt)}
}

func (r *memReceipts) RecordAndCredit(ctx context.Context, receipt *models.Receipt, txn *models.Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.receipts[receipt.ID]; ok {
		return 0, repositories.ErrReceiptExists
	}
	balance, err := r.store.Credit(ctx, receipt.AccountID, txn.Amount, txn)
	if err != nil {
		return 0, err
	}
	copied := *receipt
	r.receipts[receipt.ID] = &copied
	return balance, nil
}

func (r *memReceipts) GetByAccount(_ context.Context, accountID string) ([]*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Receipt
	for _, receipt := range r.receipts {
		if receipt.AccountID == accountID {
			copied := *receipt
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memReceipts) Exists(_ context.Context, receiptID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.receipts[receiptID]
	return ok, nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *ledger.Service, string) {
	t.Helper()
	store := ledgertest.NewMemStore()
	svc := ledger.New(store, 5)
	if _, err := svc.EnsureAccount(context.Background(), "user-1", true, ""); err != nil {
		t.Fatalf("EnsureAccount() error = %v", err)
	}
	return NewReconciler(NewSandboxVerifier(), newMemReceipts(store), svc), svc, "user-1"
}

func TestReconciler_Reconcile(t *testing.T) {
	reconciler, svc, accountID := newTestReconciler(t)
	ctx := context.Background()

	// Drop the seeded balance to 1 so the scenario numbers are exact
	if _, err := svc.Spend(ctx, accountID, 4, "HD image export"); err != nil {
		t.Fatalf("Spend() error = %v", err)
	}

	receipt := `{"transactionId":"1000000123","productId":"credits_50"}`
	result, err := reconciler.Reconcile(ctx, accountID, receipt)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.CreditsAdded != 60 {
		t.Errorf("CreditsAdded = %d, want 60 (50 + 10 bonus)", result.CreditsAdded)
	}
	if result.TotalCredits != 61 {
		t.Errorf("TotalCredits = %d, want 61", result.TotalCredits)
	}
	if result.AlreadyCredited {
		t.Error("AlreadyCredited = true on first reconcile")
	}

	txns, _ := svc.Transactions(ctx, accountID, 1)
	if len(txns) != 1 || txns[0].Kind != models.TransactionKindEarn || txns[0].ProductID != "credits_50" {
		t.Errorf("newest transaction = %+v, want earn with productId credits_50", txns[0])
	}
}

func TestReconciler_Reconcile_Idempotent(t *testing.T) {
	reconciler, svc, accountID := newTestReconciler(t)
	ctx := context.Background()

	receipt := `{"transactionId":"1000000456","productId":"credits_10"}`
	first, err := reconciler.Reconcile(ctx, accountID, receipt)
	if err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	if first.TotalCredits != 15 {
		t.Fatalf("balance after first reconcile = %d, want 15", first.TotalCredits)
	}

	second, err := reconciler.Reconcile(ctx, accountID, receipt)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if !second.AlreadyCredited {
		t.Error("second Reconcile() AlreadyCredited = false")
	}
	if second.CreditsAdded != 0 {
		t.Errorf("second Reconcile() CreditsAdded = %d, want 0", second.CreditsAdded)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 15 {
		t.Errorf("balance after double reconcile = %d, want 15", balance)
	}
}

func TestReconciler_Reconcile_Rejected(t *testing.T) {
	reconciler, svc, accountID := newTestReconciler(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		receipt string
		wantErr error
	}{
		{name: "Malformed", receipt: "not json", wantErr: ErrReceiptRejected},
		{name: "MissingIDs", receipt: `{"productId":"credits_10"}`, wantErr: ErrReceiptRejected},
		{name: "UnknownProduct", receipt: `{"transactionId":"t1","productId":"credits_9000"}`, wantErr: ErrUnknownProduct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reconciler.Reconcile(ctx, accountID, tt.receipt); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Reconcile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 5 {
		t.Errorf("balance after rejected receipts = %d, want 5", balance)
	}
}

func TestReconciler_Restore(t *testing.T) {
	reconciler, svc, accountID := newTestReconciler(t)
	ctx := context.Background()

	// Credit one purchase up front so restore sees it as already handled
	if _, err := reconciler.Reconcile(ctx, accountID, `{"transactionId":"t1","productId":"credits_10"}`); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	receipt := `{"transactionId":"t2","productId":"credits_100","history":["t1:credits_10","t0:legacy_pack"]}`
	result, err := reconciler.Restore(ctx, accountID, receipt)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	// t2 (125 credits) is new, t1 was already credited, t0 names a product
	// no longer in the catalog
	if result.Restored != 1 {
		t.Errorf("Restored = %d, want 1", result.Restored)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
	if result.CreditsAdded != 125 {
		t.Errorf("CreditsAdded = %d, want 125", result.CreditsAdded)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 140 {
		t.Errorf("balance after restore = %d, want 140", balance)
	}
}

func TestReconciler_Restore_AllSkipped(t *testing.T) {
	reconciler, svc, accountID := newTestReconciler(t)
	ctx := context.Background()

	receipt := `{"transactionId":"t1","productId":"credits_10"}`
	if _, err := reconciler.Reconcile(ctx, accountID, receipt); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	result, err := reconciler.Restore(ctx, accountID, receipt)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.Restored != 0 || result.Skipped != 1 {
		t.Errorf("Restored = %d, Skipped = %d, want 0 and 1", result.Restored, result.Skipped)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if result.TotalCredits != balance {
		t.Errorf("TotalCredits = %d, want live balance %d", result.TotalCredits, balance)
	}
	if result.TotalCredits != 15 {
		t.Errorf("TotalCredits = %d, want 15", result.TotalCredits)
	}
}

func TestReconciler_CreditFailureLeavesNoReceipt(t *testing.T) {
	ctx := context.Background()
	store := ledgertest.NewMemStore()
	svc := ledger.New(store, 5)
	receipts := newMemReceipts(store)
	reconciler := NewReconciler(NewSandboxVerifier(), receipts, svc)

	// The account does not exist yet, so the credit half fails
	receipt := `{"transactionId":"t-retry","productId":"credits_10"}`
	if _, err := reconciler.Reconcile(ctx, "ghost", receipt); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("Reconcile() error = %v, want %v", err, ledger.ErrAccountNotFound)
	}

	// No receipt row may survive a failed credit, otherwise the retry would
	// report AlreadyCredited without ever crediting
	if exists, _ := receipts.Exists(ctx, "t-retry"); exists {
		t.Fatal("receipt recorded even though the credit failed")
	}

	if _, err := svc.EnsureAccount(ctx, "ghost", true, ""); err != nil {
		t.Fatalf("EnsureAccount() error = %v", err)
	}
	result, err := reconciler.Reconcile(ctx, "ghost", receipt)
	if err != nil {
		t.Fatalf("retry Reconcile() error = %v", err)
	}
	if result.AlreadyCredited {
		t.Error("retry reported AlreadyCredited")
	}
	if result.TotalCredits != 15 {
		t.Errorf("TotalCredits after retry = %d, want 15", result.TotalCredits)
	}
}

func TestProductByID(t *testing.T) {
	product, ok := ProductByID("credits_250")
	if !ok {
		t.Fatal("ProductByID(credits_250) not found")
	}
	if product.TotalCredits() != 325 {
		t.Errorf("TotalCredits() = %d, want 325 (250 + 75 bonus)", product.TotalCredits())
	}

	if _, ok := ProductByID("credits_9000"); ok {
		t.Error("ProductByID(credits_9000) found unknown product")
	}
}
