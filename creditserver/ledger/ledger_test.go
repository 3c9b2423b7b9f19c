package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/stylemirror/credits-server/creditserver/ledger/ledgertest"
	"github.com/stylemirror/credits-server/creditserver/ledger/mock"
)

func newSeededService(t *testing.T) (*ledger.Service, *ledgertest.MemStore, string) {
	t.Helper()
	store := ledgertest.NewMemStore()
	svc := ledger.New(store, 5)

	account, err := svc.EnsureAccount(context.Background(), "user-1", true, "")
	if err != nil {
		t.Fatalf("EnsureAccount() error = %v", err)
	}
	if account.Balance != 5 {
		t.Fatalf("EnsureAccount() balance = %d, want 5", account.Balance)
	}
	return svc, store, "user-1"
}

func TestService_EnsureAccount_Seeds(t *testing.T) {
	svc, _, accountID := newSeededService(t)
	ctx := context.Background()

	account, err := svc.Account(ctx, accountID)
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if account.TotalEarned != 5 || account.TotalSpent != 0 {
		t.Errorf("seeded totals = earned %d spent %d, want 5/0", account.TotalEarned, account.TotalSpent)
	}

	txns, err := svc.Transactions(ctx, accountID, 0)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("seed log length = %d, want 1", len(txns))
	}
	if txns[0].Kind != models.TransactionKindEarn || txns[0].Amount != 5 {
		t.Errorf("seed transaction = %s/%d, want earn/5", txns[0].Kind, txns[0].Amount)
	}
}

func TestService_EnsureAccount_Idempotent(t *testing.T) {
	svc, _, accountID := newSeededService(t)
	ctx := context.Background()

	account, err := svc.EnsureAccount(ctx, accountID, true, "")
	if err != nil {
		t.Fatalf("second EnsureAccount() error = %v", err)
	}
	if account.Balance != 5 {
		t.Errorf("second EnsureAccount() balance = %d, want 5", account.Balance)
	}

	txns, _ := svc.Transactions(ctx, accountID, 0)
	if len(txns) != 1 {
		t.Errorf("log length after repeat ensure = %d, want 1", len(txns))
	}
}

func TestService_Spend(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{name: "Success", amount: 3, wantBalance: 2},
		{name: "ExactBalance", amount: 5, wantBalance: 0},
		{name: "Insufficient", amount: 6, wantErr: ledger.ErrInsufficientCredits},
		{name: "Zero", amount: 0, wantErr: ledger.ErrInvalidAmount},
		{name: "Negative", amount: -1, wantErr: ledger.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, accountID := newSeededService(t)
			ctx := context.Background()

			balance, err := svc.Spend(ctx, accountID, tt.amount, "Basic hairstyle try-on")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Spend() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				// Failure must not mutate state
				account, _ := svc.Account(ctx, accountID)
				if account.Balance != 5 || account.TotalSpent != 0 {
					t.Errorf("state mutated on failed spend: balance %d spent %d", account.Balance, account.TotalSpent)
				}
				return
			}
			if balance != tt.wantBalance {
				t.Errorf("Spend() balance = %d, want %d", balance, tt.wantBalance)
			}
		})
	}
}

func TestService_SpendEarnSymmetry(t *testing.T) {
	svc, _, accountID := newSeededService(t)
	ctx := context.Background()

	if _, err := svc.Spend(ctx, accountID, 4, "HD image export"); err != nil {
		t.Fatalf("Spend() error = %v", err)
	}
	balance, err := svc.Earn(ctx, accountID, 4, "Refund: HD image export", "")
	if err != nil {
		t.Fatalf("Earn() error = %v", err)
	}
	if balance != 5 {
		t.Errorf("balance after spend+earn = %d, want 5", balance)
	}

	account, _ := svc.Account(ctx, accountID)
	if account.Balance != account.TotalEarned-account.TotalSpent {
		t.Errorf("invariant broken: balance %d, earned %d, spent %d",
			account.Balance, account.TotalEarned, account.TotalSpent)
	}

	txns, _ := svc.Transactions(ctx, accountID, 0)
	if len(txns) != 3 {
		t.Fatalf("log length = %d, want 3", len(txns))
	}
	// Newest first: earn, then spend, then seed
	if txns[0].Kind != models.TransactionKindEarn || txns[1].Kind != models.TransactionKindSpend {
		t.Errorf("log order = %s,%s, want earn,spend", txns[0].Kind, txns[1].Kind)
	}
}

func TestService_TransactionRetention(t *testing.T) {
	svc, _, accountID := newSeededService(t)
	ctx := context.Background()

	// Seed entry plus enough earns to overflow the log
	for i := 0; i < config.TransactionRetention; i++ {
		if _, err := svc.Earn(ctx, accountID, 1, "Watched an ad", ""); err != nil {
			t.Fatalf("Earn() error = %v", err)
		}
	}

	txns, err := svc.Transactions(ctx, accountID, 0)
	if err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	if len(txns) != config.TransactionRetention {
		t.Fatalf("log length = %d, want %d", len(txns), config.TransactionRetention)
	}
	// The seed entry was the oldest; overflow must have evicted it
	for _, txn := range txns {
		if txn.Description == "Welcome credits" {
			t.Error("oldest entry still present after overflow")
		}
	}
}

func TestService_Spend_ConcurrentDoubleSpend(t *testing.T) {
	svc, _, accountID := newSeededService(t)
	ctx := context.Background()

	// The seeded balance of 5 affords exactly one of these spends
	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Spend(ctx, accountID, 5, "Premium hairstyle try-on")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientCredits):
			insufficient++
		default:
			t.Errorf("Spend() unexpected error = %v", err)
		}
	}
	if succeeded != 1 || insufficient != attempts-1 {
		t.Errorf("succeeded = %d, insufficient = %d, want 1 and %d", succeeded, insufficient, attempts-1)
	}

	account, _ := svc.Account(ctx, accountID)
	if account.Balance != 0 {
		t.Errorf("balance after racing spends = %d, want 0", account.Balance)
	}
	if account.Balance != account.TotalEarned-account.TotalSpent {
		t.Errorf("invariant broken: balance %d, earned %d, spent %d",
			account.Balance, account.TotalEarned, account.TotalSpent)
	}
}

func TestService_Spend_NoCreditOnInsufficient(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock.NewMockStore(ctrl)

	store.EXPECT().
		DebitIfSufficient(gomock.Any(), "user-1", int64(10), gomock.Any()).
		Return(int64(0), ledger.ErrInsufficientCredits)

	svc := ledger.New(store, 5)
	_, err := svc.Spend(context.Background(), "user-1", 10, "Premium hairstyle try-on")
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("Spend() error = %v, want ErrInsufficientCredits", err)
	}
}

func TestNewTransactionID_Prefix(t *testing.T) {
	id := ledger.NewTransactionID(models.TransactionKindSpend)
	if len(id) < 7 || id[:6] != "spend_" {
		t.Errorf("NewTransactionID() = %q, want spend_ prefix", id)
	}

	if id2 := ledger.NewTransactionID(models.TransactionKindSpend); id2 == id {
		t.Errorf("consecutive ids collide: %q", id)
	}
}
