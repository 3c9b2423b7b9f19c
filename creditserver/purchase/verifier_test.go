package purchase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func verifyServer(t *testing.T, response string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAppStoreVerifier_Verify_PicksNewestPurchase(t *testing.T) {
	// in_app arrives in no particular order; the entry with the greatest
	// purchase date wins
	server := verifyServer(t, `{
		"status": 0,
		"receipt": {
			"in_app": [
				{"transaction_id": "t-new", "product_id": "credits_100", "purchase_date_ms": "1700000300000"},
				{"transaction_id": "t-old", "product_id": "credits_10", "purchase_date_ms": "1700000100000"},
				{"transaction_id": "t-mid", "product_id": "credits_50", "purchase_date_ms": "1700000200000"}
			]
		}
	}`)

	verifier := NewAppStoreVerifier(server.URL, "secret")
	verified, err := verifier.Verify(context.Background(), "opaque-receipt")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if verified.TransactionID != "t-new" {
		t.Errorf("TransactionID = %q, want t-new", verified.TransactionID)
	}
	if verified.ProductID != "credits_100" {
		t.Errorf("ProductID = %q, want credits_100", verified.ProductID)
	}
}

func TestAppStoreVerifier_Verify_Rejected(t *testing.T) {
	server := verifyServer(t, `{"status": 21002}`)

	verifier := NewAppStoreVerifier(server.URL, "secret")
	if _, err := verifier.Verify(context.Background(), "opaque-receipt"); !errors.Is(err, ErrReceiptRejected) {
		t.Fatalf("Verify() error = %v, want %v", err, ErrReceiptRejected)
	}
}

func TestAppStoreVerifier_History(t *testing.T) {
	server := verifyServer(t, `{
		"status": 0,
		"receipt": {
			"in_app": [
				{"transaction_id": "t1", "product_id": "credits_10", "purchase_date_ms": "1700000100000"},
				{"transaction_id": "t2", "product_id": "credits_50", "purchase_date_ms": "1700000200000"}
			]
		}
	}`)

	verifier := NewAppStoreVerifier(server.URL, "secret")
	history, err := verifier.History(context.Background(), "opaque-receipt")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].TransactionID != "t1" || history[1].TransactionID != "t2" {
		t.Errorf("history order = %q, %q, want t1, t2", history[0].TransactionID, history[1].TransactionID)
	}
}
