package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrReceiptRejected = errors.New("receipt rejected by verification authority")
	ErrUnknownProduct  = errors.New("receipt references an unknown product")
)

// VerifiedReceipt is the authority's view of one completed purchase. The
// platform transaction id is the dedupe key for crediting; the client never
// decides whether a receipt was already credited.
type VerifiedReceipt struct {
	TransactionID string
	ProductID     string
	Platform      string
	PurchasedAt   time.Time
}

// Verifier validates an opaque platform receipt. Implementations are chosen
// once at construction: the App Store backend in production, the sandbox
// variant for development and tests.
type Verifier interface {
	Verify(ctx context.Context, receiptData string) (*VerifiedReceipt, error)
	// History returns every purchase the platform knows for the receipt,
	// used by restore flows.
	History(ctx context.Context, receiptData string) ([]*VerifiedReceipt, error)
}

const defaultVerifyURL = "https://buy.itunes.apple.com/verifyReceipt"

// AppStoreVerifier validates receipts against Apple's verifyReceipt endpoint.
type AppStoreVerifier struct {
	client       *http.Client
	verifyURL    string
	sharedSecret string
}

func NewAppStoreVerifier(verifyURL, sharedSecret string) *AppStoreVerifier {
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &AppStoreVerifier{
		client:       &http.Client{Timeout: 15 * time.Second},
		verifyURL:    verifyURL,
		sharedSecret: sharedSecret,
	}
}

type appStoreRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password,omitempty"`
}

type appStoreInApp struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	PurchaseDate  string `json:"purchase_date_ms"`
}

func (v *AppStoreVerifier) call(ctx context.Context, receiptData string) ([]appStoreInApp, error) {
	body, err := json.Marshal(appStoreRequest{
		ReceiptData: receiptData,
		Password:    v.sharedSecret,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification authority returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Status  int `json:"status"`
		Receipt struct {
			InApp []appStoreInApp `json:"in_app"`
		} `json:"receipt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}

	// Status 0 is the only success code; everything else means the receipt
	// is invalid, expired or malformed
	if parsed.Status != 0 {
		return nil, fmt.Errorf("%w: status %d", ErrReceiptRejected, parsed.Status)
	}
	if len(parsed.Receipt.InApp) == 0 {
		return nil, fmt.Errorf("%w: no purchases in receipt", ErrReceiptRejected)
	}

	return parsed.Receipt.InApp, nil
}

func (v *AppStoreVerifier) Verify(ctx context.Context, receiptData string) (*VerifiedReceipt, error) {
	inApp, err := v.call(ctx, receiptData)
	if err != nil {
		return nil, err
	}

	// The newest purchase is the one being reconciled. Apple does not
	// guarantee in_app ordering, so pick by purchase date.
	latest := inApp[0]
	for _, entry := range inApp[1:] {
		if purchaseMillis(entry) > purchaseMillis(latest) {
			latest = entry
		}
	}
	return toVerified(latest), nil
}

func purchaseMillis(entry appStoreInApp) int64 {
	if entry.PurchaseDate == "" {
		return 0
	}
	var ms int64
	if _, err := fmt.Sscanf(entry.PurchaseDate, "%d", &ms); err != nil {
		return 0
	}
	return ms
}

func (v *AppStoreVerifier) History(ctx context.Context, receiptData string) ([]*VerifiedReceipt, error) {
	inApp, err := v.call(ctx, receiptData)
	if err != nil {
		return nil, err
	}

	receipts := make([]*VerifiedReceipt, 0, len(inApp))
	for _, entry := range inApp {
		receipts = append(receipts, toVerified(entry))
	}
	return receipts, nil
}

func toVerified(entry appStoreInApp) *VerifiedReceipt {
	purchased := time.Now()
	if ms := purchaseMillis(entry); ms > 0 {
		purchased = time.UnixMilli(ms)
	}
	return &VerifiedReceipt{
		TransactionID: entry.TransactionID,
		ProductID:     entry.ProductID,
		Platform:      "appstore",
		PurchasedAt:   purchased,
	}
}

// SandboxVerifier accepts JSON-encoded fake receipts. It stands in for the
// platform store in development builds and tests.
type SandboxVerifier struct{}

func NewSandboxVerifier() *SandboxVerifier {
	return &SandboxVerifier{}
}

type sandboxReceipt struct {
	TransactionID string `json:"transactionId"`
	ProductID     string `json:"productId"`
	// Prior purchases as "transactionId:productId" pairs, oldest first
	History []string `json:"history,omitempty"`
}

func (v *SandboxVerifier) Verify(_ context.Context, receiptData string) (*VerifiedReceipt, error) {
	var receipt sandboxReceipt
	if err := json.Unmarshal([]byte(receiptData), &receipt); err != nil {
		return nil, fmt.Errorf("%w: malformed sandbox receipt", ErrReceiptRejected)
	}
	if receipt.TransactionID == "" || receipt.ProductID == "" {
		return nil, fmt.Errorf("%w: missing transaction or product id", ErrReceiptRejected)
	}

	return &VerifiedReceipt{
		TransactionID: receipt.TransactionID,
		ProductID:     receipt.ProductID,
		Platform:      "sandbox",
		PurchasedAt:   time.Now(),
	}, nil
}

func (v *SandboxVerifier) History(_ context.Context, receiptData string) ([]*VerifiedReceipt, error) {
	var receipt sandboxReceipt
	if err := json.Unmarshal([]byte(receiptData), &receipt); err != nil {
		return nil, fmt.Errorf("%w: malformed sandbox receipt", ErrReceiptRejected)
	}

	var receipts []*VerifiedReceipt
	for _, entry := range receipt.History {
		txnID, productID, ok := strings.Cut(entry, ":")
		if !ok || txnID == "" || productID == "" {
			continue
		}
		receipts = append(receipts, &VerifiedReceipt{
			TransactionID: txnID,
			ProductID:     productID,
			Platform:      "sandbox",
			PurchasedAt:   time.Now(),
		})
	}
	if receipt.TransactionID != "" && receipt.ProductID != "" {
		receipts = append(receipts, &VerifiedReceipt{
			TransactionID: receipt.TransactionID,
			ProductID:     receipt.ProductID,
			Platform:      "sandbox",
			PurchasedAt:   time.Now(),
		})
	}
	if len(receipts) == 0 {
		return nil, fmt.Errorf("%w: empty purchase history", ErrReceiptRejected)
	}
	return receipts, nil
}
