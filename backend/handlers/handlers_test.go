package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	webmodels "github.com/stylemirror/credits-server/backend/models"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/database/repositories"
	"github.com/stylemirror/credits-server/creditserver/grants"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/stylemirror/credits-server/creditserver/ledger/ledgertest"
	"github.com/stylemirror/credits-server/creditserver/metering"
	"github.com/stylemirror/credits-server/creditserver/purchase"
	"github.com/stylemirror/credits-server/creditserver/services"
)

const testAccountID = "user-1"

// memReceipts mirrors the primary key semantics of the real repository: the
// receipt row and its credit land together or not at all.
type memReceipts struct {
	mu       sync.Mutex
	store    ledger.Store
	receipts map[string]*models.Receipt
}

func newMemReceipts(store ledger.Store) *memReceipts {
	return &memReceipts{store: store, receipts: make(map[string]*models.Receipt)}
}

func (m *memReceipts) RecordAndCredit(ctx context.Context, receipt *models.Receipt, txn *models.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[receipt.ID]; ok {
		return 0, repositories.ErrReceiptExists
	}
	balance, err := m.store.Credit(ctx, receipt.AccountID, txn.Amount, txn)
	if err != nil {
		return 0, err
	}
	clone := *receipt
	m.receipts[receipt.ID] = &clone
	return balance, nil
}

func (m *memReceipts) GetByAccount(_ context.Context, accountID string) ([]*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Receipt
	for _, r := range m.receipts {
		if r.AccountID == accountID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memReceipts) Exists(_ context.Context, receiptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.receipts[receiptID]
	return ok, nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, services.GenerationRequest) (*services.GenerationResult, error) {
	return nil, services.ErrGenerationFailed
}

func newTestWebApp() *WebApp {
	store := ledgertest.NewMemStore()
	ledgerSvc := ledger.New(store, 5)
	return &WebApp{
		Ledger:     ledgerSvc,
		Grants:     grants.NewEngine(ledgerSvc, 3, time.UTC),
		Meter:      metering.NewMeter(ledgerSvc),
		Reconciler: purchase.NewReconciler(purchase.NewSandboxVerifier(), newMemReceipts(store), ledgerSvc),
		Generator:  services.NewStubGenerator(),
		Previews:   services.NewInlinePreviewStore(),
		Version:    "test",
	}
}

func newTestApp(webApp *WebApp) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("account", &webmodels.AccountClaims{AccountID: testAccountID, Anonymous: true})
		return c.Next()
	})
	app.Get("/api/credits", CreditsGet(webApp))
	app.Get("/api/transactions", Transactions(webApp))
	app.Get("/api/products", ProductsList(webApp))
	app.Post("/api/hairstyle/try", TryHairstyle(webApp))
	app.Post("/api/purchases/verify", PurchasesVerify(webApp))
	app.Post("/api/purchases/restore", PurchasesRestore(webApp))
	app.Post("/api/credits/daily", DailyClaim(webApp))
	app.Post("/api/credits/reward", Reward(webApp))
	return app
}

type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *webmodels.APIError `json:"error"`
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, *envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, &env
}

func decodeData[T any](t *testing.T, env *envelope) *T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return &out
}

func TestCreditsGet_SeedsAccount(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "GET", "/api/credits", nil)
	if status != 200 || !env.Success {
		t.Fatalf("status = %d, success = %v", status, env.Success)
	}

	data := decodeData[webmodels.CreditsData](t, env)
	if data.Credits != 5 || data.TotalEarned != 5 || data.TotalSpent != 0 {
		t.Errorf("credits = %d/%d/%d, want 5/5/0", data.Credits, data.TotalEarned, data.TotalSpent)
	}
	if !data.UserInfo.Anonymous {
		t.Error("UserInfo.Anonymous = false, want true")
	}
}

func TestTryHairstyle(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "POST", "/api/hairstyle/try",
		webmodels.TryHairstyleRequest{Feature: "basic_hairstyle", StyleID: "bob-cut"})
	if status != 200 {
		t.Fatalf("status = %d, error = %+v", status, env.Error)
	}

	data := decodeData[webmodels.TryHairstyleData](t, env)
	if data.CreditsLeft != 3 {
		t.Errorf("CreditsLeft = %d, want 3", data.CreditsLeft)
	}
	if !strings.HasPrefix(data.ImageURL, "data:image/") {
		t.Errorf("ImageURL = %q, want inline data URL", data.ImageURL)
	}
}

func TestTryHairstyle_InsufficientCredits(t *testing.T) {
	app := newTestApp(newTestWebApp())

	// First premium try-on drains the seed balance exactly
	status, _ := doRequest(t, app, "POST", "/api/hairstyle/try",
		webmodels.TryHairstyleRequest{Feature: "premium_hairstyle"})
	if status != 200 {
		t.Fatalf("first request status = %d", status)
	}

	status, env := doRequest(t, app, "POST", "/api/hairstyle/try",
		webmodels.TryHairstyleRequest{Feature: "premium_hairstyle"})
	if status != 402 {
		t.Fatalf("status = %d, want 402", status)
	}
	if env.Error == nil || env.Error.Code != "INSUFFICIENT_CREDITS" {
		t.Errorf("error = %+v, want INSUFFICIENT_CREDITS", env.Error)
	}
}

func TestTryHairstyle_UnknownFeature(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "POST", "/api/hairstyle/try",
		webmodels.TryHairstyleRequest{Feature: "mind_reading"})
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
	if env.Error == nil || env.Error.Details["feature"] != "mind_reading" {
		t.Errorf("error = %+v, want feature detail", env.Error)
	}
}

func TestTryHairstyle_RefundOnGenerationFailure(t *testing.T) {
	webApp := newTestWebApp()
	webApp.Generator = failingGenerator{}
	app := newTestApp(webApp)

	status, env := doRequest(t, app, "POST", "/api/hairstyle/try",
		webmodels.TryHairstyleRequest{Feature: "basic_hairstyle"})
	if status != 502 {
		t.Fatalf("status = %d, want 502", status)
	}
	if env.Error == nil || env.Error.Code != "GENERATION_FAILED" {
		t.Fatalf("error = %+v, want GENERATION_FAILED", env.Error)
	}

	balance, err := webApp.Ledger.GetBalance(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if balance != 5 {
		t.Errorf("balance after refund = %d, want 5", balance)
	}
}

func TestPurchasesVerify(t *testing.T) {
	app := newTestApp(newTestWebApp())

	receipt, _ := json.Marshal(map[string]string{
		"transactionId": "txn-1000",
		"productId":     "credits_50",
	})

	status, env := doRequest(t, app, "POST", "/api/purchases/verify",
		webmodels.VerifyPurchaseRequest{ReceiptData: string(receipt)})
	if status != 200 {
		t.Fatalf("status = %d, error = %+v", status, env.Error)
	}

	data := decodeData[purchase.ReconcileResult](t, env)
	if data.CreditsAdded != 60 || data.TotalCredits != 65 {
		t.Errorf("result = +%d/%d, want +60/65", data.CreditsAdded, data.TotalCredits)
	}

	// Replaying the same receipt must not credit twice
	status, env = doRequest(t, app, "POST", "/api/purchases/verify",
		webmodels.VerifyPurchaseRequest{ReceiptData: string(receipt)})
	if status != 200 {
		t.Fatalf("replay status = %d", status)
	}
	data = decodeData[purchase.ReconcileResult](t, env)
	if !data.AlreadyCredited || data.CreditsAdded != 0 {
		t.Errorf("replay result = %+v, want AlreadyCredited with no new credits", data)
	}
}

func TestPurchasesVerify_Rejected(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "POST", "/api/purchases/verify",
		webmodels.VerifyPurchaseRequest{ReceiptData: "not json"})
	if status != 422 {
		t.Fatalf("status = %d, want 422", status)
	}
	if env.Error == nil || env.Error.Code != "VERIFICATION_FAILED" {
		t.Errorf("error = %+v, want VERIFICATION_FAILED", env.Error)
	}
}

func TestDailyClaim(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "POST", "/api/credits/daily", nil)
	if status != 200 {
		t.Fatalf("status = %d, error = %+v", status, env.Error)
	}
	data := decodeData[webmodels.DailyClaimData](t, env)
	if data.Amount != 3 || data.Credits != 8 {
		t.Errorf("claim = %d/%d, want 3/8", data.Amount, data.Credits)
	}

	status, env = doRequest(t, app, "POST", "/api/credits/daily", nil)
	if status != 409 {
		t.Fatalf("second claim status = %d, want 409", status)
	}
	if env.Error == nil || env.Error.Code != "ALREADY_CLAIMED" {
		t.Errorf("error = %+v, want ALREADY_CLAIMED", env.Error)
	}
}

func TestReward(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "POST", "/api/credits/reward",
		webmodels.RewardRequest{Action: "rate_app"})
	if status != 200 {
		t.Fatalf("status = %d, error = %+v", status, env.Error)
	}
	data := decodeData[webmodels.RewardData](t, env)
	if data.Amount != 5 || data.Credits != 10 {
		t.Errorf("reward = %d/%d, want 5/10", data.Amount, data.Credits)
	}

	status, env = doRequest(t, app, "POST", "/api/credits/reward",
		webmodels.RewardRequest{Action: "free_money"})
	if status != 400 {
		t.Fatalf("unknown action status = %d, want 400", status)
	}
}

func TestTransactions_FuzzyFilter(t *testing.T) {
	webApp := newTestWebApp()
	app := newTestApp(webApp)

	ctx := context.Background()
	if _, err := webApp.Ledger.EnsureAccount(ctx, testAccountID, true, ""); err != nil {
		t.Fatalf("EnsureAccount() error = %v", err)
	}
	if _, err := webApp.Ledger.Earn(ctx, testAccountID, 2, "Reward: Shared the app", ""); err != nil {
		t.Fatalf("Earn() error = %v", err)
	}
	if _, err := webApp.Ledger.Spend(ctx, testAccountID, 2, "Basic hairstyle try-on"); err != nil {
		t.Fatalf("Spend() error = %v", err)
	}

	status, env := doRequest(t, app, "GET", "/api/transactions?q=hairstyle", nil)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	data := decodeData[[]*webmodels.TransactionData](t, env)
	if len(*data) != 1 || (*data)[0].Kind != "spend" {
		t.Fatalf("filtered = %+v, want single spend entry", *data)
	}
}

func TestTransactions_UnknownAccountIsEmpty(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "GET", "/api/transactions", nil)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	data := decodeData[[]*webmodels.TransactionData](t, env)
	if len(*data) != 0 {
		t.Errorf("transactions = %d entries, want none", len(*data))
	}
}

func TestProductsList(t *testing.T) {
	app := newTestApp(newTestWebApp())

	status, env := doRequest(t, app, "GET", "/api/products", nil)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	data := decodeData[[]purchase.Product](t, env)
	if len(*data) != 4 {
		t.Errorf("products = %d, want 4", len(*data))
	}
}

func TestUnauthenticated(t *testing.T) {
	// No claims middleware wired
	app := fiber.New()
	app.Get("/api/credits", CreditsGet(newTestWebApp()))

	status, env := doRequest(t, app, "GET", "/api/credits", nil)
	if status != 401 {
		t.Fatalf("status = %d, want 401", status)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHENTICATED" {
		t.Errorf("error = %+v, want UNAUTHENTICATED", env.Error)
	}
}
