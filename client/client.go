package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	webmodels "github.com/stylemirror/credits-server/backend/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	retryBackoff   = 500 * time.Millisecond
)

// Client talks to the credits API on behalf of one signed-in account. Reads
// fall back to the local mirror when the server is unreachable; mutations
// never assume success without a server response.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
	mirror     *Mirror
	retries    int
	backoff    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetry overrides the retry budget and backoff base.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		if retries > 0 {
			c.retries = retries
		}
		c.backoff = backoff
	}
}

// New builds a client for accountID authenticated by token. cacheDir holds
// the offline credits mirror; empty keeps the mirror in memory only.
func New(baseURL, token, accountID, cacheDir string, opts ...Option) (*Client, error) {
	mirror, err := NewMirror(cacheDir)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    baseURL,
		token:      token,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: defaultTimeout},
		mirror:     mirror,
		retries:    maxRetries,
		backoff:    retryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// do runs one request with bounded retry. Transport errors and 5xx responses
// retry with backoff; auth and precondition failures propagate immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		lastErr = c.doOnce(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if apiErr, ok := lastErr.(*ApiError); ok && !apiErr.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return newApiError(CodeRemoteUnavailable, err.Error(), 0)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newApiError(CodeRemoteUnavailable, err.Error(), 0)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return newApiError(CodeRemoteUnavailable, err.Error(), 0)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return newApiError(CodeRemoteUnavailable,
			fmt.Sprintf("malformed response (status %d)", resp.StatusCode), resp.StatusCode)
	}

	if !env.Success {
		code := CodeRemoteUnavailable
		message := "request failed"
		if env.Error != nil {
			code = env.Error.Code
			message = env.Error.Message
		}
		return newApiError(code, message, resp.StatusCode)
	}

	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return newApiError(CodeRemoteUnavailable, "malformed response data", resp.StatusCode)
		}
	}
	return nil
}

// Credits returns the current credits state. The server copy is fetched
// first; when the server is unreachable the last cached snapshot is returned
// and the transport error only logged.
func (c *Client) Credits(ctx context.Context) (*webmodels.CreditsData, error) {
	var data webmodels.CreditsData
	err := c.do(ctx, http.MethodGet, "/api/credits", nil, &data)
	if err == nil {
		c.mirror.Store(c.accountID, &Snapshot{Credits: data})
		return &data, nil
	}

	if apiErr, ok := err.(*ApiError); ok && apiErr.Code == CodeRemoteUnavailable {
		if cached, found := c.mirror.Load(c.accountID); found {
			slog.Warn("Serving credits from local cache",
				slog.String("account_id", c.accountID),
				slog.String("error", err.Error()))
			return &cached.Credits, nil
		}
	}
	return nil, err
}

// Refresh re-fetches the authoritative credits state into the local mirror.
// A transport failure leaves the mirror unchanged and is not surfaced.
func (c *Client) Refresh(ctx context.Context) {
	var data webmodels.CreditsData
	if err := c.do(ctx, http.MethodGet, "/api/credits", nil, &data); err != nil {
		slog.Warn("Credits refresh failed, keeping cached state",
			slog.String("account_id", c.accountID),
			slog.String("error", err.Error()))
		return
	}
	c.mirror.Store(c.accountID, &Snapshot{Credits: data})
}

// CachedCredits returns the locally mirrored state without touching the
// network.
func (c *Client) CachedCredits() (*webmodels.CreditsData, bool) {
	snapshot, ok := c.mirror.Load(c.accountID)
	if !ok {
		return nil, false
	}
	return &snapshot.Credits, true
}

// TryHairstyle requests a metered generation.
func (c *Client) TryHairstyle(ctx context.Context, feature, sourceImageURL, styleID string) (*webmodels.TryHairstyleData, error) {
	var data webmodels.TryHairstyleData
	err := c.do(ctx, http.MethodPost, "/api/hairstyle/try", &webmodels.TryHairstyleRequest{
		Feature:        feature,
		SourceImageURL: sourceImageURL,
		StyleID:        styleID,
	}, &data)
	if err != nil {
		return nil, err
	}
	c.updateCachedBalance(data.CreditsLeft)
	return &data, nil
}

// PurchaseResult reports one credited receipt.
type PurchaseResult struct {
	ProductID       string `json:"productId"`
	CreditsAdded    int64  `json:"creditsAdded"`
	TotalCredits    int64  `json:"totalCredits"`
	AlreadyCredited bool   `json:"alreadyCredited"`
}

// VerifyPurchase submits a store receipt for verification and crediting.
func (c *Client) VerifyPurchase(ctx context.Context, receiptData string) (*PurchaseResult, error) {
	var data PurchaseResult
	err := c.do(ctx, http.MethodPost, "/api/purchases/verify",
		&webmodels.VerifyPurchaseRequest{ReceiptData: receiptData}, &data)
	if err != nil {
		return nil, err
	}
	c.updateCachedBalance(data.TotalCredits)
	return &data, nil
}

// RestoreSummary reports a restore pass over the purchase history.
type RestoreSummary struct {
	Restored     int   `json:"restored"`
	Skipped      int   `json:"skipped"`
	CreditsAdded int64 `json:"creditsAdded"`
	TotalCredits int64 `json:"totalCredits"`
}

// RestorePurchases replays the purchase history.
func (c *Client) RestorePurchases(ctx context.Context, receiptData string) (*RestoreSummary, error) {
	var data RestoreSummary
	err := c.do(ctx, http.MethodPost, "/api/purchases/restore",
		&webmodels.RestorePurchasesRequest{ReceiptData: receiptData}, &data)
	if err != nil {
		return nil, err
	}
	c.updateCachedBalance(data.TotalCredits)
	return &data, nil
}

// ClaimDaily claims the daily free credits.
func (c *Client) ClaimDaily(ctx context.Context) (*webmodels.DailyClaimData, error) {
	var data webmodels.DailyClaimData
	if err := c.do(ctx, http.MethodPost, "/api/credits/daily", nil, &data); err != nil {
		return nil, err
	}
	c.updateCachedBalance(data.Credits)
	return &data, nil
}

// Reward reports a completed action and collects its credit grant.
func (c *Client) Reward(ctx context.Context, action string) (*webmodels.RewardData, error) {
	var data webmodels.RewardData
	err := c.do(ctx, http.MethodPost, "/api/credits/reward",
		&webmodels.RewardRequest{Action: action}, &data)
	if err != nil {
		return nil, err
	}
	c.updateCachedBalance(data.Credits)
	return &data, nil
}

// Transactions fetches recent ledger history, optionally filtered by query.
func (c *Client) Transactions(ctx context.Context, query string, limit int) ([]*webmodels.TransactionData, error) {
	path := fmt.Sprintf("/api/transactions?limit=%d", limit)
	if query != "" {
		path += "&q=" + url.QueryEscape(query)
	}

	var data []*webmodels.TransactionData
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	if snapshot, ok := c.mirror.Load(c.accountID); ok {
		snapshot.Transactions = data
		c.mirror.Store(c.accountID, snapshot)
	}
	return data, nil
}

// updateCachedBalance folds a fresh server-reported balance into the mirror
// so the next cached read is not stale.
func (c *Client) updateCachedBalance(balance int64) {
	snapshot, ok := c.mirror.Load(c.accountID)
	if !ok {
		return
	}
	spent := snapshot.Credits.Credits - balance
	if spent > 0 {
		snapshot.Credits.TotalSpent += spent
	} else {
		snapshot.Credits.TotalEarned += -spent
	}
	snapshot.Credits.Credits = balance
	snapshot.Credits.LastUpdated = time.Now()
	c.mirror.Store(c.accountID, snapshot)
}
