package models

import (
	"time"
)

// APIResponse represents a standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error response
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse(data interface{}, message string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code, message string, details map[string]string) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	}
}

// CreditsData is the payload for GET /api/credits, mirroring what the mobile
// app binds to its credits state.
type CreditsData struct {
	Credits     int64     `json:"credits"`
	TotalEarned int64     `json:"totalEarned"`
	TotalSpent  int64     `json:"totalSpent"`
	LastUpdated time.Time `json:"lastUpdated"`
	UserInfo    UserInfo  `json:"userInfo"`
}

type UserInfo struct {
	Email     string    `json:"email,omitempty"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionData is one ledger entry as exposed over the API.
type TransactionData struct {
	ID          string    `json:"id"`
	Kind        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	ProductID   string    `json:"productId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TryHairstyleData is the payload for POST /api/hairstyle/try.
type TryHairstyleData struct {
	ImageURL    string `json:"imageUrl"`
	CreditsLeft int64  `json:"creditsLeft"`
}

// DailyClaimData is the payload for POST /api/credits/daily.
type DailyClaimData struct {
	Amount    int64     `json:"amount"`
	Credits   int64     `json:"credits"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// RewardData is the payload for POST /api/credits/reward.
type RewardData struct {
	Action  string `json:"action"`
	Amount  int64  `json:"amount"`
	Credits int64  `json:"credits"`
}
