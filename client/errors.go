package client

import "fmt"

// Error codes returned by the credits API.
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeVerificationFailed  = "VERIFICATION_FAILED"
	CodeAlreadyClaimed      = "ALREADY_CLAIMED"
	CodeClaimInProgress     = "CLAIM_IN_PROGRESS"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	CodeRemoteUnavailable   = "REMOTE_UNAVAILABLE"
)

// ApiError is the typed error surfaced by every client call. UserMessage is
// safe to show directly; raw transport errors never reach it.
type ApiError struct {
	Code        string
	Message     string
	UserMessage string
	StatusCode  int
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the request may be retried. Authentication and
// precondition failures propagate immediately.
func (e *ApiError) Retryable() bool {
	switch e.Code {
	case CodeUnauthenticated, CodeInsufficientCredits, CodeVerificationFailed,
		CodeAlreadyClaimed, CodeClaimInProgress:
		return false
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429 {
		return false
	}
	return true
}

var userMessages = map[string]string{
	CodeUnauthenticated:     "Please sign in to continue.",
	CodeInsufficientCredits: "Not enough credits. Purchase more to continue.",
	CodeVerificationFailed:  "We couldn't verify your purchase. Please try again.",
	CodeAlreadyClaimed:      "You already claimed your daily credits today.",
	CodeClaimInProgress:     "Your daily claim is still processing.",
	CodeGenerationFailed:    "Something went wrong generating your hairstyle. You were not charged.",
	CodeRateLimited:         "Too many requests. Please wait a moment.",
	CodeRemoteUnavailable:   "Connection problem. Please check your network and try again.",
}

func newApiError(code, message string, statusCode int) *ApiError {
	userMessage, ok := userMessages[code]
	if !ok {
		userMessage = "Something went wrong. Please try again."
	}
	return &ApiError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		StatusCode:  statusCode,
	}
}
