package models

// TryHairstyleRequest selects the feature to meter and the generation input.
type TryHairstyleRequest struct {
	Feature        string `json:"feature"`
	SourceImageURL string `json:"sourceImageUrl"`
	StyleID        string `json:"styleId"`
}

// VerifyPurchaseRequest carries the opaque platform receipt.
type VerifyPurchaseRequest struct {
	ReceiptData string `json:"receiptData"`
}

// RestorePurchasesRequest carries the receipt used to replay purchase
// history.
type RestorePurchasesRequest struct {
	ReceiptData string `json:"receiptData"`
}

// RewardRequest names the completed action to credit.
type RewardRequest struct {
	Action string `json:"action"`
}

// AccountClaims is the authenticated identity extracted from the bearer
// token and stored on the request context.
type AccountClaims struct {
	AccountID string
	Anonymous bool
	Email     string
}
