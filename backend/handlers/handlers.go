package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilm/fuzzy"

	"github.com/stylemirror/credits-server/backend/config"
	webmodels "github.com/stylemirror/credits-server/backend/models"
	"github.com/stylemirror/credits-server/backend/utils"
	"github.com/stylemirror/credits-server/creditserver/database"
	"github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/grants"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/stylemirror/credits-server/creditserver/metering"
	"github.com/stylemirror/credits-server/creditserver/purchase"
	"github.com/stylemirror/credits-server/creditserver/services"
)

// WebApp represents the web application with all dependencies
type WebApp struct {
	Config     *config.WebAppConfig
	DB         *database.DB
	Ledger     *ledger.Service
	Grants     *grants.Engine
	Meter      *metering.Meter
	Reconciler *purchase.Reconciler
	Generator  services.Generator
	Previews   services.PreviewStore
	Version    string
	Commit     string
}

func creditsData(account *models.Account) *webmodels.CreditsData {
	return &webmodels.CreditsData{
		Credits:     account.Balance,
		TotalEarned: account.TotalEarned,
		TotalSpent:  account.TotalSpent,
		LastUpdated: account.LastUpdated,
		UserInfo: webmodels.UserInfo{
			Email:     account.Email,
			Anonymous: account.Anonymous,
			CreatedAt: account.CreatedAt,
		},
	}
}

// HealthCheck returns service health status
func HealthCheck(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "healthy"
		dbStatus := "connected"

		if err := webApp.DB.Ping(c.Context()); err != nil {
			status = "degraded"
			dbStatus = "disconnected"
		}

		return c.JSON(fiber.Map{
			"status":    status,
			"database":  dbStatus,
			"version":   webApp.Version,
			"commit":    webApp.Commit,
			"timestamp": time.Now(),
		})
	}
}

// CreditsGet returns the authoritative credits state for the caller,
// creating and seeding the account on first request.
func CreditsGet(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		account, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email)
		if err != nil {
			slog.Error("Failed to load credits",
				slog.String("account_id", claims.AccountID),
				slog.String("error", err.Error()))
			return utils.SendInternalServerError(c, "Failed to load credits")
		}

		return utils.SendSuccess(c, creditsData(account), "")
	}
}

// TryHairstyle meters a feature, runs the generation and returns the preview
// URL. The debit is refunded when generation or upload fails.
func TryHairstyle(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		var req webmodels.TryHairstyleRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		if req.Feature == "" {
			return utils.SendBadRequest(c, "Feature is required", nil)
		}

		// The account must exist before any debit
		if _, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email); err != nil {
			return utils.SendInternalServerError(c, "Failed to load account")
		}

		auth, err := webApp.Meter.AttemptUsage(c.Context(), claims.AccountID, metering.Feature(req.Feature))
		if err != nil {
			switch {
			case errors.Is(err, metering.ErrUnknownFeature):
				return utils.SendBadRequest(c, "Unknown feature", map[string]string{"feature": req.Feature})
			case errors.Is(err, ledger.ErrInsufficientCredits):
				return utils.SendPaymentRequired(c, "Not enough credits for this feature")
			default:
				return utils.SendInternalServerError(c, "Failed to authorize usage")
			}
		}

		result, err := webApp.Generator.Generate(c.Context(), services.GenerationRequest{
			AccountID:      claims.AccountID,
			Feature:        metering.Feature(req.Feature),
			SourceImageURL: req.SourceImageURL,
			StyleID:        req.StyleID,
		})
		if err != nil {
			if rbErr := auth.Rollback(c.Context()); rbErr != nil {
				slog.Error("Refund after failed generation did not apply",
					slog.String("account_id", claims.AccountID),
					slog.String("error", rbErr.Error()))
			}
			slog.Warn("Hairstyle generation failed",
				slog.String("account_id", claims.AccountID),
				slog.String("feature", req.Feature),
				slog.String("error", err.Error()))
			return utils.SendError(c, fiber.StatusBadGateway, "GENERATION_FAILED",
				"Hairstyle generation failed. Your credits were not charged.", nil)
		}

		imageURL, err := webApp.Previews.UploadPreview(c.Context(), claims.AccountID, result)
		if err != nil {
			if rbErr := auth.Rollback(c.Context()); rbErr != nil {
				slog.Error("Refund after failed upload did not apply",
					slog.String("account_id", claims.AccountID),
					slog.String("error", rbErr.Error()))
			}
			return utils.SendInternalServerError(c, "Failed to store preview")
		}

		auth.Commit()

		return utils.SendSuccess(c, &webmodels.TryHairstyleData{
			ImageURL:    imageURL,
			CreditsLeft: auth.Balance,
		}, "")
	}
}

// PurchasesVerify verifies a store receipt and credits the purchased pack.
func PurchasesVerify(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		var req webmodels.VerifyPurchaseRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		if req.ReceiptData == "" {
			return utils.SendBadRequest(c, "Receipt data is required", nil)
		}

		if _, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email); err != nil {
			return utils.SendInternalServerError(c, "Failed to load account")
		}

		result, err := webApp.Reconciler.Reconcile(c.Context(), claims.AccountID, req.ReceiptData)
		if err != nil {
			switch {
			case errors.Is(err, purchase.ErrReceiptRejected):
				return utils.SendError(c, fiber.StatusUnprocessableEntity, "VERIFICATION_FAILED",
					"The purchase receipt could not be verified", nil)
			case errors.Is(err, purchase.ErrUnknownProduct):
				return utils.SendBadRequest(c, "Unknown product in receipt", nil)
			default:
				return utils.SendInternalServerError(c, "Failed to process purchase")
			}
		}

		message := "Purchase credited"
		if result.AlreadyCredited {
			message = "Purchase was already credited"
		}
		return utils.SendSuccess(c, result, message)
	}
}

// PurchasesRestore replays the purchase history, crediting anything missed.
func PurchasesRestore(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		var req webmodels.RestorePurchasesRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}
		if req.ReceiptData == "" {
			return utils.SendBadRequest(c, "Receipt data is required", nil)
		}

		if _, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email); err != nil {
			return utils.SendInternalServerError(c, "Failed to load account")
		}

		result, err := webApp.Reconciler.Restore(c.Context(), claims.AccountID, req.ReceiptData)
		if err != nil {
			if errors.Is(err, purchase.ErrReceiptRejected) {
				return utils.SendError(c, fiber.StatusUnprocessableEntity, "VERIFICATION_FAILED",
					"The purchase receipt could not be verified", nil)
			}
			return utils.SendInternalServerError(c, "Failed to restore purchases")
		}

		return utils.SendSuccess(c, result, "")
	}
}

// DailyClaim grants the daily free credits once per calendar day.
func DailyClaim(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		if _, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email); err != nil {
			return utils.SendInternalServerError(c, "Failed to load account")
		}

		status, err := webApp.Grants.ClaimDaily(c.Context(), claims.AccountID)
		if err != nil {
			switch {
			case errors.Is(err, grants.ErrAlreadyClaimed):
				return utils.SendConflict(c, "ALREADY_CLAIMED", "Daily credits already claimed today")
			case errors.Is(err, grants.ErrClaimInFlight):
				return utils.SendConflict(c, "CLAIM_IN_PROGRESS", "A claim is already in progress")
			default:
				return utils.SendInternalServerError(c, "Failed to claim daily credits")
			}
		}

		return utils.SendSuccess(c, &webmodels.DailyClaimData{
			Amount:    status.Amount,
			Credits:   status.Balance,
			ClaimedAt: status.ClaimedAt,
		}, "Daily credits claimed")
	}
}

// Reward credits a fixed grant for a completed user action.
func Reward(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		var req webmodels.RewardRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "Invalid request body", nil)
		}

		if _, err := webApp.Ledger.EnsureAccount(c.Context(), claims.AccountID, claims.Anonymous, claims.Email); err != nil {
			return utils.SendInternalServerError(c, "Failed to load account")
		}

		balance, err := webApp.Grants.GrantReward(c.Context(), claims.AccountID, grants.RewardAction(req.Action))
		if err != nil {
			if errors.Is(err, grants.ErrUnknownAction) {
				return utils.SendBadRequest(c, "Unknown reward action", map[string]string{"action": req.Action})
			}
			return utils.SendInternalServerError(c, "Failed to grant reward")
		}

		return utils.SendSuccess(c, &webmodels.RewardData{
			Action:  req.Action,
			Amount:  grants.RewardAmount(grants.RewardAction(req.Action)),
			Credits: balance,
		}, "Reward credited")
	}
}

// Transactions returns the recent ledger history, optionally fuzzy-filtered
// by description through the q parameter.
func Transactions(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := utils.ExtractAccountClaims(c)
		if !ok {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return utils.SendBadRequest(c, "Invalid limit", nil)
			}
			limit = parsed
		}

		txns, err := webApp.Ledger.Transactions(c.Context(), claims.AccountID, limit)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return utils.SendSuccess(c, []*webmodels.TransactionData{}, "")
			}
			return utils.SendInternalServerError(c, "Failed to load transactions")
		}

		if q := c.Query("q"); q != "" {
			txns = filterTransactions(txns, q)
		}

		data := make([]*webmodels.TransactionData, 0, len(txns))
		for _, txn := range txns {
			data = append(data, &webmodels.TransactionData{
				ID:          txn.ID,
				Kind:        string(txn.Kind),
				Amount:      txn.Amount,
				Description: txn.Description,
				ProductID:   txn.ProductID,
				Timestamp:   txn.CreatedAt,
			})
		}

		return utils.SendSuccess(c, data, "")
	}
}

// filterTransactions keeps entries whose description fuzzy-matches the query,
// preserving the newest-first order of the input.
func filterTransactions(txns []*models.Transaction, query string) []*models.Transaction {
	descriptions := make([]string, len(txns))
	for i, txn := range txns {
		descriptions[i] = txn.Description
	}

	matches := fuzzy.Find(query, descriptions)
	keep := make(map[int]bool, len(matches))
	for _, match := range matches {
		keep[match.Index] = true
	}

	filtered := make([]*models.Transaction, 0, len(matches))
	for i, txn := range txns {
		if keep[i] {
			filtered = append(filtered, txn)
		}
	}
	return filtered
}

// ProductsList returns the purchasable credit packs.
func ProductsList(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return utils.SendSuccess(c, purchase.Products(), "")
	}
}
