package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stylemirror/credits-server/backend/models"
	"github.com/stylemirror/credits-server/backend/utils"
)

// TokenValidator validates a bearer token and returns the account identity.
// The JWT variant below is the production implementation; tests substitute
// their own.
type TokenValidator interface {
	Validate(token string) (*models.AccountClaims, error)
}

// JWTValidator checks HS256 tokens minted by the auth provider.
type JWTValidator struct {
	secret []byte
	issuer string
}

func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Anonymous bool   `json:"anon,omitempty"`
	Email     string `json:"email,omitempty"`
}

func (v *JWTValidator) Validate(token string) (*models.AccountClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}

	return &models.AccountClaims{
		AccountID: claims.Subject,
		Anonymous: claims.Anonymous,
		Email:     claims.Email,
	}, nil
}

// AuthRequired rejects requests without a valid bearer token. Every ledger
// operation is a no-op for unauthenticated callers, enforced here once.
func AuthRequired(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return utils.SendUnauthorized(c, "Missing bearer token")
		}

		claims, err := validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			slog.Debug("Auth required: invalid token", slog.String("error", err.Error()))
			return utils.SendUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("account", claims)
		return c.Next()
	}
}
