package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stylemirror/credits-server/backend/models"
	"github.com/stylemirror/credits-server/backend/utils"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims tokenClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func authTestApp() *fiber.App {
	app := fiber.New()
	app.Get("/protected", AuthRequired(NewJWTValidator(testSecret, "stylemirror")), func(c *fiber.Ctx) error {
		claims, _ := utils.ExtractAccountClaims(c)
		return c.JSON(claims)
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	validClaims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "stylemirror",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Anonymous: true,
	}

	expiredClaims := validClaims
	expiredClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuerClaims := validClaims
	wrongIssuerClaims.Issuer = "someone-else"

	noSubjectClaims := validClaims
	noSubjectClaims.Subject = ""

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "Valid", header: "Bearer " + signToken(t, validClaims, testSecret), wantStatus: 200},
		{name: "MissingHeader", header: "", wantStatus: 401},
		{name: "NotBearer", header: "Basic abc", wantStatus: 401},
		{name: "Expired", header: "Bearer " + signToken(t, expiredClaims, testSecret), wantStatus: 401},
		{name: "WrongSecret", header: "Bearer " + signToken(t, validClaims, "other-secret"), wantStatus: 401},
		{name: "WrongIssuer", header: "Bearer " + signToken(t, wrongIssuerClaims, testSecret), wantStatus: 401},
		{name: "NoSubject", header: "Bearer " + signToken(t, noSubjectClaims, testSecret), wantStatus: 401},
		{name: "Garbage", header: "Bearer not.a.token", wantStatus: 401},
	}

	app := authTestApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestJWTValidator_Claims(t *testing.T) {
	validator := NewJWTValidator(testSecret, "")

	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "someone@example.com",
	}, testSecret)

	claims, err := validator.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := &models.AccountClaims{AccountID: "user-42", Email: "someone@example.com"}
	if *claims != *want {
		t.Errorf("Validate() = %+v, want %+v", claims, want)
	}
}
