package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/AriukCS1A/testreg/shared"
)

type SessionVerifier interface {
	ExtractTokenFromHeader(authHeader string) (string, error)
	VerifySessionToken(token string) (string, error)
}

// SessionAuth validates the bearer session token and stores the session
// id in request locals.
func SessionAuth(verifier SessionVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := verifier.ExtractTokenFromHeader(c.Get("Authorization"))
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Missing session token", nil)
		}

		sessionID, err := verifier.VerifySessionToken(token)
		if err != nil {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Invalid session token", nil)
		}

		c.Locals(shared.SessionID, sessionID)
		return c.Next()
	}
}

// AdminAuth gates admin routes behind a static API key compared in
// constant time. An unset ADMIN_API_KEY disables the surface entirely.
func AdminAuth() fiber.Handler {
	apiKey := os.Getenv("ADMIN_API_KEY")

	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return shared.ResponseJSON(c, http.StatusForbidden, "Admin API disabled", nil)
		}

		provided := c.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			return shared.ResponseJSON(c, http.StatusUnauthorized, "Invalid API key", nil)
		}

		return c.Next()
	}
}
