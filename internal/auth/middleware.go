package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/identity"
	"opsdesk-backend/internal/store"
)

// Middleware validates the bearer token and resolves the caller's full
// identity against the database, so permission and role changes apply
// immediately instead of at token expiry.
func Middleware(secret string, s *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		caller, err := LoadIdentity(c.Context(), s, claims.Subject)
		if err != nil {
			return engine.UnauthorizedError("Unknown user")
		}

		c.Locals("user", caller)
		return c.Next()
	}
}

// RequireAdmin checks the authenticated user has the administrator role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return engine.ForbiddenError("Administrator access required")
		}
		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *identity.UserContext {
	user, _ := c.Locals("user").(*identity.UserContext)
	return user
}
