package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/modules/auth"
)

const (
	// IdentityContextKey is the key used to store the caller's identity in the Fiber context.
	IdentityContextKey = "identity"
	// RoleAdmin may broadcast, create notifications and manage accounts.
	RoleAdmin = "admin"
)

// AuthMiddleware resolves the bearer token to an active account's identity.
func AuthMiddleware(authAdapter auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header is required",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid authorization header format. Use: Bearer <token>",
			})
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Token is required",
			})
		}

		identity, err := authAdapter.Resolve(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, domain.ErrAccountInactive) {
				return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
					Error:   "forbidden",
					Message: "Account is inactive",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
		}

		c.Locals(IdentityContextKey, identity)
		return c.Next()
	}
}

// RequireRole rejects callers whose identity does not carry role.
// It must run after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := identityFrom(c)
		if identity == nil || identity.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Error:   "forbidden",
				Message: "Insufficient role",
			})
		}
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) *domain.Identity {
	identity, _ := c.Locals(IdentityContextKey).(*domain.Identity)
	return identity
}
