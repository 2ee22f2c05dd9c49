package middleware

import (
	"rectrade-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const accountHeader = "X-Account-Id"
const accountLocal = "account_id"

// RequireAccount extracts the verified account identity attached by the
// authentication collaborator upstream. The engine trusts this header and
// performs no credential checks of its own.
func RequireAccount() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(accountHeader)
		if raw == "" {
			return response.Unauthorized(c, "Missing account identity")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return response.Unauthorized(c, "Invalid account identity")
		}
		c.Locals(accountLocal, id)
		return c.Next()
	}
}

// AccountID returns the verified account ID from Locals. The second return
// is false when RequireAccount did not run.
func AccountID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(accountLocal).(uuid.UUID)
	return id, ok
}
