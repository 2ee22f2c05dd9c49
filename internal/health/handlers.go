package health

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Handlers serves the health endpoint.
type Handlers struct {
	Rdb *redis.Client
	DB  DBPinger
}

// JSON handles GET /health/json.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	return c.JSON(CollectHealth(c.Context(), h.Rdb, h.DB))
}
