package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

// ConcurrencyLimiter admits at most max requests at a time and rejects the
// rest with 429 instead of queueing them.
func ConcurrencyLimiter(max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	slots := make(chan struct{}, max)

	return func(c *fiber.Ctx) error {
		select {
		case slots <- struct{}{}:
		default:
			log.Warn().Str("path", c.Path()).Int("limit", max).Msg("concurrency limit reached")
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "too many concurrent executions",
				Code:  "concurrency_limit",
			})
		}
		defer func() { <-slots }()
		return c.Next()
	}
}
