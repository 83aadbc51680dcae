package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// CronSecretHeader carries the scheduler's shared secret.
const CronSecretHeader = "X-Cron-Secret"

// CronSecretMiddleware guards batch endpoints invoked by the external scheduler.
func CronSecretMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(CronSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return unauthorized(c, "invalid cron secret")
		}
		return c.Next()
	}
}
