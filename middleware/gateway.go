// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// HeaderServiceToken carries the gateway's shared secret. It is separate from
// Authorization so a user's bearer token can ride along in jwt mode.
const HeaderServiceToken = "X-Service-Token"

// GatewayAuthMiddleware only lets through requests carrying the gateway's service
// token. Paths in skip (health checks, cron) are left to their own checks. An empty
// expectedToken rejects everything.
func GatewayAuthMiddleware(expectedToken string, log *zap.Logger, skip ...string) fiber.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *fiber.Ctx) error {
		if skipped[c.Path()] {
			return c.Next()
		}

		token := strings.TrimSpace(c.Get(HeaderServiceToken))
		if token == "" {
			log.Warn("gateway token missing", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
				"code":  "unauthenticated",
			})
		}
		if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Warn("gateway token rejected", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
				"code":  "unauthenticated",
			})
		}
		return c.Next()
	}
}
