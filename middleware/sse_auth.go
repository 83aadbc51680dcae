// middleware/sse_auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// StreamAuthMiddleware authenticates push streams. Browsers cannot set headers on an
// EventSource or a WebSocket handshake, so in jwt mode the token may also arrive as
// the `token` query parameter.
//
// Usage:
//
//	app.Get("/parties/:code/stream", middleware.StreamAuthMiddleware(mode, secret), h.Stream)
func StreamAuthMiddleware(mode, jwtSecret string) fiber.Handler {
	session := SessionMiddleware(mode, jwtSecret, true)

	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if mode != "jwt" || token == "" {
			return session(c)
		}

		userID, err := ParseUserToken(jwtSecret, token)
		if err != nil {
			return unauthorized(c, "invalid stream token")
		}
		c.Locals(LocalUserID, userID)
		return c.Next()
	}
}
