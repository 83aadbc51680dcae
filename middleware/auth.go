package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the fiber.Ctx local holding the authenticated user id.
const LocalUserID = "user_id"

// UserID returns the session user, or "" for anonymous requests.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// SessionMiddleware resolves the caller's identity. In gateway mode the upstream
// gateway has already authenticated the user and forwards X-User-ID; in jwt mode the
// client sends its own bearer token. With required set, anonymous calls get 401.
func SessionMiddleware(mode, jwtSecret string, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var userID string
		switch mode {
		case "jwt":
			token := bearerToken(c.Get(fiber.HeaderAuthorization))
			if token != "" {
				id, err := ParseUserToken(jwtSecret, token)
				if err != nil {
					return unauthorized(c, "invalid token")
				}
				userID = id
			}
		default:
			userID = strings.TrimSpace(c.Get("X-User-ID"))
		}

		if userID == "" && required {
			return unauthorized(c, "authentication required")
		}
		if userID != "" {
			c.Locals(LocalUserID, userID)
		}
		return c.Next()
	}
}

// ParseUserToken validates an HS256 token and returns its subject, falling back to a
// user_id claim.
func ParseUserToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", errors.New("token has no subject")
}

// bearerToken accepts "Bearer <token>" or the raw token.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "unauthenticated",
	})
}
