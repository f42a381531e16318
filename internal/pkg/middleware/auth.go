package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalsSubject is the fiber.Ctx local holding the token subject
const LocalsSubject = "auth_subject"

// JWTAuthMiddleware requires an HS256 bearer token signed with secret.
// An empty secret disables authentication.
func JWTAuthMiddleware(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		if len(key) == 0 {
			return c.Next()
		}

		tokenString := extractBearer(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		claims, err := ParseToken(tokenString, key)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
		}
		if sub, _ := claims.GetSubject(); sub != "" {
			c.Locals(LocalsSubject, sub)
		}
		return c.Next()
	}
}

// ParseToken validates signature, algorithm and expiry
func ParseToken(tokenString string, key []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
