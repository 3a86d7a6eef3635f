package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const ActorLocalKey = "actor_id"

// ActorMiddleware resolves the conversation actor from a bearer token when one
// is present. Requests without a token fall through unauthenticated and the
// actor comes from the request body or defaults. An empty secret disables it.
func ActorMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if secret == "" {
			return ctx.Next()
		}

		authHeader := ctx.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return ctx.Next()
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid claims"))
		}

		if sub, _ := claims.GetSubject(); sub != "" {
			ctx.Locals(ActorLocalKey, sub)
		} else if uid, ok := claims["user_id"].(string); ok && uid != "" {
			ctx.Locals(ActorLocalKey, uid)
		}
		return ctx.Next()
	}
}

// ActorFromCtx returns the token actor, or "" when the request was anonymous.
func ActorFromCtx(ctx *fiber.Ctx) string {
	actor, _ := ctx.Locals(ActorLocalKey).(string)
	return actor
}
