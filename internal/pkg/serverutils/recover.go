package serverutils

import (
	"fmt"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
)

const panickedKey = "serverutils.panicked"

// RecoverMiddleware turns a panic in a handler into a 500 error for
// ErrorHandlerMiddleware to render. The panic value stays in the log.
func RecoverMiddleware(log logger.ILogger) fiber.Handler {
	rec := recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(ctx *fiber.Ctx, e interface{}) {
			ctx.Locals(panickedKey, true)
			log.Error("HTTP", "Recovered from panic", map[string]interface{}{
				"method": ctx.Method(),
				"path":   ctx.Path(),
				"panic":  fmt.Sprint(e),
				"stack":  string(debug.Stack()),
			})
		},
	})

	return func(ctx *fiber.Ctx) error {
		err := rec(ctx)
		if panicked, _ := ctx.Locals(panickedKey).(bool); panicked {
			return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
		}
		return err
	}
}
