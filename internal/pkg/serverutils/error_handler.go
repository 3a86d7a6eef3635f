package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware renders errors returned by handlers as the standard
// JSON envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var verr *ValidationError
		if errors.As(err, &verr) {
			return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponseWithData(fiber.StatusBadRequest, "Validation failed", verr.Fields))
		}

		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			return ctx.Status(ferr.Code).JSON(ErrorResponse(ferr.Code, ferr.Message))
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(fiber.StatusInternalServerError, err.Error()))
	}
}
