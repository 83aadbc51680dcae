package handlers

import (
	"errors"

	"fitparty/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var kindStatus = map[services.Kind]int{
	services.KindUnauthenticated: fiber.StatusUnauthorized,
	services.KindNotFound:        fiber.StatusNotFound,
	services.KindGone:            fiber.StatusGone,
	services.KindInvalidState:    fiber.StatusBadRequest,
	services.KindForbidden:       fiber.StatusForbidden,
	services.KindConflict:        fiber.StatusBadRequest,
	services.KindValidation:      fiber.StatusBadRequest,
	services.KindInternal:        fiber.StatusInternalServerError,
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind services.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// writeError turns a service error into the {error, code} payload. Internal errors
// are logged with their cause and answered with a generic message.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	de := services.AsError(err)
	status := StatusFor(de.Kind)

	body := fiber.Map{"code": de.Code}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Any("request_id", c.Locals("requestid")),
			zap.Error(err))
		body["error"] = de.Message
	} else {
		body["error"] = err.Error()
	}

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		body["existing_code"] = conflict.ExistingCode
	}
	return c.Status(status).JSON(body)
}

// ErrorHandler is the app-wide fiber.Config.ErrorHandler: framework errors keep their
// status, anything else goes through the domain mapping.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
				"code":  codeForStatus(fe.Code),
			})
		}
		return writeError(c, log, err)
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return services.ErrValidation.Code
	case fiber.StatusUnauthorized:
		return services.ErrUnauthenticated.Code
	case fiber.StatusForbidden:
		return services.ErrForbidden.Code
	case fiber.StatusNotFound:
		return "route_not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	if status >= 500 {
		return "internal_error"
	}
	return "request_error"
}
