package httpapi

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// writeError standardizes JSON error responses.
func writeError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  statusError,
		"error":   msg,
		"message": msg,
	})
}

// errorHandler converts errors escaping a handler, including recovered panics,
// into the JSON error shape.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return writeError(c, fiberErr.Code, fiberErr.Message)
	}

	return writeError(c, fiber.StatusInternalServerError, "internal server error: "+err.Error())
}
