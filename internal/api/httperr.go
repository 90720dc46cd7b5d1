package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pyroscan/pyroscan/internal/paramservice"
	"github.com/pyroscan/pyroscan/internal/registry"
	"github.com/pyroscan/pyroscan/internal/scheduler"
)

// httpError maps a domain error to the HTTP status/JSON body convention
// this API uses everywhere: validation errors are 422, contention/busy
// conditions are 409, not-found is 404, everything else is 500.
func httpError(c *fiber.Ctx, err error) error {
	var regErr registry.ErrValidation
	var paramErr paramservice.ErrValidation

	switch {
	case errors.As(err, &regErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": regErr.Error()})
	case errors.As(err, &paramErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": paramErr.Error()})
	case errors.Is(err, scheduler.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "bus busy, try again"})
	case errors.Is(err, registry.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
