package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// requirePIN gates a route behind the configured operator PIN, sent as the
// X-Pyroscan-Pin header. An empty configured PIN disables the gate
// entirely (single-operator deployments with no PIN configured).
func (s *Service) requirePIN(c *fiber.Ctx) error {
	if s.PIN == "" {
		return c.Next()
	}
	given := c.Get("X-Pyroscan-Pin")
	if subtle.ConstantTimeCompare([]byte(given), []byte(s.PIN)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid pin"})
	}
	return c.Next()
}
