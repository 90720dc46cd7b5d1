package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pyroscan/pyroscan/internal/registry"
)

func (s *Service) listDevices(c *fiber.Ctx) error {
	devices, err := s.Registry.List(c.Context())
	if err != nil {
		return httpError(c, err)
	}

	if enabledOnly, _ := strconv.ParseBool(c.Query("enabled_only")); enabledOnly {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Enabled {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	return c.JSON(devices)
}

func (s *Service) createDevice(c *fiber.Ctx) error {
	var d registry.Device
	if err := c.BodyParser(&d); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	created, err := s.Registry.Create(c.Context(), d)
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Service) getDevice(c *fiber.Ctx) error {
	d, err := s.Registry.Get(c.Context(), c.Params("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(d)
}

func (s *Service) updateDevice(c *fiber.Ctx) error {
	var d registry.Device
	if err := c.BodyParser(&d); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	d.ID = c.Params("id")

	updated, err := s.Registry.Update(c.Context(), d)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(updated)
}

func (s *Service) deleteDevice(c *fiber.Ctx) error {
	if err := s.Registry.Delete(c.Context(), c.Params("id")); err != nil {
		return httpError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
