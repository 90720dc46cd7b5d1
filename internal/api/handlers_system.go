package api

import (
	"github.com/gofiber/fiber/v2"
)

// healthCheck combines a bare liveness payload with the full health
// registry results (the database, bus and goroutine checks main registers).
func (s *Service) healthCheck(c *fiber.Ctx) error {
	results := s.Health.GetCheckResults()
	results["status"] = "ok"
	return c.JSON(results)
}

// metricsJSON serves the JSON metrics snapshot; metricsPrometheus serves
// the text exposition format for scraping.
func (s *Service) metricsJSON(c *fiber.Ctx) error {
	return c.JSON(s.Metrics.GetMetrics())
}

func (s *Service) metricsPrometheus(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(s.Metrics.PrometheusFormat())
}

// backupExport snapshots the device registry to S3 and returns the
// object key written.
func (s *Service) backupExport(c *fiber.Ctx) error {
	if s.Backup == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "backup store not configured"})
	}
	key, err := s.Backup.Export(c.Context(), s.Registry)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"key": key})
}

// backupList enumerates available registry snapshots.
func (s *Service) backupList(c *fiber.Ctx) error {
	if s.Backup == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "backup store not configured"})
	}
	keys, err := s.Backup.List(c.Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"keys": keys})
}

// backupRestore imports one registry snapshot by key, upserting devices.
func (s *Service) backupRestore(c *fiber.Ctx) error {
	if s.Backup == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "backup store not configured"})
	}
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing key"})
	}

	imported, skipped, err := s.Backup.Restore(c.Context(), s.Registry, key)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"imported": imported,
		"skipped":  skipped,
	})
}
