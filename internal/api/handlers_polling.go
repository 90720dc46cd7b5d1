package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// pollingStats reports the shape spec §6.1 documents: is_running,
// cycle_count, buffer_stats, plus a per-bus breakdown for operators.
func (s *Service) pollingStats(c *fiber.Ctx) error {
	busStats := s.Scheduler.Stats()

	var totalCycles int64
	running := false
	for _, b := range busStats {
		totalCycles += b.Cycles
		if b.State == "running" {
			running = true
		}
	}

	return c.JSON(fiber.Map{
		"is_running":   running,
		"cycle_count":  totalCycles,
		"buses":        busStats,
		"buffer_stats": s.WriteBack.Stats(),
		"hub_stats":    s.Hub.Stats(),
	})
}

func (s *Service) pollingRestart(c *fiber.Ctx) error {
	if err := s.Scheduler.Start(c.Context()); err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Service) pollingPause(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	if err := s.Scheduler.Pause(ctx, 5*time.Second); err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Service) pollingResume(c *fiber.Ctx) error {
	s.Scheduler.Resume()
	return c.JSON(fiber.Map{"ok": true})
}
