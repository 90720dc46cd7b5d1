package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/pyroscan/pyroscan/internal/metrics"
)

// SetupRoutes wires every handler onto app, grouped the way the teacher's
// Handler.SetupRoutes does: one API group carrying every REST route plus
// the live-stream websocket route, registered after its upgrade guard.
func (s *Service) SetupRoutes(app *fiber.App) {
	app.Use(metrics.Middleware(s.Metrics))

	root := app.Group("/api")

	root.Get("/health", s.healthCheck)
	root.Get("/metrics", s.metricsJSON)
	app.Get("/metrics", s.metricsPrometheus)

	devices := root.Group("/devices")
	devices.Get("/", s.listDevices)
	devices.Post("/", s.requirePIN, s.createDevice)
	devices.Get("/:id", s.getDevice)
	devices.Put("/:id", s.requirePIN, s.updateDevice)
	devices.Delete("/:id", s.requirePIN, s.deleteDevice)

	readingRoutes := root.Group("/reading")
	readingRoutes.Get("/latest", s.readingLatest)
	readingRoutes.Get("/device/:id", s.readingByDevice)
	readingRoutes.Get("/filter", s.readingFilter)
	readingRoutes.Get("/export/csv", s.readingExportCSV)
	readingRoutes.Get("/stats", s.readingStats)

	polling := root.Group("/polling")
	polling.Get("/stats", s.pollingStats)
	polling.Post("/restart", s.requirePIN, s.pollingRestart)
	polling.Post("/pause", s.requirePIN, s.pollingPause)
	polling.Post("/resume", s.requirePIN, s.pollingResume)

	config := root.Group("/config")
	config.Get("/com-ports", s.comPortsList)
	config.Post("/verify-pin", s.verifyPIN)
	config.Post("/clear-settings", s.requirePIN, s.clearSettings)
	config.Post("/devices/backup", s.requirePIN, s.backupExport)
	config.Get("/devices/backup", s.backupList)
	config.Post("/devices/restore", s.requirePIN, s.backupRestore)

	pyro := root.Group("/pyrometer")
	pyro.Get("/emissivity", s.readParam(emissivityEndpoint))
	pyro.Post("/emissivity", s.requirePIN, s.writeParam(emissivityEndpoint))
	pyro.Get("/slope", s.readParam(slopeEndpoint))
	pyro.Post("/slope", s.requirePIN, s.writeParam(slopeEndpoint))
	pyro.Get("/measurement-mode", s.readParam(measurementModeEndpoint))
	pyro.Post("/measurement-mode", s.requirePIN, s.writeParam(measurementModeEndpoint))
	pyro.Get("/time-interval", s.readParam(timeIntervalEndpoint))
	pyro.Post("/time-interval", s.requirePIN, s.writeParam(timeIntervalEndpoint))
	pyro.Get("/temp-lower-limit", s.readParam(tempLowEndpoint))
	pyro.Post("/temp-lower-limit", s.requirePIN, s.writeParam(tempLowEndpoint))
	pyro.Get("/temp-upper-limit", s.readParam(tempHighEndpoint))
	pyro.Post("/temp-upper-limit", s.requirePIN, s.writeParam(tempHighEndpoint))
	pyro.Get("/all-parameters", s.allParameters)
	pyro.Get("/audit", s.parameterAudit)

	root.Use("/ws", wsUpgradeGuard)
	root.Get("/ws", websocket.New(func(c *websocket.Conn) {
		s.streamReadings(c)
	}))
}
