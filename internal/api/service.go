// Package api is the HTTP/JSON surface (spec §6.1): fiber routes over the
// Device Registry, Reading Store, Polling Scheduler, Write-Back Buffer,
// Broadcaster and Parameter Service, plus the supplemented audit/backup
// endpoints. Adapted from the teacher's internal/api package: Service
// replaces flow/node/execution bookkeeping with device/reading/bus
// bookkeeping, and Handler's route table follows the same grouped-route
// shape.
package api

import (
	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/audit"
	"github.com/pyroscan/pyroscan/internal/backup"
	"github.com/pyroscan/pyroscan/internal/broadcast"
	"github.com/pyroscan/pyroscan/internal/health"
	"github.com/pyroscan/pyroscan/internal/metrics"
	"github.com/pyroscan/pyroscan/internal/paramservice"
	"github.com/pyroscan/pyroscan/internal/reading"
	"github.com/pyroscan/pyroscan/internal/registry"
	"github.com/pyroscan/pyroscan/internal/scheduler"
	"github.com/pyroscan/pyroscan/internal/sinks/ftpsink"
	"github.com/pyroscan/pyroscan/internal/writeback"
)

// Service holds every dependency the HTTP handlers call into. Audit and
// Backup are nil when their config section (Mongo/S3) is disabled;
// handlers for those routes return 503 in that case.
type Service struct {
	Registry  *registry.Store
	Readings  *reading.Store
	Scheduler *scheduler.Scheduler
	Params    *paramservice.Service
	WriteBack *writeback.Buffer
	Hub       *broadcast.Hub
	Health    *health.HealthChecker
	Metrics   *metrics.Metrics
	PIN       string

	Audit  *audit.Trail
	Backup *backup.Store
	FTP    *ftpsink.Sink

	Log *zap.Logger
}

// New builds a Service from already-constructed components; main.go is
// responsible for wiring every field (Audit/Backup left nil when their
// config section is disabled).
func New(
	reg *registry.Store,
	readings *reading.Store,
	sched *scheduler.Scheduler,
	params *paramservice.Service,
	wb *writeback.Buffer,
	hub *broadcast.Hub,
	checker *health.HealthChecker,
	m *metrics.Metrics,
	pin string,
	log *zap.Logger,
) *Service {
	return &Service{
		Registry:  reg,
		Readings:  readings,
		Scheduler: sched,
		Params:    params,
		WriteBack: wb,
		Hub:       hub,
		Health:    checker,
		Metrics:   m,
		PIN:       pin,
		Log:       log,
	}
}
