// Package metrics is the process-wide counters exposed as JSON
// (GetMetrics) at /api/metrics and as Prometheus text exposition
// (PrometheusFormat) at /metrics. Adapted from the teacher's internal/metrics
// package: flow/node execution counters become bus/device polling
// counters, and a reading-ingest counter is added for the Reading
// Store's append path.
package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics holds process-wide counters, refreshed by the caller and read
// by the /api/metrics handler.
type Metrics struct {
	// Bus/polling metrics
	TotalBuses      int64 `json:"total_buses"`
	RunningBuses    int64 `json:"running_buses"`
	PausedBuses     int64 `json:"paused_buses"`
	TotalPollCycles int64 `json:"total_poll_cycles"`
	FailedPolls     int64 `json:"failed_polls"`

	// Device metrics
	TotalDevices    int64 `json:"total_devices"`
	EnabledDevices  int64 `json:"enabled_devices"`
	ReadingsWritten int64 `json:"readings_written"`

	// System metrics
	Uptime         int64   `json:"uptime_seconds"`
	CPUUsage       float64 `json:"cpu_usage_percent"`
	MemoryUsed     uint64  `json:"memory_used_bytes"`
	MemoryTotal    uint64  `json:"memory_total_bytes"`
	GoroutineCount int     `json:"goroutine_count"`

	// API metrics
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`

	mu        sync.RWMutex
	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

func (m *Metrics) IncrementPollCycles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalPollCycles++
}

func (m *Metrics) IncrementFailedPolls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedPolls++
}

func (m *Metrics) AddReadingsWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsWritten += n
}

// SetBusMetrics snapshots the Polling Scheduler's current bus/device
// counts; a ticker goroutine in main polls Scheduler.Stats() and
// Registry.List() periodically and pushes the totals in here.
func (m *Metrics) SetBusMetrics(total, running, paused int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalBuses = total
	m.RunningBuses = running
	m.PausedBuses = paused
}

func (m *Metrics) SetDeviceMetrics(total, enabled int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalDevices = total
	m.EnabledDevices = enabled
}

func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

func (m *Metrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalErrors++
}

func (m *Metrics) RecordResponseTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := float64(duration.Milliseconds())
	if m.AvgResponseTime == 0 {
		m.AvgResponseTime = ms
	} else {
		m.AvgResponseTime = (m.AvgResponseTime * 0.9) + (ms * 0.1)
	}
}

// UpdateSystemMetrics refreshes uptime, memory and goroutine counts from
// the runtime. Call this right before serving /api/metrics.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.MemoryTotal = memStats.Sys

	m.GoroutineCount = runtime.NumGoroutine()
}

// GetMetrics returns a JSON-friendly snapshot for the /api/metrics JSON
// representation.
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"buses": map[string]interface{}{
			"total":   m.TotalBuses,
			"running": m.RunningBuses,
			"paused":  m.PausedBuses,
		},
		"polling": map[string]interface{}{
			"total_cycles": m.TotalPollCycles,
			"failed_polls": m.FailedPolls,
			"success_rate": func() float64 {
				if m.TotalPollCycles == 0 {
					return 100.0
				}
				return float64(m.TotalPollCycles-m.FailedPolls) / float64(m.TotalPollCycles) * 100
			}(),
		},
		"devices": map[string]interface{}{
			"total":            m.TotalDevices,
			"enabled":          m.EnabledDevices,
			"readings_written": m.ReadingsWritten,
		},
		"system": map[string]interface{}{
			"uptime_seconds":     m.Uptime,
			"memory_used_bytes":  m.MemoryUsed,
			"memory_total_bytes": m.MemoryTotal,
			"memory_used_mb":     m.MemoryUsed / 1024 / 1024,
			"goroutines":         m.GoroutineCount,
		},
		"api": map[string]interface{}{
			"total_requests":       m.TotalRequests,
			"total_errors":         m.TotalErrors,
			"avg_response_time_ms": m.AvgResponseTime,
			"error_rate": func() float64 {
				if m.TotalRequests == 0 {
					return 0.0
				}
				return float64(m.TotalErrors) / float64(m.TotalRequests) * 100
			}(),
		},
	}
}

// PrometheusFormat renders the counters in Prometheus text exposition
// format under the pyroscan_ namespace.
func (m *Metrics) PrometheusFormat() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return `# HELP pyroscan_buses_total Total number of configured buses
# TYPE pyroscan_buses_total gauge
pyroscan_buses_total ` + formatInt64(m.TotalBuses) + `

# HELP pyroscan_buses_running Number of actively polling buses
# TYPE pyroscan_buses_running gauge
pyroscan_buses_running ` + formatInt64(m.RunningBuses) + `

# HELP pyroscan_buses_paused Number of paused buses
# TYPE pyroscan_buses_paused gauge
pyroscan_buses_paused ` + formatInt64(m.PausedBuses) + `

# HELP pyroscan_poll_cycles_total Total number of poll cycles executed
# TYPE pyroscan_poll_cycles_total counter
pyroscan_poll_cycles_total ` + formatInt64(m.TotalPollCycles) + `

# HELP pyroscan_poll_failures_total Total number of failed poll cycles
# TYPE pyroscan_poll_failures_total counter
pyroscan_poll_failures_total ` + formatInt64(m.FailedPolls) + `

# HELP pyroscan_devices_total Total number of registered devices
# TYPE pyroscan_devices_total gauge
pyroscan_devices_total ` + formatInt64(m.TotalDevices) + `

# HELP pyroscan_devices_enabled Number of enabled devices
# TYPE pyroscan_devices_enabled gauge
pyroscan_devices_enabled ` + formatInt64(m.EnabledDevices) + `

# HELP pyroscan_readings_written_total Total number of readings persisted
# TYPE pyroscan_readings_written_total counter
pyroscan_readings_written_total ` + formatInt64(m.ReadingsWritten) + `

# HELP pyroscan_uptime_seconds Uptime in seconds
# TYPE pyroscan_uptime_seconds gauge
pyroscan_uptime_seconds ` + formatInt64(m.Uptime) + `

# HELP pyroscan_memory_used_bytes Memory used in bytes
# TYPE pyroscan_memory_used_bytes gauge
pyroscan_memory_used_bytes ` + formatUint64(m.MemoryUsed) + `

# HELP pyroscan_goroutines Number of goroutines
# TYPE pyroscan_goroutines gauge
pyroscan_goroutines ` + formatInt(m.GoroutineCount) + `

# HELP pyroscan_api_requests_total Total number of API requests
# TYPE pyroscan_api_requests_total counter
pyroscan_api_requests_total ` + formatInt64(m.TotalRequests) + `

# HELP pyroscan_api_errors_total Total number of API errors
# TYPE pyroscan_api_errors_total counter
pyroscan_api_errors_total ` + formatInt64(m.TotalErrors) + `

# HELP pyroscan_api_response_time_ms Average API response time in milliseconds
# TYPE pyroscan_api_response_time_ms gauge
pyroscan_api_response_time_ms ` + formatFloat64(m.AvgResponseTime) + `
`
}

// Middleware is a fiber handler recording request counts, error counts
// and a moving-average response time for every request.
func Middleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		m.IncrementRequests()

		err := c.Next()

		m.RecordResponseTime(time.Since(start))

		if c.Response().StatusCode() >= 400 {
			m.IncrementErrors()
		}

		return err
	}
}

func formatInt64(n int64) string   { return fmt.Sprintf("%d", n) }
func formatUint64(n uint64) string { return fmt.Sprintf("%d", n) }
func formatInt(n int) string       { return fmt.Sprintf("%d", n) }
func formatFloat64(n float64) string {
	return fmt.Sprintf("%.2f", n)
}
