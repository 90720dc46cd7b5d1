// Package influxsink mirrors readings into InfluxDB as a secondary
// time-series store (supplemental: the SQL Reading Store is the system
// of record, but a plant's existing Grafana/Influx stack typically wants
// its own feed rather than querying through the API).
package influxsink

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/reading"
)

// Sink writes one point per reading to a single measurement.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPI
	log    *zap.Logger
}

// Connect builds a Sink writing into org/bucket over url using token.
// The write API is asynchronous and batches internally (influxdb-client-go
// convention), so Write never blocks on network I/O.
func Connect(url, token, org, bucket string, log *zap.Logger) *Sink {
	client := influxdb2.NewClient(url, token)
	writer := client.WriteAPI(org, bucket)

	go func() {
		for err := range writer.Errors() {
			log.Warn("influxsink: async write error", zap.Error(err))
		}
	}()

	return &Sink{client: client, writer: writer, log: log}
}

// Write enqueues r as one point in the "pyrometer_reading" measurement,
// tagged by device id so Influx queries can group per device.
func (s *Sink) Write(_ context.Context, r reading.Reading) {
	fields := map[string]interface{}{
		"value":  float64(r.Value),
		"status": string(r.Status),
	}
	if r.Ambient != nil {
		fields["ambient"] = float64(*r.Ambient)
	}
	point := influxdb2.NewPoint(
		"pyrometer_reading",
		map[string]string{"device_id": r.DeviceID, "device_name": r.DeviceName},
		fields,
		r.At,
	)
	s.writer.WritePoint(point)
}

// Close flushes pending points and releases the client.
func (s *Sink) Close() {
	s.writer.Flush()
	s.client.Close()
}
