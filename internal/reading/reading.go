// Package reading is the Reading Store (spec §4.6): durable, append-only
// temperature samples with history queries, CSV export, and summary
// stats. It mirrors the Device Registry's sqlstore-backed CRUD style but
// is write-heavy, so callers append through the Write-Back Buffer
// (internal/writeback) rather than one row per reading.
package reading

import (
	"encoding/hex"
	"time"

	"github.com/pyroscan/pyroscan/internal/modbus"
)

// Reading is one completed poll of a device, successful or not.
type Reading struct {
	DeviceID   string        `json:"device_id"`
	DeviceName string        `json:"device_name"`
	At         time.Time     `json:"at"` // UTC, microsecond precision
	Value      float32       `json:"value"`
	Ambient    *float32      `json:"ambient,omitempty"`
	Status     modbus.Status `json:"status"`
	RawHex     string        `json:"raw_hex,omitempty"`
	ErrMessage string        `json:"err_message,omitempty"`
}

// NewOK builds a successful Reading, hex-encoding raw for audit/debug.
func NewOK(deviceID, deviceName string, at time.Time, decoded modbus.Decoded, raw []byte) Reading {
	return Reading{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		At:         at.UTC().Truncate(time.Microsecond),
		Value:      decoded.Value,
		Ambient:    decoded.Ambient,
		Status:     modbus.StatusOK,
		RawHex:     hex.EncodeToString(raw),
	}
}

// NewErr builds a failed Reading carrying the error that aborted the poll.
func NewErr(deviceID, deviceName string, at time.Time, err error) Reading {
	return Reading{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		At:         at.UTC().Truncate(time.Microsecond),
		Status:     modbus.StatusErr,
		ErrMessage: err.Error(),
	}
}

// NewStale marks a device whose value has not refreshed within the
// scheduler's stale window (the previous successful reading is carried
// forward by the caller; this constructor only tags the status).
func NewStale(prior Reading) Reading {
	r := prior
	r.Status = modbus.StatusStale
	return r
}
