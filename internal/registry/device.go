// Package registry is the durable store of device configuration (spec
// §4.4): CRUD plus a ConfigChanged signal the Polling Scheduler watches to
// know when to reload its device snapshot.
package registry

import (
	"fmt"
	"time"

	"github.com/pyroscan/pyroscan/internal/modbus"
)

// allowedBauds is the enumerated set spec §3 requires.
var allowedBauds = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Device is the durable record a scheduler reads at start and on reload.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ComPort  string `json:"com_port"`
	BaudRate int    `json:"baud_rate"`

	SlaveID       byte         `json:"slave_id"`
	FuncCode      byte         `json:"func_code"`
	StartReg      uint16       `json:"start_reg"`
	RegisterCount uint16       `json:"register_count"`
	Layout        modbus.Layout `json:"layout"`

	Graph     bool    `json:"graph"`
	GraphYMin float64 `json:"graph_y_min"`
	GraphYMax float64 `json:"graph_y_max"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BusKey identifies the physical bus this device sits on: (com port, baud).
type BusKey struct {
	ComPort string
	Baud    int
}

func (d Device) BusKey() BusKey {
	return BusKey{ComPort: d.ComPort, Baud: d.BaudRate}
}

// ErrValidation wraps a field-level validation failure (HTTP 422).
type ErrValidation struct {
	Field, Reason string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("registry: invalid %s: %s", e.Field, e.Reason)
}

// Validate enforces the invariants from spec §3: name unique and
// non-empty (uniqueness is checked by the store, not here), baud in the
// enumerated set, register count 1 or 2, function code 3 or 4, slave id
// 1..247, y-min < y-max (checked only when graph is enabled).
func (d Device) Validate() error {
	if d.Name == "" {
		return ErrValidation{"name", "must not be empty"}
	}
	if d.ComPort == "" {
		return ErrValidation{"com_port", "must not be empty"}
	}
	if !allowedBauds[d.BaudRate] {
		return ErrValidation{"baud_rate", "must be one of the enumerated Modbus baud rates"}
	}
	if d.SlaveID < 1 || d.SlaveID > 247 {
		return ErrValidation{"slave_id", "must be in 1..247"}
	}
	if d.FuncCode != modbus.FuncReadHolding && d.FuncCode != modbus.FuncReadInput {
		return ErrValidation{"func_code", "must be 3 (holding) or 4 (input)"}
	}
	if d.RegisterCount != 1 && d.RegisterCount != 2 {
		return ErrValidation{"register_count", "must be 1 or 2"}
	}
	if d.Graph && d.GraphYMin >= d.GraphYMax {
		return ErrValidation{"graph_y_min", "must be less than graph_y_max"}
	}
	return nil
}
