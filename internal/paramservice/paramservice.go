// Package paramservice is the Parameter Service (spec §4.9): it bridges a
// user intent ("set emissivity to 0.95 on device 3") to the Bus Arbiter
// without colliding with polling, by pausing the Polling Scheduler for
// the duration of one or more Control transactions.
package paramservice

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pyroscan/pyroscan/internal/arbiter"
	"github.com/pyroscan/pyroscan/internal/modbus"
)

// ParamID identifies one of the six runtime registers this service
// exposes. Register addresses are a device-profile convention fixed for
// this deployment (there is no auto-discovery protocol in Modbus RTU).
type ParamID int

const (
	ParamEmissivity ParamID = iota
	ParamSlope
	ParamMeasurementMode
	ParamTimeInterval
	ParamTempLow
	ParamTempHigh
)

// registerAddr maps each ParamID to its holding register address.
var registerAddr = map[ParamID]uint16{
	ParamEmissivity:      0,
	ParamSlope:           1,
	ParamMeasurementMode: 2,
	ParamTimeInterval:    3,
	ParamTempLow:         4,
	ParamTempHigh:        5,
}

// ErrValidation is returned by WriteParameter when value is out of range
// for paramID.
type ErrValidation struct {
	ParamID ParamID
	Reason  string
}

func (e ErrValidation) Error() string {
	return fmt.Sprintf("paramservice: invalid value for param %d: %s", e.ParamID, e.Reason)
}

// Pauser is the Polling Scheduler's pause/resume bracket
// (internal/scheduler.Scheduler satisfies this).
type Pauser interface {
	Pause(ctx context.Context, maxWait time.Duration) error
	Resume()
}

// Submitter is the Bus Arbiter's submission API
// (internal/arbiter.Arbiter satisfies this).
type Submitter interface {
	Submit(ctx context.Context, txn arbiter.Transaction) arbiter.Result
}

// BusResolver looks up the Arbiter owning a given (com port) pair so the
// service can route a parameter request to the right bus without
// depending on the scheduler's internal bus map directly.
type BusResolver func(comPort string) (Submitter, bool)

// Config bounds how long the service will wait for the scheduler to go
// idle before giving up (spec: ErrBusy after maxPauseWait, typical 2s).
type Config struct {
	MaxPauseWait time.Duration
	TxnTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{MaxPauseWait: 2 * time.Second, TxnTimeout: 500 * time.Millisecond}
}

// Service implements ReadParameter/WriteParameter/ReadAll.
type Service struct {
	cfg     Config
	pauser  Pauser
	resolve BusResolver
}

func New(cfg Config, pauser Pauser, resolve BusResolver) *Service {
	return &Service{cfg: cfg, pauser: pauser, resolve: resolve}
}

// withPausedBus runs fn under a bounded Scheduler pause, always resuming
// before returning, and surfaces ErrBusy if the pause itself timed out.
func (s *Service) withPausedBus(ctx context.Context, comPort string, fn func(Submitter) error) error {
	sub, ok := s.resolve(comPort)
	if !ok {
		return fmt.Errorf("paramservice: no bus runner for com port %q", comPort)
	}

	// Pause bounds its own wait by MaxPauseWait and returns ErrBusy when
	// that runs out; Resume runs even when Pause fails.
	defer s.pauser.Resume()
	if err := s.pauser.Pause(ctx, s.cfg.MaxPauseWait); err != nil {
		return err
	}

	return fn(sub)
}

// ReadParameter reads the raw register for paramID and decodes it into
// physical units.
func (s *Service) ReadParameter(ctx context.Context, comPort string, slaveID byte, paramID ParamID) (float64, error) {
	var value float64
	err := s.withPausedBus(ctx, comPort, func(sub Submitter) error {
		raw, err := readRegister(ctx, sub, slaveID, registerAddr[paramID], s.cfg.TxnTimeout)
		if err != nil {
			return err
		}
		value = decodeParam(paramID, raw)
		return nil
	})
	return value, err
}

// WriteParameter validates value against paramID's range, encodes it, and
// writes the register. For the temperature limits, it also re-reads the
// counterpart register under the same pause so low < high is enforced
// even though each limit is written independently (spec §4.9 edge case).
func (s *Service) WriteParameter(ctx context.Context, comPort string, slaveID byte, paramID ParamID, value float64) error {
	encoded, err := validateAndEncode(paramID, value)
	if err != nil {
		return err
	}

	counterpart, needsOrderCheck := tempLimitCounterpart(paramID)

	return s.withPausedBus(ctx, comPort, func(sub Submitter) error {
		if needsOrderCheck {
			otherRaw, err := readRegister(ctx, sub, slaveID, registerAddr[counterpart], s.cfg.TxnTimeout)
			if err != nil {
				return fmt.Errorf("paramservice: read counterpart limit: %w", err)
			}
			other := decodeParam(counterpart, otherRaw)
			if err := checkLimitOrder(paramID, value, other); err != nil {
				return err
			}
		}
		return writeRegister(ctx, sub, slaveID, registerAddr[paramID], encoded, s.cfg.TxnTimeout)
	})
}

func tempLimitCounterpart(paramID ParamID) (ParamID, bool) {
	switch paramID {
	case ParamTempLow:
		return ParamTempHigh, true
	case ParamTempHigh:
		return ParamTempLow, true
	default:
		return 0, false
	}
}

func checkLimitOrder(paramID ParamID, value, other float64) error {
	low, high := value, other
	if paramID == ParamTempHigh {
		low, high = other, value
	}
	if low >= high {
		return ErrValidation{paramID, "temperature low must be less than high"}
	}
	return nil
}

// AllParameters is the bulk-read result for GET /pyrometer/all-parameters.
type AllParameters struct {
	Emissivity      float64
	Slope           float64
	MeasurementMode float64
	TimeInterval    float64
	TempLow         float64
	TempHigh        float64
}

// readOrder is fixed so ReadAll always touches registers in the same
// sequence, keeping bus timing deterministic across calls.
var readOrder = []ParamID{ParamEmissivity, ParamSlope, ParamMeasurementMode, ParamTimeInterval, ParamTempLow, ParamTempHigh}

// ReadAll issues all five (six, counting both temperature limits) reads
// under a single Pause/Resume bracket, in readOrder.
func (s *Service) ReadAll(ctx context.Context, comPort string, slaveID byte) (AllParameters, error) {
	var out AllParameters
	err := s.withPausedBus(ctx, comPort, func(sub Submitter) error {
		values := make(map[ParamID]float64, len(readOrder))
		for _, p := range readOrder {
			raw, err := readRegister(ctx, sub, slaveID, registerAddr[p], s.cfg.TxnTimeout)
			if err != nil {
				return fmt.Errorf("paramservice: read param %d: %w", p, err)
			}
			values[p] = decodeParam(p, raw)
		}
		out = AllParameters{
			Emissivity:      values[ParamEmissivity],
			Slope:           values[ParamSlope],
			MeasurementMode: values[ParamMeasurementMode],
			TimeInterval:    values[ParamTimeInterval],
			TempLow:         values[ParamTempLow],
			TempHigh:        values[ParamTempHigh],
		}
		return nil
	})
	return out, err
}

func readRegister(ctx context.Context, sub Submitter, slaveID byte, reg uint16, timeout time.Duration) (uint16, error) {
	req := modbus.BuildRequest(slaveID, modbus.FuncReadHolding, reg, 1)
	result := sub.Submit(ctx, arbiter.Transaction{
		Kind:             arbiter.KindControl,
		Request:          req,
		ExpectedReplyLen: modbus.ExpectedReadReplyLen(1),
		Deadline:         time.Now().Add(timeout),
	})
	if result.Err != nil {
		return 0, result.Err
	}
	parsed, err := modbus.ParseReadResponse(result.Bytes, slaveID, modbus.FuncReadHolding, 2)
	if err != nil {
		return 0, err
	}
	return uint16(parsed.Raw[0])<<8 | uint16(parsed.Raw[1]), nil
}

func writeRegister(ctx context.Context, sub Submitter, slaveID byte, reg uint16, value uint16, timeout time.Duration) error {
	req := modbus.BuildWriteSingle(slaveID, reg, value)
	result := sub.Submit(ctx, arbiter.Transaction{
		Kind:             arbiter.KindControl,
		Request:          req,
		ExpectedReplyLen: len(req),
		Deadline:         time.Now().Add(timeout),
	})
	if result.Err != nil {
		return result.Err
	}
	// Function 6 replies echo the request verbatim, CRC included; treat
	// any differing byte (so also a corrupted CRC) as a write failure.
	if len(result.Bytes) != len(req) {
		return modbus.ErrFrameShort{Got: len(result.Bytes), Want: len(req)}
	}
	for i := range req {
		if result.Bytes[i] != req[i] {
			return modbus.ErrEchoMismatch{Field: "write-echo", Got: result.Bytes[i], Want: req[i]}
		}
	}
	return nil
}

// validateAndEncode enforces spec §4.9's per-param ranges and returns the
// u16 wire encoding.
func validateAndEncode(paramID ParamID, value float64) (uint16, error) {
	switch paramID {
	case ParamEmissivity, ParamSlope:
		if value < 0.20 || value > 1.00 {
			return 0, ErrValidation{paramID, "must be in 0.20..1.00"}
		}
		return uint16(math.Round(value * 100)), nil
	case ParamMeasurementMode:
		if value != 0 && value != 1 {
			return 0, ErrValidation{paramID, "must be 0 or 1"}
		}
		return uint16(value), nil
	case ParamTimeInterval:
		if value < 1 || value > 3600 {
			return 0, ErrValidation{paramID, "must be in 1..3600 seconds"}
		}
		return uint16(value), nil
	case ParamTempLow, ParamTempHigh:
		if value < 0 || value > 3000 {
			return 0, ErrValidation{paramID, "must be in 0..3000 degrees C"}
		}
		return uint16(value), nil
	default:
		return 0, ErrValidation{paramID, "unknown parameter"}
	}
}

// decodeParam is validateAndEncode's inverse for display purposes.
func decodeParam(paramID ParamID, raw uint16) float64 {
	switch paramID {
	case ParamEmissivity, ParamSlope:
		return float64(raw) / 100.0
	default:
		return float64(raw)
	}
}
