// Package modbus implements the Modbus RTU wire codec: frame construction,
// CRC-16/Modbus, response parsing, and register-pair temperature decoding.
// It is a pure function module - no I/O, no state.
package modbus

import "fmt"

// ErrFrameShort means fewer bytes arrived than the frame requires.
type ErrFrameShort struct {
	Got, Want int
}

func (e ErrFrameShort) Error() string {
	return fmt.Sprintf("modbus: short frame: got %d bytes, want %d", e.Got, e.Want)
}

// ErrCRCMismatch means the trailing CRC-16 did not match the computed value.
type ErrCRCMismatch struct {
	Got, Want uint16
}

func (e ErrCRCMismatch) Error() string {
	return fmt.Sprintf("modbus: CRC mismatch: got %04X, want %04X", e.Got, e.Want)
}

// ErrEchoMismatch means the slave id or function code in the response did
// not match what was requested.
type ErrEchoMismatch struct {
	Field          string
	Got, Want byte
}

func (e ErrEchoMismatch) Error() string {
	return fmt.Sprintf("modbus: echo mismatch on %s: got %d, want %d", e.Field, e.Got, e.Want)
}

// ErrModbusException carries a Modbus exception code returned by the slave.
type ErrModbusException struct {
	Code byte
}

func (e ErrModbusException) Error() string {
	return fmt.Sprintf("modbus: exception response, code=%d (%s)", e.Code, exceptionName(e.Code))
}

func exceptionName(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave device busy"
	default:
		return "unknown"
	}
}

// ErrDecodeRange means the register payload could not be decoded into a
// usable value (a NaN or infinite float, or an unsupported register
// count). No physical temperature range is checked.
type ErrDecodeRange struct {
	Value float32
}

func (e ErrDecodeRange) Error() string {
	return fmt.Sprintf("modbus: decoded value %.2f out of range", e.Value)
}
