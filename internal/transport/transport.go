// Package transport owns a single serial port handle and enforces Modbus
// RTU's inter-frame silence requirement. One Transport exists per distinct
// (com-port, baud, parity, stop-bits) tuple; it is not safe for concurrent
// callers - the Bus Arbiter guarantees single-caller access (spec §4.2).
package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

var (
	ErrTimeout = errors.New("transport: read timeout")
	ErrIO      = errors.New("transport: io error")
)

// Config identifies one serial port tuple. Framing is 8N1 unless a device
// profile overrides Parity/StopBits.
type Config struct {
	Port     string
	Baud     int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// DefaultConfig returns the 8N1 framing spec §4.2 mandates absent overrides.
func DefaultConfig(port string, baud int) Config {
	return Config{
		Port:     port,
		Baud:     baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// serialPort is the subset of go.bug.st/serial.Port that Transaction needs.
// Declaring it locally (rather than depending on serial.Port directly)
// lets tests substitute an in-memory fake without a real COM port.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Transport owns one COM port. Open/Close are idempotent; on a transient
// I/O error the caller is expected to Close then Open again before the
// next transaction.
type Transport struct {
	cfg  Config
	port serialPort

	lastTxnEnd   time.Time
	charDuration time.Duration
}

// New constructs a Transport for cfg without opening the port.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:          cfg,
		charDuration: charTime(cfg.Baud),
	}
}

// charTime returns the wire time of one UART character (1 start + 8 data +
// 1 stop bit, no parity) at the given baud rate.
func charTime(baud int) time.Duration {
	if baud <= 0 {
		baud = 9600
	}
	bits := 10.0
	return time.Duration(bits / float64(baud) * float64(time.Second))
}

// Open opens the underlying serial port if not already open.
func (t *Transport) Open() error {
	if t.port != nil {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: t.cfg.Baud,
		DataBits: t.cfg.DataBits,
		Parity:   t.cfg.Parity,
		StopBits: t.cfg.StopBits,
	}
	p, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", t.cfg.Port, err)
	}
	t.port = p
	return nil
}

// Close closes the underlying port if open. Idempotent.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Transaction performs one write-then-read exchange: flushes stray input,
// waits out the inter-frame gap since the previous transaction, writes
// request atomically, then reads until expectedReplyLen bytes arrive or
// readTimeout elapses. If bytes trickle in short, it keeps reading up to a
// 1.5 char-time intra-frame idle before giving up as a short frame.
func (t *Transport) Transaction(request []byte, expectedReplyLen int, readTimeout time.Duration) ([]byte, error) {
	if t.port == nil {
		if err := t.Open(); err != nil {
			return nil, err
		}
	}

	if err := t.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("%w: reset input buffer: %v", ErrIO, err)
	}

	t.awaitInterFrameGap()

	if _, err := t.writeAll(request); err != nil {
		return nil, err
	}

	resp, err := t.readFrame(expectedReplyLen, readTimeout)
	t.lastTxnEnd = time.Now()
	return resp, err
}

// interFrameGap is the minimum silence Modbus RTU requires between frames:
// 3.5 character times.
func (t *Transport) interFrameGap() time.Duration {
	return time.Duration(3.5 * float64(t.charDuration))
}

// intraFrameIdle is the maximum gap tolerated between bytes of the same
// frame before treating what arrived as the whole (possibly short) frame.
func (t *Transport) intraFrameIdle() time.Duration {
	return time.Duration(1.5 * float64(t.charDuration))
}

func (t *Transport) awaitInterFrameGap() {
	if t.lastTxnEnd.IsZero() {
		return
	}
	gap := t.interFrameGap()
	elapsed := time.Since(t.lastTxnEnd)
	if elapsed < gap {
		time.Sleep(gap - elapsed)
	}
}

func (t *Transport) writeAll(request []byte) (int, error) {
	n, err := t.port.Write(request)
	if err != nil {
		return n, fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n != len(request) {
		return n, fmt.Errorf("%w: short write: wrote %d of %d bytes", ErrIO, n, len(request))
	}
	return n, nil
}

func (t *Transport) readFrame(expectedReplyLen int, readTimeout time.Duration) ([]byte, error) {
	if err := t.port.SetReadTimeout(t.intraFrameIdle()); err != nil {
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
	}

	deadline := time.Now().Add(readTimeout)
	buf := make([]byte, 0, expectedReplyLen)
	chunk := make([]byte, 256)

	for len(buf) < expectedReplyLen {
		if time.Now().After(deadline) {
			if len(buf) == 0 {
				return nil, ErrTimeout
			}
			return buf, fmt.Errorf("%w: got %d of %d bytes before intra-frame idle", ErrIO, len(buf), expectedReplyLen)
		}
		n, err := t.port.Read(chunk)
		if err != nil {
			return buf, fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if n == 0 {
			// SetReadTimeout elapsed with no bytes: either the reply
			// hasn't started (keep waiting for readTimeout) or it
			// stopped mid-frame (intra-frame idle - bail as short).
			if len(buf) > 0 {
				return buf, fmt.Errorf("%w: got %d of %d bytes before intra-frame idle", ErrIO, len(buf), expectedReplyLen)
			}
			continue
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf, nil
}
