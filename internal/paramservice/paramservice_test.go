package paramservice

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/arbiter"
	"github.com/pyroscan/pyroscan/internal/modbus"
)

type fakePauser struct {
	pauseErr   error
	paused     bool
	resumed    bool
}

func (p *fakePauser) Pause(ctx context.Context, maxWait time.Duration) error {
	if p.pauseErr != nil {
		return p.pauseErr
	}
	p.paused = true
	return nil
}

func (p *fakePauser) Resume() { p.resumed = true }

// fakeSubmitter serves holding-register reads/writes from an in-memory
// register file, so tests never touch a real bus.
type fakeSubmitter struct {
	registers map[uint16]uint16
	reads     []uint16
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{registers: make(map[uint16]uint16)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, txn arbiter.Transaction) arbiter.Result {
	req := txn.Request
	if len(req) < 6 {
		return arbiter.Result{Err: errors.New("short request")}
	}
	slave := req[0]
	funcCode := req[1]
	reg := binary.BigEndian.Uint16(req[2:4])

	switch funcCode {
	case modbus.FuncReadHolding:
		f.reads = append(f.reads, reg)
		value := f.registers[reg]
		raw := make([]byte, 2)
		binary.BigEndian.PutUint16(raw, value)
		resp := []byte{slave, funcCode, 2, raw[0], raw[1]}
		return arbiter.Result{Bytes: appendCRCBytes(resp)}
	case modbus.FuncWriteSingleReg:
		value := binary.BigEndian.Uint16(req[4:6])
		f.registers[reg] = value
		return arbiter.Result{Bytes: appendCRCBytes(req[:6])}
	default:
		return arbiter.Result{Err: errors.New("unsupported function")}
	}
}

func appendCRCBytes(frame []byte) []byte {
	crc := modbus.CRC16(frame)
	return append(append([]byte{}, frame...), byte(crc&0xFF), byte(crc>>8))
}

func newParamServiceFor(pauser *fakePauser, sub *fakeSubmitter) *Service {
	return New(DefaultConfig(), pauser, func(comPort string) (Submitter, bool) {
		return sub, true
	})
}

func TestWriteAndReadEmissivity(t *testing.T) {
	pauser := &fakePauser{}
	sub := newFakeSubmitter()
	svc := newParamServiceFor(pauser, sub)

	require.NoError(t, svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamEmissivity, 0.70))
	assert.True(t, pauser.paused)
	assert.True(t, pauser.resumed)

	v, err := svc.ReadParameter(context.Background(), "/dev/ttyUSB0", 1, ParamEmissivity)
	require.NoError(t, err)
	assert.InDelta(t, 0.70, v, 0.001)
}

func TestWriteParameterValidationRejectsOutOfRange(t *testing.T) {
	pauser := &fakePauser{}
	sub := newFakeSubmitter()
	svc := newParamServiceFor(pauser, sub)

	err := svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamEmissivity, 0.1)
	require.Error(t, err)
	var verr ErrValidation
	assert.ErrorAs(t, err, &verr)
	assert.False(t, pauser.paused, "invalid values must not trigger a pause")
}

func TestWriteParameterRejectsBadLimitOrder(t *testing.T) {
	pauser := &fakePauser{}
	sub := newFakeSubmitter()
	svc := newParamServiceFor(pauser, sub)

	require.NoError(t, svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamTempHigh, 500))
	err := svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamTempLow, 600)
	require.Error(t, err)
	var verr ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestPauseErrorSurfacesAsBusy(t *testing.T) {
	pauser := &fakePauser{pauseErr: errors.New("busy")}
	sub := newFakeSubmitter()
	svc := newParamServiceFor(pauser, sub)

	err := svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamEmissivity, 0.5)
	require.Error(t, err)
}

func TestReadAllFixedOrder(t *testing.T) {
	pauser := &fakePauser{}
	sub := newFakeSubmitter()
	svc := newParamServiceFor(pauser, sub)

	require.NoError(t, svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamEmissivity, 0.95))
	require.NoError(t, svc.WriteParameter(context.Background(), "/dev/ttyUSB0", 1, ParamTimeInterval, 30))

	all, err := svc.ReadAll(context.Background(), "/dev/ttyUSB0", 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 5}, sub.reads)
	assert.InDelta(t, 0.95, all.Emissivity, 0.001)
	assert.Equal(t, float64(30), all.TimeInterval)
}
