package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestCRC(t *testing.T) {
	// 01 03 00 00 00 01 <crc> is the canonical frame from spec §8 scenario 1.
	frame := BuildRequest(1, FuncReadHolding, 0, 1)
	require.Len(t, frame, 8)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, frame[:6])
	assert.Equal(t, uint16(0), CRC16(frame))
}

func TestParseReadResponseHappyPath(t *testing.T) {
	reply := []byte{0x01, 0x03, 0x02, 0x01, 0x2C}
	reply = appendCRC(reply)

	resp, err := ParseReadResponse(reply, 1, FuncReadHolding, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x2C}, resp.Raw)

	decoded, err := DecodeTemperature(resp.Raw, 1, LayoutSingleFloat32)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, decoded.Value, 0.001)
}

func TestParseReadResponseShortFrame(t *testing.T) {
	_, err := ParseReadResponse([]byte{0x01, 0x03}, 1, FuncReadHolding, 2)
	require.Error(t, err)
	var shortErr ErrFrameShort
	assert.ErrorAs(t, err, &shortErr)
}

func TestParseReadResponseCRCMismatch(t *testing.T) {
	reply := []byte{0x01, 0x03, 0x02, 0x01, 0x2C, 0x00, 0x00}
	_, err := ParseReadResponse(reply, 1, FuncReadHolding, 2)
	var crcErr ErrCRCMismatch
	assert.ErrorAs(t, err, &crcErr)
}

func TestParseReadResponseEchoMismatch(t *testing.T) {
	reply := []byte{0x02, 0x03, 0x02, 0x01, 0x2C}
	reply = appendCRC(reply)
	_, err := ParseReadResponse(reply, 1, FuncReadHolding, 2)
	var echoErr ErrEchoMismatch
	assert.ErrorAs(t, err, &echoErr)
}

func TestParseReadResponseException(t *testing.T) {
	reply := []byte{0x01, 0x83, 0x02}
	reply = appendCRC(reply)
	_, err := ParseReadResponse(reply, 1, FuncReadHolding, 2)
	var exErr ErrModbusException
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, byte(0x02), exErr.Code)
}

func TestDecodeTemperatureFloat32RoundTrip(t *testing.T) {
	want := float32(123.45)
	raw := EncodeTemperatureFloat32(want)
	decoded, err := DecodeTemperature(raw, 2, LayoutSingleFloat32)
	require.NoError(t, err)
	assert.InDelta(t, want, decoded.Value, 0.001)
}

func TestDecodeTemperaturePrimaryAmbient(t *testing.T) {
	raw := []byte{0x01, 0x2C, 0x00, 0xC8} // 30.0, 20.0
	decoded, err := DecodeTemperature(raw, 2, LayoutPrimaryAmbientU16)
	require.NoError(t, err)
	require.NotNil(t, decoded.Ambient)
	assert.InDelta(t, 30.0, decoded.Value, 0.001)
	assert.InDelta(t, 20.0, *decoded.Ambient, 0.001)
}

func TestBuildWriteSingle(t *testing.T) {
	frame := BuildWriteSingle(3, 10, 95)
	require.Len(t, frame, 8)
	assert.Equal(t, byte(FuncWriteSingleReg), frame[1])
	assert.Equal(t, uint16(0), CRC16(frame))
}
