package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/reading"
)

func TestToReadingDTOFormatsTimestampWithoutTimezoneSuffix(t *testing.T) {
	at := time.Date(2026, 7, 30, 12, 34, 56, 789000000, time.UTC)
	r := reading.Reading{
		DeviceID:   "dev-1",
		DeviceName: "Furnace 1",
		At:         at,
		Value:      512.25,
		Status:     modbus.StatusOK,
		RawHex:     "03010202000000000",
	}

	dto := toReadingDTO(r)

	assert.Equal(t, "2026-07-30T12:34:56.789000", dto.Timestamp)
	assert.Equal(t, string(modbus.StatusOK), dto.Status)
	assert.Nil(t, dto.AmbientTemp)
}

func TestToLatestEntriesCarriesDeviceIdentity(t *testing.T) {
	at := time.Now().UTC()
	rs := []reading.Reading{
		{DeviceID: "dev-1", DeviceName: "Furnace 1", At: at, Value: 100, Status: modbus.StatusOK},
		{DeviceID: "dev-2", DeviceName: "Furnace 2", At: at, Value: 99, Status: modbus.StatusStale},
	}

	entries := toLatestEntries(rs)

	require.Len(t, entries, 2)
	assert.Equal(t, "dev-1", entries[0].DeviceID)
	assert.Equal(t, "Furnace 1", entries[0].DeviceName)
	assert.Equal(t, "dev-2", entries[1].DeviceID)
}

func TestParseQueryTimeRejectsTimezoneSuffix(t *testing.T) {
	_, err := parseQueryTime("2026-07-30T12:00:00Z")
	assert.Error(t, err)

	ts, err := parseQueryTime("2026-07-30T12:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}
