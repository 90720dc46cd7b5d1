package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/reading"
	"github.com/pyroscan/pyroscan/internal/sqlstore"
)

func newTestReadingService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlstore.Open("sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := reading.Open(db)
	require.NoError(t, err)

	return &Service{Readings: store}
}

func TestReadingStatsReflectsAppendedRows(t *testing.T) {
	svc := newTestReadingService(t)
	now := time.Now().UTC()
	require.NoError(t, svc.Readings.AppendBatch(context.Background(), []reading.Reading{
		{DeviceID: "dev-1", DeviceName: "Furnace 1", At: now, Value: 500, Status: modbus.StatusOK},
	}))

	app := fiber.New()
	app.Get("/api/reading/stats", svc.readingStats)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/reading/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats reading.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalRows)
}

func TestReadingLatestUsesDTOShape(t *testing.T) {
	svc := newTestReadingService(t)
	now := time.Now().UTC()
	require.NoError(t, svc.Readings.AppendBatch(context.Background(), []reading.Reading{
		{DeviceID: "dev-1", DeviceName: "Furnace 1", At: now, Value: 500, Status: modbus.StatusOK},
	}))

	app := fiber.New()
	app.Get("/api/reading/latest", svc.readingLatest)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/reading/latest", nil))
	require.NoError(t, err)

	var entries []LatestEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "dev-1", entries[0].DeviceID)
	assert.Equal(t, "OK", entries[0].LatestReading.Status)
}
