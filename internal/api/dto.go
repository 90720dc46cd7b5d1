package api

import (
	"time"

	"github.com/pyroscan/pyroscan/internal/reading"
)

// readingTimeFormat is the wire format spec §6.1 mandates: UTC,
// microsecond precision, no timezone suffix.
const readingTimeFormat = "2006-01-02T15:04:05.000000"

// ReadingDTO is the JSON shape documented in spec §6.1's Reading object.
type ReadingDTO struct {
	DeviceID     string  `json:"device_id"`
	Timestamp    string  `json:"timestamp"`
	Value        float32 `json:"value"`
	AmbientTemp  *float32 `json:"ambient_temp,omitempty"`
	Status       string  `json:"status"`
	RawHex       string  `json:"raw_hex,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func toReadingDTO(r reading.Reading) ReadingDTO {
	return ReadingDTO{
		DeviceID:     r.DeviceID,
		Timestamp:    r.At.UTC().Format(readingTimeFormat),
		Value:        r.Value,
		AmbientTemp:  r.Ambient,
		Status:       string(r.Status),
		RawHex:       r.RawHex,
		ErrorMessage: r.ErrMessage,
	}
}

func toReadingDTOs(rs []reading.Reading) []ReadingDTO {
	out := make([]ReadingDTO, len(rs))
	for i, r := range rs {
		out[i] = toReadingDTO(r)
	}
	return out
}

// LatestEntry is the wire shape for GET /reading/latest.
type LatestEntry struct {
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	LatestReading ReadingDTO `json:"latest_reading"`
}

func toLatestEntries(rs []reading.Reading) []LatestEntry {
	out := make([]LatestEntry, len(rs))
	for i, r := range rs {
		out[i] = LatestEntry{
			DeviceID:      r.DeviceID,
			DeviceName:    r.DeviceName,
			LatestReading: toReadingDTO(r),
		}
	}
	return out
}

// parseQueryTime parses the no-suffix ISO timestamp spec §6.1 mandates
// for query parameters, treating it as UTC.
func parseQueryTime(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
}
