package reading

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"sr_no", "timestamp", "temperature", "ambient_temp", "status"}

// ExportCSV streams device history to w in the spec §6.2 layout: header
// row then one row per reading, oldest first, timestamps rendered as UTC
// "YYYY-MM-DD HH:MM:SS". It queries in pages rather than loading the
// whole range into memory, since an export can span a full retention
// window.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, deviceID string, start, end time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("reading: csv header: %w", err)
	}

	const page = 1000
	// HistoryAscending returns oldest-first; walk forward from start in
	// pages so rows land in the file in the same order across page
	// boundaries, keeping the whole export globally ascending.
	cursor := start
	srSeen := 0
	for {
		rows, err := s.HistoryAscending(ctx, deviceID, cursor, end, page)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			// at is stored as RFC3339Nano text, whose string order does not
			// always match time order (a whole-second "…39Z" sorts after
			// "…39.000000001Z"), so the query can hand back rows older than
			// the cursor that an earlier page already wrote.
			if r.At.Before(cursor) {
				continue
			}
			srSeen++
			ambient := ""
			if r.Ambient != nil {
				ambient = strconv.FormatFloat(float64(*r.Ambient), 'f', 1, 32)
			}
			rec := []string{
				strconv.Itoa(srSeen),
				r.At.UTC().Format("2006-01-02 15:04:05"),
				strconv.FormatFloat(float64(r.Value), 'f', 1, 32),
				ambient,
				string(r.Status),
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("reading: csv row: %w", err)
			}
		}
		if len(rows) < page {
			break
		}
		// Step the cursor just past the newest row returned, to fetch the
		// next page forward without repeating rows.
		cursor = rows[len(rows)-1].At.Add(time.Nanosecond)
	}

	cw.Flush()
	return cw.Error()
}
