package reading

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/sqlstore"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS readings (
	sr_no         INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id     TEXT NOT NULL,
	device_name   TEXT NOT NULL,
	at            TEXT NOT NULL,
	value         REAL,
	ambient       REAL,
	status        TEXT NOT NULL,
	raw_hex       TEXT,
	err_message   TEXT
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_readings_device_at ON readings(device_id, at)`

// Store is the Reading Store: append-only history plus derived views.
type Store struct {
	db *sqlstore.DB
}

// Open migrates the readings table (if absent) and returns a ready Store.
func Open(db *sqlstore.DB) (*Store, error) {
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("reading: migrate table: %w", err)
	}
	if _, err := db.Exec(createIndexSQL); err != nil {
		return nil, fmt.Errorf("reading: migrate index: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendBatch inserts every reading in batch within one transaction. This
// is the sink the Write-Back Buffer flushes into (spec §4.7); it is never
// called once per poll cycle.
func (s *Store) AppendBatch(ctx context.Context, batch []Reading) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reading: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(s.db))
	if err != nil {
		return fmt.Errorf("reading: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		var ambient any
		if r.Ambient != nil {
			ambient = float64(*r.Ambient)
		}
		if _, err := stmt.ExecContext(ctx, r.DeviceID, r.DeviceName,
			r.At.Format(time.RFC3339Nano), float64(r.Value), ambient,
			string(r.Status), r.RawHex, r.ErrMessage); err != nil {
			return fmt.Errorf("reading: insert: %w", err)
		}
	}
	return tx.Commit()
}

func insertSQL(db *sqlstore.DB) string {
	ph := make([]string, 8)
	for i := range ph {
		ph[i] = db.Placeholder(i + 1)
	}
	return fmt.Sprintf(`INSERT INTO readings (device_id, device_name, at, value, ambient, status, raw_hex, err_message)
		VALUES (%s)`, strings.Join(ph, ", "))
}

const readingColumns = `sr_no, device_id, device_name, at, value, ambient, status, raw_hex, err_message`

// Latest returns the most recent reading per device, across every device
// that has ever reported (spec §6.1 GET /api/reading/latest).
func (s *Store) Latest(ctx context.Context) ([]Reading, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM readings r
		WHERE r.sr_no = (SELECT MAX(sr_no) FROM readings WHERE device_id = r.device_id)
		ORDER BY r.device_name ASC`, readingColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading: latest: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// History returns readings for one device within [start, end], newest
// first, capped at limit rows (0 means unlimited).
func (s *Store) History(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]Reading, error) {
	db := s.db
	query := fmt.Sprintf(`SELECT %s FROM readings WHERE device_id = %s AND at >= %s AND at <= %s
		ORDER BY sr_no DESC`, readingColumns, db.Placeholder(1), db.Placeholder(2), db.Placeholder(3))
	args := []any{deviceID, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading: history: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// HistoryAscending returns readings for one device within [start, end],
// oldest first, capped at limit rows (0 means unlimited). It backs
// ExportCSV, which must page forward through a range without ever
// reordering rows across pages.
func (s *Store) HistoryAscending(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]Reading, error) {
	db := s.db
	query := fmt.Sprintf(`SELECT %s FROM readings WHERE device_id = %s AND at >= %s AND at <= %s
		ORDER BY sr_no ASC`, readingColumns, db.Placeholder(1), db.Placeholder(2), db.Placeholder(3))
	args := []any{deviceID, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading: history ascending: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Stats summarises store size and span, used by GET /api/reading/stats.
type Stats struct {
	TotalRows int64     `json:"total_readings"`
	OldestAt  time.Time `json:"oldest_at,omitempty"`
	NewestAt  time.Time `json:"newest_at,omitempty"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var count int64
	var oldest, newest sql.NullString

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MIN(at), MAX(at) FROM readings`)
	if err := row.Scan(&count, &oldest, &newest); err != nil {
		return Stats{}, fmt.Errorf("reading: stats: %w", err)
	}
	st.TotalRows = count
	if oldest.Valid {
		st.OldestAt, _ = time.Parse(time.RFC3339Nano, oldest.String)
	}
	if newest.Valid {
		st.NewestAt, _ = time.Parse(time.RFC3339Nano, newest.String)
	}
	return st, nil
}

// DeleteAll truncates the reading history. Nothing in this module calls
// it: the retention job uses DeleteOlderThan, and the config "clear
// settings" endpoint wipes only the device registry.
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM readings`)
	if err != nil {
		return fmt.Errorf("reading: delete all: %w", err)
	}
	return nil
}

// DeleteOlderThan removes every row older than cutoff, returning the
// number of rows removed. This is what internal/retention's cron job
// calls on a RETENTION_DAYS schedule.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE at < `+s.db.Placeholder(1),
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("reading: delete older than: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(r rowScanner) (Reading, error) {
	var rd Reading
	var srNo int64
	var at string
	var value sql.NullFloat64
	var ambient sql.NullFloat64
	var status, rawHex, errMsg sql.NullString

	err := r.Scan(&srNo, &rd.DeviceID, &rd.DeviceName, &at, &value, &ambient, &status, &rawHex, &errMsg)
	if err != nil {
		return Reading{}, err
	}
	rd.At, _ = time.Parse(time.RFC3339Nano, at)
	if value.Valid {
		rd.Value = float32(value.Float64)
	}
	if ambient.Valid {
		a := float32(ambient.Float64)
		rd.Ambient = &a
	}
	rd.Status = modbus.Status(status.String)
	rd.RawHex = rawHex.String
	rd.ErrMessage = errMsg.String
	return rd, nil
}

func scanAll(rows *sql.Rows) ([]Reading, error) {
	var out []Reading
	for rows.Next() {
		r, err := scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("reading: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
