package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/sqlstore"
)

// ErrNotFound is returned by Get/Update/Delete when no device matches id.
var ErrNotFound = errors.New("registry: device not found")

// ErrConflict is returned by Create/Update when name collides with another
// device's name.
var ErrConflict = errors.New("registry: device name already in use")

const createTableSQL = `
CREATE TABLE IF NOT EXISTS devices (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	com_port        TEXT NOT NULL,
	baud_rate       INTEGER NOT NULL,
	slave_id        INTEGER NOT NULL,
	func_code       INTEGER NOT NULL,
	start_reg       INTEGER NOT NULL,
	register_count  INTEGER NOT NULL,
	layout          INTEGER NOT NULL,
	graph           INTEGER NOT NULL,
	graph_y_min     REAL NOT NULL,
	graph_y_max     REAL NOT NULL,
	enabled         INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
)`

// Store is the Device Registry: sqlstore-backed CRUD plus a ConfigChanged
// signal the Polling Scheduler selects on to know when to reload.
type Store struct {
	db      *sqlstore.DB
	changed chan struct{}
}

// Open migrates the devices table (if absent) and returns a ready Store.
func Open(db *sqlstore.DB) (*Store, error) {
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Store{db: db, changed: make(chan struct{}, 1)}, nil
}

// ConfigChanged fires (non-blocking, coalesced) whenever a device is
// created, updated, deleted, or the on-disk config drop directory changes.
// The Polling Scheduler selects on this channel and reloads its device
// snapshot at the next cycle boundary (spec §4.5).
func (s *Store) ConfigChanged() <-chan struct{} {
	return s.changed
}

// NotifyExternalChange lets a caller outside the CRUD methods (the
// fsnotify-backed config-drop watcher) signal that devices may have
// changed on disk and the scheduler should reload.
func (s *Store) NotifyExternalChange() {
	s.signalChanged()
}

func (s *Store) signalChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// List returns every device ordered by ascending slave id, the same order
// the Polling Scheduler polls them in within a bus.
func (s *Store) List(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY slave_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get returns one device by id.
func (s *Store) Get(ctx context.Context, id string) (Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = `+s.db.Placeholder(1), id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("registry: get: %w", err)
	}
	return d, nil
}

// Create validates d, assigns it a uuid, and inserts it.
func (s *Store) Create(ctx context.Context, d Device) (Device, error) {
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	d.ID = uuid.NewString()
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, insertSQL(s.db),
		d.ID, d.Name, d.ComPort, d.BaudRate, d.SlaveID, d.FuncCode, d.StartReg,
		d.RegisterCount, int(d.Layout), boolToInt(d.Graph), d.GraphYMin, d.GraphYMax,
		boolToInt(d.Enabled), d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return Device{}, ErrConflict
	}
	if err != nil {
		return Device{}, fmt.Errorf("registry: create: %w", err)
	}
	s.signalChanged()
	return d, nil
}

// Update validates d and overwrites the row matching d.ID.
func (s *Store) Update(ctx context.Context, d Device) (Device, error) {
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	d.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, updateSQL(s.db),
		d.Name, d.ComPort, d.BaudRate, d.SlaveID, d.FuncCode, d.StartReg,
		d.RegisterCount, int(d.Layout), boolToInt(d.Graph), d.GraphYMin, d.GraphYMax,
		boolToInt(d.Enabled), d.UpdatedAt.Format(time.RFC3339Nano), d.ID)
	if isUniqueViolation(err) {
		return Device{}, ErrConflict
	}
	if err != nil {
		return Device{}, fmt.Errorf("registry: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Device{}, ErrNotFound
	}
	s.signalChanged()
	return s.Get(ctx, d.ID)
}

// Delete removes the device matching id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = `+s.db.Placeholder(1), id)
	if err != nil {
		return fmt.Errorf("registry: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.signalChanged()
	return nil
}

// DeleteAll wipes every device from the registry. Used by the
// POST /config/clear-settings endpoint.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("registry: delete all: %w", err)
	}
	s.signalChanged()
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const deviceColumns = `id, name, com_port, baud_rate, slave_id, func_code, start_reg, register_count, layout, graph, graph_y_min, graph_y_max, enabled, created_at, updated_at`

func insertSQL(db *sqlstore.DB) string {
	ph := make([]string, 15)
	for i := range ph {
		ph[i] = db.Placeholder(i + 1)
	}
	return fmt.Sprintf(`INSERT INTO devices (%s) VALUES (%s)`, deviceColumns, strings.Join(ph, ", "))
}

func updateSQL(db *sqlstore.DB) string {
	return fmt.Sprintf(`UPDATE devices SET name=%s, com_port=%s, baud_rate=%s, slave_id=%s, func_code=%s,
		start_reg=%s, register_count=%s, layout=%s, graph=%s, graph_y_min=%s, graph_y_max=%s,
		enabled=%s, updated_at=%s WHERE id=%s`,
		db.Placeholder(1), db.Placeholder(2), db.Placeholder(3), db.Placeholder(4), db.Placeholder(5),
		db.Placeholder(6), db.Placeholder(7), db.Placeholder(8), db.Placeholder(9), db.Placeholder(10),
		db.Placeholder(11), db.Placeholder(12), db.Placeholder(13), db.Placeholder(14))
}

// rowScanner abstracts *sql.Row and *sql.Rows, which share a Scan signature
// but no common interface in database/sql.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (Device, error) {
	var d Device
	var layout, graph, enabled int
	var createdAt, updatedAt string

	err := r.Scan(&d.ID, &d.Name, &d.ComPort, &d.BaudRate, &d.SlaveID, &d.FuncCode, &d.StartReg,
		&d.RegisterCount, &layout, &graph, &d.GraphYMin, &d.GraphYMax, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return Device{}, err
	}
	d.Layout = modbus.Layout(layout)
	d.Graph = graph != 0
	d.Enabled = enabled != 0
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return d, nil
}
