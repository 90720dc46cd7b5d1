package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/modbus"
	"github.com/pyroscan/pyroscan/internal/sqlstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlstore.Open("sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Open(db)
	require.NoError(t, err)
	return s
}

func validDevice(name string, slaveID byte) Device {
	return Device{
		Name:          name,
		ComPort:       "/dev/ttyUSB0",
		BaudRate:      9600,
		SlaveID:       slaveID,
		FuncCode:      modbus.FuncReadHolding,
		StartReg:      0,
		RegisterCount: 2,
		Layout:        modbus.LayoutSingleFloat32,
		Graph:         true,
		GraphYMin:     0,
		GraphYMax:     500,
		Enabled:       true,
	}
}

func TestCreateGetList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.Create(ctx, validDevice("furnace-1", 1))
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "furnace-1", got.Name)
	assert.Equal(t, modbus.LayoutSingleFloat32, got.Layout)

	_, err = s.Create(ctx, validDevice("furnace-0", 2))
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Ordered by ascending slave id, not insertion order.
	assert.Equal(t, byte(1), list[0].SlaveID)
	assert.Equal(t, byte(2), list[1].SlaveID)
}

func TestCreateValidationError(t *testing.T) {
	s := newTestStore(t)
	bad := validDevice("bad", 1)
	bad.BaudRate = 300

	_, err := s.Create(context.Background(), bad)
	require.Error(t, err)
	var verr ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestCreateDuplicateNameConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, validDevice("dup", 1))
	require.NoError(t, err)

	_, err = s.Create(ctx, validDevice("dup", 2))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.Create(ctx, validDevice("to-update", 5))
	require.NoError(t, err)

	d.GraphYMax = 999
	updated, err := s.Update(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, float64(999), updated.GraphYMax)

	require.NoError(t, s.Delete(ctx, d.ID))
	_, err = s.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Delete(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfigChangedSignal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	select {
	case <-s.ConfigChanged():
		t.Fatal("expected no signal before any mutation")
	default:
	}

	_, err := s.Create(ctx, validDevice("signaler", 1))
	require.NoError(t, err)

	select {
	case <-s.ConfigChanged():
	default:
		t.Fatal("expected a ConfigChanged signal after Create")
	}
}

func TestImportSnapshotUpsertsByName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	existing, err := s.Create(ctx, validDevice("kiln", 1))
	require.NoError(t, err)

	snap := Snapshot{Devices: []Device{
		func() Device { d := validDevice("kiln", 1); d.GraphYMax = 1200; return d }(),
		validDevice("new-device", 9),
	}}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	imported, skipped, err := s.ImportSnapshot(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 0, skipped)

	got, err := s.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1200), got.GraphYMax)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
