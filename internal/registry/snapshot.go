package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// Snapshot is the JSON shape used for both the device-config drop
// directory (fsnotify-triggered reload) and the S3 registry backup
// (internal/backup): a flat list of devices.
type Snapshot struct {
	Devices []Device `json:"devices"`
}

// ExportSnapshot serialises every device currently in the store.
func (s *Store) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	devices, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Devices: devices}, nil
}

// ImportSnapshot upserts each device in data by name: an existing name is
// updated in place (preserving its id), anything new is created. It is
// intentionally forgiving of a single bad record — invalid devices are
// skipped rather than aborting the whole import, since this runs
// unattended from a file-drop or disaster-recovery restore.
func (s *Store) ImportSnapshot(ctx context.Context, data []byte) (imported, skipped int, err error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, 0, fmt.Errorf("registry: import snapshot: %w", err)
	}

	existing, err := s.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	byName := make(map[string]Device, len(existing))
	for _, d := range existing {
		byName[d.Name] = d
	}

	for _, d := range snap.Devices {
		if cur, ok := byName[d.Name]; ok {
			d.ID = cur.ID
			if _, err := s.Update(ctx, d); err != nil {
				skipped++
				continue
			}
		} else {
			if _, err := s.Create(ctx, d); err != nil {
				skipped++
				continue
			}
		}
		imported++
	}
	return imported, skipped, nil
}
