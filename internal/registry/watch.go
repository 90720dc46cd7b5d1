package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchConfigDir watches dir for dropped/edited *.json snapshot files and
// imports them into the store, then signals ConfigChanged so the Polling
// Scheduler reloads at its next cycle boundary. It runs until ctx is
// cancelled. A missing dir is logged and treated as "file-drop disabled"
// rather than a fatal error, since it is an optional deployment feature.
func (s *Store) WatchConfigDir(ctx context.Context, dir string, log *zap.Logger) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		log.Warn("device config drop directory unavailable, skipping watch", zap.String("dir", dir), zap.Error(err))
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("fsnotify init failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		log.Error("fsnotify watch failed", zap.String("dir", dir), zap.Error(err))
		return
	}

	// Debounce bursts of events from a single file write (editors commonly
	// emit several events per save) so one drop triggers one import.
	var debounce *time.Timer
	pending := ""

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = ev.Name
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				s.importDroppedFile(ctx, pending, log)
			})

		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("fsnotify error", zap.Error(werr))
		}
	}
}

func (s *Store) importDroppedFile(ctx context.Context, path string, log *zap.Logger) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		log.Warn("device config drop: read failed", zap.String("path", path), zap.Error(err))
		return
	}
	imported, skipped, err := s.ImportSnapshot(ctx, data)
	if err != nil {
		log.Warn("device config drop: import failed", zap.String("path", path), zap.Error(err))
		return
	}
	log.Info("device config drop imported",
		zap.String("path", path), zap.Int("imported", imported), zap.Int("skipped", skipped))
}
