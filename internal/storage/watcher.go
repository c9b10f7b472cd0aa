package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch loads dataset files that appear in the data directory after startup,
// until ctx is done.
//
// Events are debounced: the rescan runs once no new event arrived for
// debounce, so a file being copied in is read once complete.
func (s *DatasetService) Watch(ctx context.Context, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dataDir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		timer := time.NewTimer(debounce)
		timer.Stop()
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if name := datasetName(event.Name); name != "" && !s.store.Has(name) {
					timer.Reset(debounce)
				}
			case <-timer.C:
				names, err := s.Rescan(ctx)
				if err != nil {
					slog.WarnContext(ctx, "Failed to rescan data directory", "err", err)
				} else if len(names) > 0 {
					slog.InfoContext(ctx, "New datasets detected", "names", names)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching data directory", "err", err)
			}
		}
	}()
	return nil
}
