// Package watch reloads the timeline when its input file changes on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/waypoint/internal/checksum"
)

// DefaultDebounce is the quiet period after the last event before reloading.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc is called once the input file has settled with new contents.
type ReloadFunc func(ctx context.Context) error

// Watch starts an fsnotify watcher on the directory holding path and calls
// reload whenever the file settles with a checksum different from the last
// one seen. It returns when ctx is cancelled.
//
// The directory is watched rather than the file so that editors which save
// by rename keep being observed. Bursts of events are debounced.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, reload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target := filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}

	last, err := checksum.File(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("watcher: initial checksum failed", slog.String("path", target), slog.String("error", err.Error()))
	}

	logger.Info("watcher: started", slog.String("path", target))

	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(debounce)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			sum, sumErr := checksum.File(target)
			if sumErr != nil {
				logger.Debug("watcher: input not readable", slog.String("path", target), slog.String("error", sumErr.Error()))
				continue
			}
			if sum == last {
				continue
			}
			if reloadErr := reload(ctx); reloadErr != nil {
				logger.Warn("watcher: reload failed", slog.String("path", target), slog.String("error", reloadErr.Error()))
				continue
			}
			last = sum
			logger.Info("watcher: reloaded", slog.String("path", target))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
