package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the bursts of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads filename into a fresh value from newTarget whenever the file
// changes, and passes each successfully loaded value to onChange. Invalid
// files are logged and skipped. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename saves are picked up.
func Watch[T any](ctx context.Context, filename string, newTarget func() *T, logger *slog.Logger, onChange func(*T)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", filename, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	logger.Info("config watcher: started", slog.String("file", abs))

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-timerCh:
			timerCh = nil
			target := newTarget()
			if err := Load(abs, target); err != nil {
				logger.Warn("config watcher: reload failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("config watcher: reloaded", slog.String("file", abs))
			onChange(target)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
