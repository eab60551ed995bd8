package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nkiryanov/storefront/internal/logger"
)

const defaultDebounce = 100 * time.Millisecond

type resyncer interface {
	Resync() error
}

// Watcher observes the session file and resyncs the store when another process changes it
//
// The directory is watched, not the file: writes replace the file by rename.
// Bursts of events are collapsed into a single resync.
type Watcher struct {
	path     string
	store    resyncer
	debounce time.Duration
	logger   logger.Logger

	// Number of resyncs performed
	resyncs atomic.Int64
}

type WatcherOption func(w *Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(path string, store resyncer, l logger.Logger, opts ...WatcherOption) (*Watcher, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session file path: %w", err)
	}

	w := &Watcher{
		path:     abs,
		store:    store,
		debounce: defaultDebounce,
		logger:   logger.OrNoOp(l),
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Resyncs returns how many times store was resynced
func (w *Watcher) Resyncs() int64 {
	return w.resyncs.Load()
}

// Watch blocks until ctx is done. started (if not nil) is closed once the directory is watched
func (w *Watcher) Watch(ctx context.Context, started chan<- struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}
	defer fsw.Close() // nolint:errcheck

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session dir: %w", err)
	}

	w.logger.Info("Session watcher started", "path", w.path, "debounce", w.debounce)
	if started != nil {
		close(started)
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Session watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("Session file change detected", "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Session watcher error", "error", err)

		case <-timerCh:
			timer, timerCh = nil, nil

			w.resyncs.Add(1)
			if err := w.store.Resync(); err != nil {
				w.logger.Error("Failed to resync session", "error", err)
			}
		}
	}
}
