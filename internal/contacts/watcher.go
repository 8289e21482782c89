package contacts

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/yanivian/connect-app-sub000/internal/bus"
)

const debounce = 250 * time.Millisecond

// Watcher publishes device.contacts_changed whenever the address-book file
// is written, created or replaced. Bursts of writes collapse into one event.
type Watcher struct {
	path   string
	bus    *bus.Bus
	logger *zap.Logger
	w      *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, b *bus.Bus, logger *zap.Logger) *Watcher {
	return &Watcher{path: path, bus: b, logger: logger}
}

// Start begins watching. The parent directory is watched so editors that
// replace the file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.w = fw
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	_ = w.w.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	target := filepath.Clean(w.path)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("address book watch error", zap.Error(err))
		case <-timer.C:
			w.logger.Debug("address book changed", zap.String("path", w.path))
			w.bus.Emit(bus.KindDeviceContactsChanged, w.path)
		case <-ctx.Done():
			return
		}
	}
}
