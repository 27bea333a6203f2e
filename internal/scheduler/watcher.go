package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the asset directory and emits one debounced trigger
// per burst of file changes, so copying twenty product photos in
// schedules one push, not twenty.
type Watcher struct {
	fsw     *fsnotify.Watcher
	trigger func(ctx context.Context)
	delay   time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher starts watching dir. Each settled burst of events invokes
// trigger once, debounceMs after the last event.
func NewWatcher(dir string, debounceMs int, trigger func(ctx context.Context)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		fsw:     fsw,
		trigger: trigger,
		delay:   time.Duration(debounceMs) * time.Millisecond,
	}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("asset directory changed", "path", event.Name, "op", event.Op.String())
			w.bump(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("asset watcher error", "error", err)
		}
	}
}

// bump resets the debounce timer; the trigger fires once the directory
// has been quiet for the full delay.
func (w *Watcher) bump(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("asset change burst settled, triggering push")
		w.trigger(ctx)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.fsw.Close()
}
