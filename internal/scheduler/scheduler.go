// Package scheduler triggers automatic pushes: on a fixed recurring
// interval, and (in daemon mode) when the asset directory changes.
// Overlap with manual syncs is handled by the engine's own
// serialization; the scheduler only decides when to ask.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Intervals is the set of allowed auto-push settings.
var Intervals = map[string]time.Duration{
	"off": 0,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
}

// ParseInterval maps a configured interval name to a duration. "off"
// yields zero.
func ParseInterval(name string) (time.Duration, error) {
	d, ok := Intervals[name]
	if !ok {
		return 0, fmt.Errorf("invalid auto-push interval %q", name)
	}
	return d, nil
}

// Scheduler owns the recurring auto-push timer. At most one timer is
// active; reconfiguring cancels and replaces it.
type Scheduler struct {
	trigger func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler that calls trigger on each firing.
func New(trigger func(ctx context.Context)) *Scheduler {
	return &Scheduler{trigger: trigger}
}

// SetInterval replaces any active timer with one at the given
// duration. Zero (or negative) stops scheduling entirely.
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if d <= 0 {
		slog.Info("auto push disabled")
		return
	}

	tctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				slog.Debug("auto push firing")
				s.trigger(tctx)
			}
		}
	}()
	slog.Info("auto push scheduled", "interval", d)
}

// Stop cancels any active timer and waits for in-flight firings.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
