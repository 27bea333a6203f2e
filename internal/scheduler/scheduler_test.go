package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		name    string
		want    time.Duration
		wantErr bool
	}{
		{"off", 0, false},
		{"1m", time.Minute, false},
		{"5m", 5 * time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"30m", 30 * time.Minute, false},
		{"2m", 0, true},
		{"", 0, true},
		{"hourly", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInterval(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSchedulerFires(t *testing.T) {
	var fired atomic.Int32
	s := New(func(ctx context.Context) { fired.Add(1) })

	s.SetInterval(context.Background(), 10*time.Millisecond)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for fired.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("fired %d times, want at least 2", fired.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSetIntervalReplacesTimer(t *testing.T) {
	var slow, fast atomic.Int32
	var current atomic.Pointer[atomic.Int32]
	current.Store(&slow)
	s := New(func(ctx context.Context) { current.Load().Add(1) })

	s.SetInterval(context.Background(), time.Hour)
	current.Store(&fast)
	s.SetInterval(context.Background(), 10*time.Millisecond)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for fast.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("replacement timer never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if slow.Load() != 0 {
		t.Errorf("original timer fired %d times after replacement", slow.Load())
	}
}

func TestSetIntervalOffStopsTimer(t *testing.T) {
	var fired atomic.Int32
	s := New(func(ctx context.Context) { fired.Add(1) })

	s.SetInterval(context.Background(), 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.SetInterval(context.Background(), 0)
	n := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != n {
		t.Errorf("timer fired after being disabled: %d -> %d", n, fired.Load())
	}
	s.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(func(ctx context.Context) {})
	s.SetInterval(context.Background(), time.Hour)
	s.Stop()
	s.Stop()
}
