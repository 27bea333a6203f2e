package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine ties the local store, remote store and asset syncer together
// and exposes the push, pull and full-sync entry points. All state that
// used to be ambient (the bucket-verified flag, the in-flight guard)
// lives on the engine so tests get a fresh one each time.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	assets *AssetSyncer

	// mu serializes sync calls: a scheduled push firing while a manual
	// sync runs simply waits its turn.
	mu sync.Mutex

	opTimeout  time.Duration
	onProgress func(table string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpTimeout bounds each remote table or storage operation. Zero
// disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opTimeout = d }
}

// WithProgress installs a callback invoked after each table completes,
// for CLI progress display.
func WithProgress(fn func(table string)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// NewEngine creates a sync engine. assets may be nil when no asset
// directory is configured; asset phases are then skipped entirely.
func NewEngine(local LocalStore, remote RemoteStore, assets *AssetSyncer, opts ...Option) *Engine {
	e := &Engine{
		local:     local,
		remote:    remote,
		assets:    assets,
		opTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FullSyncResult aggregates the two phases of a full sync.
type FullSyncResult struct {
	PushSkipped bool        `yaml:"push_skipped"`
	Push        *PushResult `yaml:"push,omitempty"`
	Pull        *PullResult `yaml:"pull,omitempty"`
}

// FullSync performs push then pull. When both anchor tables are empty
// locally the push phase is skipped: a freshly installed client has
// nothing to say and must not wipe remote data.
func (e *Engine) FullSync(ctx context.Context) (*FullSyncResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &FullSyncResult{}

	empty := true
	for _, table := range AnchorTables {
		n, err := e.local.CountRows(ctx, table)
		if err != nil {
			return nil, &TableError{Table: table, Op: "count rows", Err: err}
		}
		if n > 0 {
			empty = false
			break
		}
	}

	if empty {
		slog.Info("local store empty, skipping push phase")
		res.PushSkipped = true
	} else {
		push, err := e.push(ctx)
		if err != nil {
			return nil, fmt.Errorf("push phase: %w", err)
		}
		res.Push = push
	}

	pull, err := e.pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull phase: %w", err)
	}
	res.Pull = pull
	return res, nil
}

// TestConnection probes the remote data store with a trivial read and
// the object store with a bucket existence check, so "database down"
// and "storage down" are distinguishable diagnostics.
func (e *Engine) TestConnection(ctx context.Context) error {
	err := e.withOp(ctx, func(ctx context.Context) error {
		_, err := e.remote.FetchRows(ctx, Plan[0].Name)
		return err
	})
	if err != nil {
		return fmt.Errorf("remote data store unreachable: %w", err)
	}
	if e.assets != nil {
		err := e.withOp(ctx, func(ctx context.Context) error {
			_, err := e.assets.objects.BucketExists(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("remote storage unreachable: %w", err)
		}
	}
	return nil
}

// LastSync returns the persisted last-sync time, or nil if this client
// has never synced.
func (e *Engine) LastSync(ctx context.Context) (*time.Time, error) {
	value, ok, err := e.local.Setting(ctx, SettingLastSync)
	if err != nil || !ok {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("stored last-sync timestamp %q: %w", value, err)
	}
	return &ts, nil
}

// ImageDiagnostics reports local asset state without touching the
// network. Returns nil when no asset directory is configured.
func (e *Engine) ImageDiagnostics(ctx context.Context) (*Diagnostics, error) {
	if e.assets == nil {
		return nil, nil
	}
	return e.assets.Diagnose(ctx, e.local)
}

func (e *Engine) stampLastSync(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.local.SetSetting(ctx, SettingLastSync, now); err != nil {
		return fmt.Errorf("persist last-sync timestamp: %w", err)
	}
	return nil
}

// withOp runs one remote operation under the per-operation timeout.
// Cancellation of the parent context still propagates.
func (e *Engine) withOp(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.opTimeout <= 0 {
		return fn(ctx)
	}
	opctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return fn(opctx)
}

// runID tags every log line of one sync invocation.
func runID() string {
	return uuid.NewString()[:8]
}

func (e *Engine) progress(table string) {
	if e.onProgress != nil {
		e.onProgress(table)
	}
}
