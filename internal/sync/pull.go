package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PullResult summarizes one remote→local reconciliation.
type PullResult struct {
	RowsPulled       int `yaml:"rows_pulled"`
	ImagesDownloaded int `yaml:"images_downloaded"`
}

// Pull reconciles remote→local: replace local tables with the remote
// row sets, then download missing assets. Remote rows are never deleted
// by a pull, and the protected settings keys are never overwritten.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pull(ctx)
}

func (e *Engine) pull(ctx context.Context) (*PullResult, error) {
	log := slog.With("run", runID(), "phase", "pull")
	start := time.Now()
	res := &PullResult{}

	// Tables are replaced one at a time, which transiently violates
	// local foreign keys. Enforcement is suspended for the duration and
	// restored no matter how the pull ends.
	if err := e.local.SetForeignKeys(ctx, false); err != nil {
		return nil, fmt.Errorf("suspend foreign keys: %w", err)
	}
	defer func() {
		restore := context.WithoutCancel(ctx)
		if err := e.local.SetForeignKeys(restore, true); err != nil {
			log.Error("failed to restore foreign key enforcement", "error", err)
		}
	}()

	for _, t := range Plan {
		var rows []Row
		err := e.withOp(ctx, func(ctx context.Context) error {
			var ferr error
			rows, ferr = e.remote.FetchRows(ctx, t.Name)
			return ferr
		})
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "fetch remote rows", Err: err}
		}
		if t.Keyed {
			n, err := e.pullSettings(ctx, rows)
			if err != nil {
				return nil, &TableError{Table: t.Name, Op: "upsert settings", Err: err}
			}
			res.RowsPulled += n
			e.progress(t.Name)
			continue
		}
		if len(rows) == 0 {
			// An empty remote table is not applied: replace-with-nothing
			// is indistinguishable from a table that was never pushed.
			continue
		}
		localRows := make([]Row, 0, len(rows))
		for _, row := range rows {
			localRows = append(localRows, ToLocal(row, t))
		}
		if err := e.local.ReplaceRows(ctx, t.Name, localRows); err != nil {
			return nil, &TableError{Table: t.Name, Op: "replace local rows", Err: err}
		}
		res.RowsPulled += len(localRows)
		log.Debug("table pulled", "table", t.Name, "rows", len(localRows))
		e.progress(t.Name)
	}

	if e.assets != nil {
		names, err := ReferencedAssets(ctx, e.local)
		if err != nil {
			return nil, err
		}
		res.ImagesDownloaded, err = e.assets.PullAssets(ctx, names)
		if err != nil {
			return nil, err
		}
	}

	if err := e.stampLastSync(ctx); err != nil {
		return nil, err
	}

	log.Info("pull complete",
		"rows", res.RowsPulled,
		"images_downloaded", res.ImagesDownloaded,
		"duration_s", time.Since(start).Seconds())
	return res, nil
}

// pullSettings applies remote settings rows by key, dropping the
// protected credential keys so a pull can never overwrite the values
// that made it possible.
func (e *Engine) pullSettings(ctx context.Context, rows []Row) (int, error) {
	applied := 0
	for _, row := range rows {
		key, _ := row["key"].(string)
		if key == "" || isProtectedKey(key) {
			continue
		}
		value := ""
		if v := row["value"]; v != nil {
			value = fmt.Sprint(v)
		}
		if err := e.local.SetSetting(ctx, key, value); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func isProtectedKey(key string) bool {
	for _, p := range ProtectedSettingKeys {
		if key == p {
			return true
		}
	}
	return false
}
