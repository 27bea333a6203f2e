package sync

import (
	"context"
	"log/slog"
	"time"
)

// PushResult summarizes one local→remote reconciliation.
type PushResult struct {
	RowsPushed    int       `yaml:"rows_pushed"`
	Images        PushStats `yaml:"images"`
	AssetsDeleted int       `yaml:"assets_deleted"`
}

// Push reconciles local→remote: upsert every local row, delete remote
// orphans, then sync assets. Serialized against other sync calls.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.push(ctx)
}

func (e *Engine) push(ctx context.Context) (*PushResult, error) {
	log := slog.With("run", runID(), "phase", "push")
	start := time.Now()
	res := &PushResult{}

	// Verify storage before touching row data. Better to fail here than
	// to push half the dataset and then discover the bucket is unusable.
	if e.assets != nil {
		if err := e.withOp(ctx, e.assets.EnsureBucket); err != nil {
			return nil, err
		}
	}

	// Upsert pass, parents before children.
	for _, t := range Plan {
		rows, err := e.local.Rows(ctx, t.Name)
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "read local rows", Err: err}
		}
		if len(rows) == 0 {
			continue
		}
		remoteRows := make([]Row, 0, len(rows))
		for _, row := range rows {
			if row.Identity(t) == nil {
				return nil, &TableError{Table: t.Name, Op: "upsert", Err: ErrNoIdentity}
			}
			remoteRows = append(remoteRows, ToRemote(row, t))
		}
		err = e.withOp(ctx, func(ctx context.Context) error {
			return e.remote.UpsertRows(ctx, t.Name, t.IdentityColumn, remoteRows)
		})
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "upsert", Err: err}
		}
		res.RowsPushed += len(remoteRows)
		log.Debug("table pushed", "table", t.Name, "rows", len(remoteRows))
		e.progress(t.Name)
	}

	// Orphan pass, children before parents so remote foreign keys hold.
	for _, t := range Reversed() {
		rows, err := e.local.Rows(ctx, t.Name)
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "read local identities", Err: err}
		}
		derr := e.withOp(ctx, func(ctx context.Context) error {
			if len(rows) == 0 {
				// Local truth is empty, so remote becomes empty too.
				return e.remote.DeleteAllRows(ctx, t.Name)
			}
			keep := make([]any, 0, len(rows))
			for _, row := range rows {
				keep = append(keep, row.Identity(t))
			}
			return e.remote.DeleteRowsNotIn(ctx, t.Name, t.IdentityColumn, keep)
		})
		if derr != nil {
			if e.remote.IsPermissionDenied(derr) {
				log.Warn("orphan deletion denied, continuing", "table", t.Name, "error", derr)
				continue
			}
			return nil, &TableError{Table: t.Name, Op: "delete orphans", Err: derr}
		}
	}

	if e.assets != nil {
		stats, err := e.assets.PushAssets(ctx, e.local)
		if err != nil {
			return nil, err
		}
		res.Images = stats
		res.AssetsDeleted = e.assets.DeleteOrphanedAssets(ctx, e.local)
	}

	if err := e.stampLastSync(ctx); err != nil {
		return nil, err
	}

	log.Info("push complete",
		"rows", res.RowsPushed,
		"images_uploaded", res.Images.Uploaded,
		"duration_s", time.Since(start).Seconds())
	return res, nil
}
