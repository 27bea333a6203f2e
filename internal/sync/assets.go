package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
)

// AssetSyncer moves row-referenced image files between the local asset
// directory and the remote bucket. Asset identity is the bare filename;
// multiple rows referencing the same file cost one transfer.
type AssetSyncer struct {
	objects ObjectStore
	dir     string
	ignore  []string

	// verified caches a successful bucket check for the life of the
	// engine so repeated syncs skip it. Staleness only costs one extra
	// existence check.
	verified bool
}

// NewAssetSyncer returns a syncer rooted at dir. ignore holds doublestar
// patterns excluded from directory scans.
func NewAssetSyncer(objects ObjectStore, dir string, ignore []string) *AssetSyncer {
	return &AssetSyncer{objects: objects, dir: dir, ignore: ignore}
}

// PushStats reports the outcome of one asset push.
type PushStats struct {
	Uploaded        int `yaml:"uploaded"`
	Skipped         int `yaml:"skipped"`
	TotalReferenced int `yaml:"total_referenced"`
}

// AssetName derives an asset filename from a row's image reference:
// any protocol prefix is stripped and the path's base taken. Empty
// references yield "".
func AssetName(ref string) string {
	if ref == "" {
		return ""
	}
	if i := strings.Index(ref, "://"); i >= 0 {
		ref = ref[i+len("://"):]
	}
	name := path.Base(strings.ReplaceAll(ref, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// ReferencedAssets collects the distinct asset filenames referenced by
// local rows across every plan table with an image column.
func ReferencedAssets(ctx context.Context, store LocalStore) ([]string, error) {
	seen := make(map[string]struct{})
	for _, t := range Plan {
		if t.ImageColumn == "" {
			continue
		}
		rows, err := store.Rows(ctx, t.Name)
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "read image references", Err: err}
		}
		for _, row := range rows {
			ref, _ := row[t.ImageColumn].(string)
			if name := AssetName(ref); name != "" {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureBucket verifies the bucket exists, creating it when absent.
// Already-exists and access-denied creation responses are treated as
// success: restricted service accounts commonly may write objects but
// not create buckets. Success is cached on the syncer.
func (a *AssetSyncer) EnsureBucket(ctx context.Context) error {
	if a.verified {
		return nil
	}
	exists, err := a.objects.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("bucket existence check: %w", err)
	}
	if !exists {
		if err := a.objects.MakeBucket(ctx); err != nil {
			if !a.objects.IsAccessDenied(err) {
				return fmt.Errorf("bucket creation: %w", err)
			}
			slog.Warn("bucket creation denied, assuming it already exists", "error", err)
		} else {
			slog.Info("created asset bucket")
		}
	}
	a.verified = true
	return nil
}

// PushAssets uploads every referenced asset present in the local asset
// directory. A referenced file missing locally is counted as skipped
// and sync continues; an upload failure is fatal, since a half-applied
// upload leaves remote state untrustworthy.
func (a *AssetSyncer) PushAssets(ctx context.Context, store LocalStore) (PushStats, error) {
	names, err := ReferencedAssets(ctx, store)
	if err != nil {
		return PushStats{}, err
	}
	stats := PushStats{TotalReferenced: len(names)}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(a.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				slog.Debug("referenced asset missing locally, skipping", "asset", name)
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("read asset %s: %w", name, err)
		}
		contentType := mimetype.Detect(data).String()
		if err := a.objects.Upload(ctx, name, data, contentType); err != nil {
			return stats, fmt.Errorf("upload asset %s: %w", name, err)
		}
		stats.Uploaded++
	}
	slog.Info("assets pushed",
		"uploaded", stats.Uploaded,
		"skipped", stats.Skipped,
		"referenced", stats.TotalReferenced)
	return stats, nil
}

// PullAssets downloads each referenced asset not already present
// locally. Presence is the skip criterion, not content comparison:
// avoiding egress is the point. A missing remote object is tolerated,
// the asset may simply never have been pushed.
func (a *AssetSyncer) PullAssets(ctx context.Context, names []string) (int, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return 0, fmt.Errorf("create asset directory: %w", err)
	}
	downloaded := 0
	for _, name := range names {
		local := filepath.Join(a.dir, name)
		if _, err := os.Stat(local); err == nil {
			continue
		}
		data, err := a.objects.Download(ctx, name)
		if err != nil {
			if a.objects.IsNotFound(err) {
				slog.Debug("asset not in bucket, skipping", "asset", name)
				continue
			}
			slog.Warn("asset download failed", "asset", name, "error", err)
			continue
		}
		if err := os.WriteFile(local, data, 0644); err != nil {
			slog.Warn("asset write failed", "asset", name, "error", err)
			continue
		}
		downloaded++
	}
	return downloaded, nil
}

// DeleteOrphanedAssets removes bucket objects no local row references.
// Best effort: listing or deletion failures are logged and sync
// continues, remote garbage is preferable to a failed sync.
func (a *AssetSyncer) DeleteOrphanedAssets(ctx context.Context, store LocalStore) int {
	names, err := ReferencedAssets(ctx, store)
	if err != nil {
		slog.Warn("orphan cleanup: reading references failed", "error", err)
		return 0
	}
	referenced := make(map[string]struct{}, len(names))
	for _, n := range names {
		referenced[n] = struct{}{}
	}

	objects, err := a.objects.List(ctx)
	if err != nil {
		slog.Warn("orphan cleanup: bucket listing failed", "error", err)
		return 0
	}

	deleted := 0
	for _, obj := range objects {
		if _, ok := referenced[obj]; ok {
			continue
		}
		if err := a.objects.Remove(ctx, obj); err != nil {
			slog.Warn("orphan cleanup: delete failed", "asset", obj, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("orphaned assets removed", "count", deleted)
	}
	return deleted
}

// Diagnostics is a read-only snapshot of local asset state, used for
// troubleshooting without touching the network.
type Diagnostics struct {
	AssetDir       string   `yaml:"asset_dir"`
	DirExists      bool     `yaml:"dir_exists"`
	ReferencedRows int      `yaml:"referenced_rows"`
	Referenced     []string `yaml:"referenced"`
	Present        []string `yaml:"present"`
	Matched        []string `yaml:"matched"`
}

// Diagnose reports which referenced assets actually exist in the local
// asset directory.
func (a *AssetSyncer) Diagnose(ctx context.Context, store LocalStore) (*Diagnostics, error) {
	d := &Diagnostics{AssetDir: a.dir}

	for _, t := range Plan {
		if t.ImageColumn == "" {
			continue
		}
		rows, err := store.Rows(ctx, t.Name)
		if err != nil {
			return nil, &TableError{Table: t.Name, Op: "read image references", Err: err}
		}
		for _, row := range rows {
			if ref, _ := row[t.ImageColumn].(string); AssetName(ref) != "" {
				d.ReferencedRows++
			}
		}
	}

	var err error
	d.Referenced, err = ReferencedAssets(ctx, store)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("read asset directory: %w", err)
	}
	d.DirExists = true

	present := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() || a.ignored(e.Name()) {
			continue
		}
		present[e.Name()] = struct{}{}
		d.Present = append(d.Present, e.Name())
	}
	sort.Strings(d.Present)

	for _, name := range d.Referenced {
		if _, ok := present[name]; ok {
			d.Matched = append(d.Matched, name)
		}
	}
	return d, nil
}

func (a *AssetSyncer) ignored(name string) bool {
	for _, pattern := range a.ignore {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
