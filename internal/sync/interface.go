// Package sync implements the bidirectional reconciler between the
// local SQLite store and the remote Postgres + object storage backend.
//
// Push is local→remote, including deletion of remote rows absent
// locally. Pull is remote→local and never deletes remote rows. Assets
// (row-referenced image files) sync independently of row data so
// bandwidth tracks file churn, not row churn.
package sync

import (
	"context"
	"errors"
	"fmt"
)

// LocalStore is the reconciler's view of the on-device database.
type LocalStore interface {
	// Rows returns every row of the named table.
	Rows(ctx context.Context, table string) ([]Row, error)

	// ReplaceRows deletes all rows of the table and inserts the given
	// set, atomically per table.
	ReplaceRows(ctx context.Context, table string, rows []Row) error

	// CountRows returns the number of rows in the table.
	CountRows(ctx context.Context, table string) (int, error)

	// Setting returns the value for a settings key; ok is false when the
	// key has never been written.
	Setting(ctx context.Context, key string) (value string, ok bool, err error)

	// SetSetting upserts a settings key.
	SetSetting(ctx context.Context, key, value string) error

	// SetForeignKeys toggles foreign key enforcement for the connection.
	// Pull disables it while tables are replaced out of order and
	// restores it unconditionally afterward.
	SetForeignKeys(ctx context.Context, enabled bool) error
}

// RemoteStore is the reconciler's view of the remote relational store.
type RemoteStore interface {
	FetchRows(ctx context.Context, table string) ([]Row, error)

	// UpsertRows writes rows with conflict resolution on the given
	// identity column.
	UpsertRows(ctx context.Context, table, identityColumn string, rows []Row) error

	// DeleteRowsNotIn removes every remote row whose identity is absent
	// from keep. keep must be non-empty; use DeleteAllRows for a wipe.
	DeleteRowsNotIn(ctx context.Context, table, identityColumn string, keep []any) error

	DeleteAllRows(ctx context.Context, table string) error

	// IsPermissionDenied reports whether err is a permission or
	// row-level-security rejection, which orphan deletion tolerates.
	IsPermissionDenied(err error) bool
}

// ObjectStore is the reconciler's view of the asset bucket.
type ObjectStore interface {
	BucketExists(ctx context.Context) (bool, error)

	// MakeBucket creates the bucket as private.
	MakeBucket(ctx context.Context) error

	Upload(ctx context.Context, name string, data []byte, contentType string) error
	Download(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) error

	// IsNotFound reports whether err means the object does not exist.
	IsNotFound(err error) bool

	// IsAccessDenied reports whether err is a permission rejection,
	// which bucket creation treats as plausibly-already-exists.
	IsAccessDenied(err error) bool
}

// ErrNoIdentity is returned when a row to be pushed lacks a value in its
// table's identity column.
var ErrNoIdentity = errors.New("row has no identity value")

// TableError scopes a fatal sync failure to the table it occurred in.
type TableError struct {
	Table string
	Op    string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }
