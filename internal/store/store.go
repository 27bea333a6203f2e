// Package store provides the on-device SQLite database the reconciler
// treats as local truth. Booleans are stored as 0/1 integers; the sync
// layer transcodes them at the boundary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vonshlovens/tillsync/internal/sync"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the local SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path and brings
// its schema up to date. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per-connection; a single connection keeps the foreign
	// key toggle coherent and sidesteps SQLite writer contention.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// planTable resolves a table name against the sync plan. Queries are
// only ever assembled for declared tables and regex-clean column
// names, never from caller-supplied strings.
func planTable(name string) (sync.Table, error) {
	t, ok := sync.PlanTable(name)
	if !ok {
		return sync.Table{}, fmt.Errorf("table %q is not in the sync plan", name)
	}
	return t, nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// Rows returns every row of the named plan table as a column→value map.
func (s *Store) Rows(ctx context.Context, table string) ([]sync.Row, error) {
	if _, err := planTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []sync.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(sync.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReplaceRows swaps the table's entire content for the given row set,
// atomically. Rows may carry different column subsets; each insert
// names only the columns it has.
func (s *Store) ReplaceRows(ctx context.Context, table string, newRows []sync.Row) error {
	if _, err := planTable(table); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear table: %w", err)
	}
	for _, row := range newRows {
		cols := make([]string, 0, len(row))
		args := make([]any, 0, len(row))
		for col, v := range row {
			if err := checkIdent(col); err != nil {
				return err
			}
			cols = append(cols, col)
			args = append(args, v)
		}
		if len(cols) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table,
			strings.Join(cols, ", "),
			placeholders(len(cols)))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}

// CountRows returns the number of rows in the named plan table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if _, err := planTable(table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// Setting returns a settings value; ok is false when the key was never
// written.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// SetForeignKeys toggles SQLite foreign key enforcement. Effective for
// the store's single connection.
func (s *Store) SetForeignKeys(ctx context.Context, enabled bool) error {
	pragma := "PRAGMA foreign_keys = OFF"
	if enabled {
		pragma = "PRAGMA foreign_keys = ON"
	}
	_, err := s.db.ExecContext(ctx, pragma)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
