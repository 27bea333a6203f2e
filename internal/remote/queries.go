package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vonshlovens/tillsync/internal/sync"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkIdent(names ...string) error {
	for _, name := range names {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

// FetchRows returns every row of the named remote table.
func (c *Client) FetchRows(ctx context.Context, table string) ([]sync.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	rows, err := c.Pool.Query(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []sync.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(sync.Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertRows writes rows in one batch with conflict resolution on the
// identity column. Each statement names only the columns its row
// carries; column names are validated, values are always parameters.
func (c *Client) UpsertRows(ctx context.Context, table, identityColumn string, rows []sync.Row) error {
	if err := checkIdent(table, identityColumn); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		q, args, err := upsertSQL(table, identityColumn, row)
		if err != nil {
			return err
		}
		batch.Queue(q, args...)
	}
	results := c.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

func upsertSQL(table, identityColumn string, row sync.Row) (string, []any, error) {
	cols := make([]string, 0, len(row))
	for col := range row {
		if err := checkIdent(col); err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	params := make([]string, 0, len(cols))
	sets := make([]string, 0, len(cols))
	for i, col := range cols {
		args = append(args, row[col])
		params = append(params, fmt.Sprintf("$%d", i+1))
		if col != identityColumn {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(params, ", "))
	if len(sets) == 0 {
		q += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", identityColumn)
	} else {
		q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			identityColumn, strings.Join(sets, ", "))
	}
	return q, args, nil
}

// DeleteRowsNotIn removes every row whose identity is not in keep.
func (c *Client) DeleteRowsNotIn(ctx context.Context, table, identityColumn string, keep []any) error {
	if err := checkIdent(table, identityColumn); err != nil {
		return err
	}
	if len(keep) == 0 {
		return errors.New("empty keep set: use DeleteAllRows")
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE NOT (%s = ANY($1))", table, identityColumn)
	_, err := c.Pool.Exec(ctx, q, typedSlice(keep))
	return err
}

// DeleteAllRows wipes the remote table.
func (c *Client) DeleteAllRows(ctx context.Context, table string) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	_, err := c.Pool.Exec(ctx, "DELETE FROM "+table)
	return err
}

// typedSlice narrows a []any of identities to a concretely typed slice
// so pgx can encode it as a Postgres array.
func typedSlice(keep []any) any {
	if _, ok := keep[0].(string); ok {
		out := make([]string, 0, len(keep))
		for _, v := range keep {
			s, _ := v.(string)
			out = append(out, s)
		}
		return out
	}
	out := make([]int64, 0, len(keep))
	for _, v := range keep {
		switch x := v.(type) {
		case int64:
			out = append(out, x)
		case int:
			out = append(out, int64(x))
		case float64:
			out = append(out, int64(x))
		}
	}
	return out
}

// IsPermissionDenied reports whether err is a Postgres privilege or
// row-level-security rejection. Orphan deletion tolerates these;
// storage permission models are routinely stricter than row access.
func (c *Client) IsPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 42501 insufficient_privilege covers grants and RLS policies.
	return pgErr.Code == "42501"
}
