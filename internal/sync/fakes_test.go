package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// In-memory doubles for the three store interfaces. Tables hold rows in
// the representation the real store would: 0/1 integers locally,
// native booleans remotely.

var (
	errPermDenied   = errors.New("permission denied")
	errNotFound     = errors.New("object not found")
	errAccessDenied = errors.New("access denied")
)

type fakeLocal struct {
	tables map[string][]Row
	fkLog  []bool

	rowsErr map[string]error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		tables:  make(map[string][]Row),
		rowsErr: make(map[string]error),
	}
}

func (f *fakeLocal) Rows(ctx context.Context, table string) ([]Row, error) {
	if err := f.rowsErr[table]; err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		rows = append(rows, r.Clone())
	}
	return rows, nil
}

func (f *fakeLocal) ReplaceRows(ctx context.Context, table string, rows []Row) error {
	f.tables[table] = rows
	return nil
}

func (f *fakeLocal) CountRows(ctx context.Context, table string) (int, error) {
	return len(f.tables[table]), nil
}

func (f *fakeLocal) Setting(ctx context.Context, key string) (string, bool, error) {
	for _, r := range f.tables[SettingsTable] {
		if r["key"] == key {
			return fmt.Sprint(r["value"]), true, nil
		}
	}
	return "", false, nil
}

func (f *fakeLocal) SetSetting(ctx context.Context, key, value string) error {
	for _, r := range f.tables[SettingsTable] {
		if r["key"] == key {
			r["value"] = value
			return nil
		}
	}
	f.tables[SettingsTable] = append(f.tables[SettingsTable], Row{"key": key, "value": value})
	return nil
}

func (f *fakeLocal) SetForeignKeys(ctx context.Context, enabled bool) error {
	f.fkLog = append(f.fkLog, enabled)
	return nil
}

type fakeRemote struct {
	tables      map[string][]Row
	upsertCalls map[string]int

	fetchErr  map[string]error
	upsertErr map[string]error
	deleteErr map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tables:      make(map[string][]Row),
		upsertCalls: make(map[string]int),
		fetchErr:    make(map[string]error),
		upsertErr:   make(map[string]error),
		deleteErr:   make(map[string]error),
	}
}

func (f *fakeRemote) FetchRows(ctx context.Context, table string) ([]Row, error) {
	if err := f.fetchErr[table]; err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		rows = append(rows, r.Clone())
	}
	return rows, nil
}

func (f *fakeRemote) UpsertRows(ctx context.Context, table, identityColumn string, rows []Row) error {
	f.upsertCalls[table]++
	if err := f.upsertErr[table]; err != nil {
		return err
	}
	for _, row := range rows {
		replaced := false
		for i, existing := range f.tables[table] {
			if existing[identityColumn] == row[identityColumn] {
				f.tables[table][i] = row.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			f.tables[table] = append(f.tables[table], row.Clone())
		}
	}
	return nil
}

func (f *fakeRemote) DeleteRowsNotIn(ctx context.Context, table, identityColumn string, keep []any) error {
	if err := f.deleteErr[table]; err != nil {
		return err
	}
	keepSet := make(map[any]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	var kept []Row
	for _, row := range f.tables[table] {
		if keepSet[row[identityColumn]] {
			kept = append(kept, row)
		}
	}
	f.tables[table] = kept
	return nil
}

func (f *fakeRemote) DeleteAllRows(ctx context.Context, table string) error {
	if err := f.deleteErr[table]; err != nil {
		return err
	}
	delete(f.tables, table)
	return nil
}

func (f *fakeRemote) IsPermissionDenied(err error) bool {
	return errors.Is(err, errPermDenied)
}

type fakeObjects struct {
	objects map[string][]byte
	exists  bool

	uploads   map[string]int
	downloads int

	makeErr   error
	uploadErr error
	listErr   error
	removeErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects: make(map[string][]byte),
		exists:  true,
		uploads: make(map[string]int),
	}
}

func (f *fakeObjects) BucketExists(ctx context.Context) (bool, error) {
	return f.exists, nil
}

func (f *fakeObjects) MakeBucket(ctx context.Context) error {
	if f.makeErr != nil {
		return f.makeErr
	}
	f.exists = true
	return nil
}

func (f *fakeObjects) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	f.uploads[name]++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[name] = data
	return nil
}

func (f *fakeObjects) Download(ctx context.Context, name string) ([]byte, error) {
	f.downloads++
	data, ok := f.objects[name]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func (f *fakeObjects) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeObjects) Remove(ctx context.Context, name string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeObjects) IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func (f *fakeObjects) IsAccessDenied(err error) bool {
	return errors.Is(err, errAccessDenied)
}

// identities extracts and sorts the identity values of a table's rows,
// for assertions.
func identities(rows []Row, col string) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		if id, ok := r[col].(int64); ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
