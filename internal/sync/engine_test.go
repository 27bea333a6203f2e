package sync

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func sortByID(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i]["id"].(int64)
		b, _ := out[j]["id"].(int64)
		return a < b
	})
	return out
}

func TestRoundTrip(t *testing.T) {
	source := newFakeLocal()
	source.tables["categories"] = []Row{
		{"id": int64(1), "name": "Bread", "is_active": int64(1)},
		{"id": int64(2), "name": "Cakes", "is_active": int64(0)},
	}
	source.tables["products"] = []Row{
		{"id": int64(1), "name": "Loaf", "is_active": int64(1), "track_inventory": int64(1), "price": 2.5},
		{"id": int64(2), "name": "Baguette", "is_active": int64(0), "track_inventory": int64(0), "price": 1.8},
	}
	source.tables[SettingsTable] = []Row{
		{"key": "receipt_footer", "value": "Thanks!"},
	}

	remote := newFakeRemote()
	if _, err := NewEngine(source, remote, nil).Push(context.Background()); err != nil {
		t.Fatal(err)
	}

	target := newFakeLocal()
	if _, err := NewEngine(target, remote, nil).Pull(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{"categories", "products"} {
		got := sortByID(target.tables[table])
		want := sortByID(source.tables[table])
		if !reflect.DeepEqual(got, want) {
			t.Errorf("table %s after round trip = %v, want %v", table, got, want)
		}
	}
	if v, ok, _ := target.Setting(context.Background(), "receipt_footer"); !ok || v != "Thanks!" {
		t.Errorf("settings did not round trip: %q", v)
	}
}

func TestFullSyncEmptyLocalSkipsPush(t *testing.T) {
	local := newFakeLocal()
	// Rows in a non-anchor table alone do not defeat the guard.
	local.tables["categories"] = []Row{{"id": int64(1), "name": "Bread"}}
	remote := newFakeRemote()
	remote.tables["products"] = []Row{
		{"id": int64(1), "name": "Loaf", "is_active": true, "track_inventory": false},
	}
	engine := NewEngine(local, remote, nil)

	res, err := engine.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.PushSkipped {
		t.Error("push was not skipped for an empty local store")
	}
	for table, calls := range remote.upsertCalls {
		if calls > 0 {
			t.Errorf("push upserted %s despite empty-local guard", table)
		}
	}
	if len(local.tables["products"]) != 1 {
		t.Error("pull phase did not run")
	}
	// The guard exists so a fresh install cannot wipe remote data.
	if len(remote.tables["products"]) != 1 {
		t.Error("remote products were modified")
	}
}

func TestFullSyncPushesThenPulls(t *testing.T) {
	local := newFakeLocal()
	local.tables["products"] = []Row{
		{"id": int64(1), "name": "Loaf", "is_active": int64(1), "track_inventory": int64(0)},
	}
	remote := newFakeRemote()
	engine := NewEngine(local, remote, nil)

	res, err := engine.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.PushSkipped {
		t.Fatal("push skipped despite local data")
	}
	if res.Push == nil || res.Push.RowsPushed == 0 {
		t.Error("push phase reported no rows")
	}
	if res.Pull == nil {
		t.Error("pull phase did not run")
	}
}

func TestTestConnectionDistinguishesFailures(t *testing.T) {
	local := newFakeLocal()

	remote := newFakeRemote()
	remote.fetchErr[Plan[0].Name] = errors.New("connection refused")
	engine := NewEngine(local, remote, nil)
	err := engine.TestConnection(context.Background())
	if err == nil || !strings.Contains(err.Error(), "data store unreachable") {
		t.Errorf("data failure = %v, want data store unreachable", err)
	}

	engine = NewEngine(local, newFakeRemote(), nil)
	if err := engine.TestConnection(context.Background()); err != nil {
		t.Errorf("healthy backend reported %v", err)
	}
}

func TestLastSyncNeverSynced(t *testing.T) {
	engine := NewEngine(newFakeLocal(), newFakeRemote(), nil)
	ts, err := engine.LastSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ts != nil {
		t.Errorf("LastSync = %v, want nil", ts)
	}
}

func TestLastSyncRejectsGarbageTimestamp(t *testing.T) {
	local := newFakeLocal()
	local.SetSetting(context.Background(), SettingLastSync, "not-a-time")
	engine := NewEngine(local, newFakeRemote(), nil)

	if _, err := engine.LastSync(context.Background()); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestImageDiagnosticsWithoutAssetDir(t *testing.T) {
	engine := NewEngine(newFakeLocal(), newFakeRemote(), nil)
	diag, err := engine.ImageDiagnostics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diag != nil {
		t.Errorf("diagnostics = %v, want nil without an asset dir", diag)
	}
}

func TestPullThenPushConvergesCategories(t *testing.T) {
	// Local categories [{1,Bread}], remote [{1,Bread},{2,Cakes}]:
	// pull converges local on the remote set; deleting row 2 locally and
	// pushing removes it remotely.
	local := newFakeLocal()
	local.tables["categories"] = []Row{{"id": int64(1), "name": "Bread"}}
	remote := newFakeRemote()
	remote.tables["categories"] = []Row{
		{"id": int64(1), "name": "Bread"},
		{"id": int64(2), "name": "Cakes"},
	}
	engine := NewEngine(local, remote, nil)

	if _, err := engine.Pull(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := identities(local.tables["categories"], "id"); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("after pull, local = %v, want [1 2]", got)
	}

	local.tables["categories"] = []Row{{"id": int64(1), "name": "Bread"}}
	if _, err := engine.Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := identities(remote.tables["categories"], "id"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("after push, remote = %v, want [1]", got)
	}
}
