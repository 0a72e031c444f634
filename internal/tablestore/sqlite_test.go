package tablestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetTableMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTable(context.Background(), "nope")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestCreateTableThenGetEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateTable(ctx, "things", 100, 2); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rows, err := store.GetTable(ctx, "things")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("row count: got=%d want=0", len(rows))
	}
}

func TestOverwriteAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	header := []string{"id", "name"}

	rows := []Row{
		{"id": "1", "name": "alpha"},
		{"id": "2", "name": "beta"},
	}
	if err := store.OverwriteTable(ctx, "things", header, rows); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, err := store.GetTable(ctx, "things")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("row count: got=%d want=2", len(got))
	}
	if got[0]["name"] != "alpha" || got[1]["name"] != "beta" {
		t.Fatalf("rows out of order: %v", got)
	}

	// A second overwrite replaces everything.
	if err := store.OverwriteTable(ctx, "things", header, []Row{{"id": "9", "name": "gamma"}}); err != nil {
		t.Fatalf("second overwrite failed: %v", err)
	}
	got, err = store.GetTable(ctx, "things")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "9" {
		t.Fatalf("overwrite did not replace rows: %v", got)
	}
}

func TestAppendRowPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	header := []string{"id", "name"}

	for _, name := range []string{"first", "second", "third"} {
		if err := store.AppendRow(ctx, "log", header, Row{"id": name, "name": name}); err != nil {
			t.Fatalf("append %q failed: %v", name, err)
		}
	}

	got, err := store.GetTable(ctx, "log")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("row count: got=%d want=3", len(got))
	}
	for n, want := range []string{"first", "second", "third"} {
		if got[n]["name"] != want {
			t.Fatalf("row %d: got=%q want=%q", n, got[n]["name"], want)
		}
	}
}
