package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/notPlancha/CanvasSync/internal/types"
)

func openTestState(t *testing.T, root string) *State {
	t.Helper()
	s, err := OpenState(context.Background(), root, false, nil)
	if err != nil {
		t.Fatalf("OpenState() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestState_RecordFlushLoad(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s := openTestState(t, root)
	now := time.Now().UTC().Truncate(time.Second)
	s.Record("f1", LocalEntry{LocalPath: "A/a.pdf", Fingerprint: "hash:1", Size: 3, LastSync: now})
	s.Record("f2", LocalEntry{LocalPath: "A/b.pdf", Fingerprint: "hash:2", LastSync: now})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	s.Close()

	reloaded := openTestState(t, root)
	if reloaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reloaded.Len())
	}
	e, ok := reloaded.Lookup("f1")
	if !ok {
		t.Fatal("f1 missing after reload")
	}
	if e.LocalPath != "A/a.pdf" || e.Fingerprint != "hash:1" || e.Size != 3 || !e.LastSync.Equal(now) {
		t.Errorf("reloaded entry = %+v", e)
	}
}

func TestState_RecordEvictsPathHolder(t *testing.T) {
	s := NewState(t.TempDir(), "", nil)
	s.Record("old", LocalEntry{LocalPath: "C/x.txt", Fingerprint: "a"})
	s.Record("new", LocalEntry{LocalPath: "C/x.txt", Fingerprint: "b"})

	if _, ok := s.Lookup("old"); ok {
		t.Error("old entry still present")
	}
	if e, ok := s.Lookup("new"); !ok || e.LocalPath != "C/x.txt" {
		t.Errorf("new entry = %+v, %v", e, ok)
	}
}

func TestState_PathSwapFlushes(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	s := openTestState(t, root)

	s.Record("a", LocalEntry{LocalPath: "p1", Fingerprint: "1"})
	s.Record("b", LocalEntry{LocalPath: "p2", Fingerprint: "2"})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	s.Record("a", LocalEntry{LocalPath: "tmp", Fingerprint: "1"})
	s.Record("b", LocalEntry{LocalPath: "p1", Fingerprint: "2"})
	s.Record("a", LocalEntry{LocalPath: "p2", Fingerprint: "1"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() after swap error = %v", err)
	}

	entries, err := s.db.ListEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].RemoteID != "b" || entries[1].RemoteID != "a" {
		t.Errorf("stored entries = %+v", entries)
	}
}

func TestState_RemoveFlushes(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	s := openTestState(t, root)

	s.Record("gone", LocalEntry{LocalPath: "x", Fingerprint: "1"})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	s.Remove("gone")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	stored, err := s.db.ListEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Errorf("removed entry still stored: %+v", stored)
	}
}

func TestState_NeedsUpdate(t *testing.T) {
	root := t.TempDir()
	s := NewState(root, "", nil)
	node := types.RemoteNode{ID: "f", Kind: types.NodeKindLeaf, Fingerprint: "hash:1"}

	if !s.NeedsUpdate(node, "C/f.txt") {
		t.Error("unknown node should need an update")
	}

	s.Record("f", LocalEntry{LocalPath: "C/f.txt", Fingerprint: "hash:1"})
	if !s.NeedsUpdate(node, "C/f.txt") {
		t.Error("missing file should need an update")
	}

	writeFile(t, root, "C/f.txt")
	if s.NeedsUpdate(node, "C/f.txt") {
		t.Error("unchanged node should not need an update")
	}

	changed := node
	changed.Fingerprint = "hash:2"
	if !s.NeedsUpdate(changed, "C/f.txt") {
		t.Error("fingerprint change should need an update")
	}
	if !s.NeedsUpdate(node, "C/renamed.txt") {
		t.Error("path change should need an update")
	}
}

func TestState_LoadCorrupt(t *testing.T) {
	root := t.TempDir()
	path := StatePath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("this is not a database ", 200)), 0600); err != nil {
		t.Fatal(err)
	}

	s := openTestState(t, root)
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if s.Recovered() == nil {
		t.Error("Recovered() = nil, want CORRUPT_STATE")
	}
	aside, _ := filepath.Glob(path + ".corrupt-*")
	if len(aside) != 1 {
		t.Errorf("corrupt store not moved aside: %v", aside)
	}

	s.Record("f", LocalEntry{LocalPath: "f", Fingerprint: "1"})
	if err := s.Flush(context.Background()); err != nil {
		t.Errorf("Flush() on recovered state error = %v", err)
	}
}

func TestState_LoadsNewerSchema(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s := openTestState(t, root)
	s.Record("f1", LocalEntry{LocalPath: "A/a.pdf", Fingerprint: "hash:1", Size: 3})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// a later release adds a column and bumps the version
	raw, err := sql.Open("sqlite", StatePath(root))
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`ALTER TABLE sync_entries ADD COLUMN etag TEXT NOT NULL DEFAULT ''`,
		`UPDATE meta SET value = '2' WHERE key = 'schema_version'`,
		`INSERT INTO sync_entries (remote_id, local_path, fingerprint, size, last_sync, etag)
		 VALUES ('f2', 'A/b.pdf', 'hash:2', 1, 0, 'abc')`,
	} {
		if _, err := raw.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	raw.Close()

	reloaded := openTestState(t, root)
	if reloaded.Recovered() != nil {
		t.Fatalf("newer store treated as corrupt: %v", reloaded.Recovered())
	}
	if reloaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reloaded.Len())
	}
	if e, ok := reloaded.Lookup("f2"); !ok || e.Fingerprint != "hash:2" {
		t.Errorf("f2 = %+v, %v", e, ok)
	}

	reloaded.Record("f3", LocalEntry{LocalPath: "A/c.pdf", Fingerprint: "hash:3"})
	if err := reloaded.Flush(ctx); err != nil {
		t.Fatalf("Flush() into newer store error = %v", err)
	}
	if version, err := reloaded.db.schemaVersion(ctx); err != nil || version != 2 {
		t.Errorf("schema version = %d, %v; want it left at 2", version, err)
	}
}

func TestOpenState_ReadOnlyMissing(t *testing.T) {
	root := t.TempDir()
	s, err := OpenState(context.Background(), root, true, nil)
	if err != nil {
		t.Fatalf("OpenState() error = %v", err)
	}
	s.Record("f", LocalEntry{LocalPath: "f"})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(StatePath(root)); !os.IsNotExist(err) {
		t.Errorf("read-only state created a store: %v", err)
	}
}

func TestStateList_RowsHumanizeSizes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		rows := StateList{{RemoteID: "f", LocalPath: "a", Size: in}}.Rows()
		if got := rows[0][2]; got != want {
			t.Errorf("size column for %d = %q, want %q", in, got, want)
		}
	}
}
