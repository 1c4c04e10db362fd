package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/notPlancha/CanvasSync/internal/sync/index"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanLocal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Math/a.pdf", "aaa")
	writeFile(t, root, "Math/Week 1/b.pdf", "bb")
	writeFile(t, root, ".canvassync/state.db", "db")
	if err := os.Symlink(filepath.Join(root, "Math/a.pdf"), filepath.Join(root, "link.pdf")); err != nil {
		t.Logf("symlink not supported: %v", err)
	}

	files, err := ScanLocal(context.Background(), root, true, ".canvassync")
	if err != nil {
		t.Fatalf("ScanLocal() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2 entries", files)
	}
	a := files["Math/a.pdf"]
	if a.Size != 3 || a.Hash != md5hex("aaa") {
		t.Errorf("a.pdf = %+v", a)
	}
	if _, ok := files["Math/Week 1/b.pdf"]; !ok {
		t.Error("nested file missing")
	}
}

func TestScanLocal_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ScanLocal(ctx, root, false); err == nil {
		t.Error("ScanLocal() ignored a cancelled context")
	}
}

func TestVerify(t *testing.T) {
	entries := index.StateList{
		{RemoteID: "1", LocalPath: "ok.pdf", Size: 2, Fingerprint: "hash:" + md5hex("ok")},
		{RemoteID: "2", LocalPath: "gone.pdf", Size: 1},
		{RemoteID: "3", LocalPath: "grown.pdf", Size: 1},
		{RemoteID: "4", LocalPath: "edited.pdf", Size: 2, Fingerprint: "hash:" + md5hex("v1")},
		{RemoteID: "5", LocalPath: "mtime.pdf", Size: 2, Fingerprint: "mtime:2024-01-01T00:00:00Z|size:2"},
	}
	local := map[string]LocalFile{
		"ok.pdf":     {RelativePath: "ok.pdf", Size: 2, Hash: md5hex("ok")},
		"grown.pdf":  {RelativePath: "grown.pdf", Size: 5},
		"edited.pdf": {RelativePath: "edited.pdf", Size: 2, Hash: md5hex("v2")},
		"mtime.pdf":  {RelativePath: "mtime.pdf", Size: 2, Hash: md5hex("zz")},
		"notes.txt":  {RelativePath: "notes.txt", Size: 9},
	}

	got := Verify(entries, local)
	want := []Discrepancy{
		{Path: "edited.pdf", Kind: DiscrepancyChecksum},
		{Path: "gone.pdf", Kind: DiscrepancyMissing},
		{Path: "grown.pdf", Kind: DiscrepancySize},
		{Path: "notes.txt", Kind: DiscrepancyUntracked},
	}
	if len(got) != len(want) {
		t.Fatalf("Verify() = %+v", got)
	}
	for i := range want {
		if got[i].Path != want[i].Path || got[i].Kind != want[i].Kind {
			t.Errorf("discrepancy %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if len(Verify(nil, nil).Rows()) != 0 {
		t.Error("empty verify produced rows")
	}
}
