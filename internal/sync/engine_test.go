package sync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/notPlancha/CanvasSync/internal/sync/executor"
	"github.com/notPlancha/CanvasSync/internal/sync/index"
	testhelpers "github.com/notPlancha/CanvasSync/internal/testing"
	"github.com/notPlancha/CanvasSync/internal/testing/mocks"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

func testOptions(root string) Options {
	opts := DefaultOptions(root)
	opts.Retry = executor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	return opts
}

func runSync(t *testing.T, tree *mocks.RemoteTree, opts Options) *types.SyncReport {
	t.Helper()
	report, err := NewEngine(tree, nil).Run(context.Background(), opts)
	testhelpers.AssertNoError(t, err, "Run")
	return report
}

func assertCounts(t *testing.T, r *types.SyncReport, created, updated, skipped, failed int) {
	t.Helper()
	if r.Created != created || r.Updated != updated || r.Skipped != skipped || r.Failed != failed {
		t.Errorf("report created/updated/skipped/failed = %d/%d/%d/%d, want %d/%d/%d/%d (failures: %+v)",
			r.Created, r.Updated, r.Skipped, r.Failed, created, updated, skipped, failed, r.Failures)
	}
}

func courseA() *mocks.RemoteTree {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "CourseA").
		AddLeaf("c1", "f1", "syllabus.pdf", "syllabus v1").
		AddLeaf("c1", "f2", "notes.pdf", "notes v1")
	return tree
}

func TestRun_CourseAExample(t *testing.T) {
	tree := courseA()
	root := t.TempDir()
	opts := testOptions(root)

	first := runSync(t, tree, opts)
	assertCounts(t, first, 2, 0, 0, 0)
	files := testhelpers.ReadTree(t, root, utils.StateDirName)
	if files["CourseA/syllabus.pdf"] != "syllabus v1" || files["CourseA/notes.pdf"] != "notes v1" {
		t.Fatalf("local tree after first sync = %v", files)
	}

	second := runSync(t, tree, opts)
	assertCounts(t, second, 0, 0, 2, 0)

	tree.SetContent("f1", "syllabus v2")
	third := runSync(t, tree, opts)
	assertCounts(t, third, 0, 1, 1, 0)
	if got := testhelpers.ReadTree(t, root, utils.StateDirName)["CourseA/syllabus.pdf"]; got != "syllabus v2" {
		t.Errorf("syllabus.pdf = %q after update", got)
	}
	if tree.OpenCalls("f2") != 1 {
		t.Errorf("notes.pdf downloaded %d times, want 1", tree.OpenCalls("f2"))
	}
}

func TestRun_Idempotent(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Math").
		AddContainer("c1", "m1", "Week 1").
		AddLeaf("m1", "f1", "a.pdf", "a").
		AddLeaf("m1", "f2", "b.pdf", "b").
		AddLeaf("m1", "f3", "c.pdf", "c").
		AddLeaf("c1", "f4", "d.pdf", "d")
	tree.AddRoot("c2", "History").AddLeaf("c2", "f5", "e.pdf", "e")
	root := t.TempDir()
	opts := testOptions(root)

	runSync(t, tree, opts)
	before := testhelpers.ReadTree(t, root, utils.StateDirName)
	opens := tree.TotalOpenCalls()

	again := runSync(t, tree, opts)
	assertCounts(t, again, 0, 0, 5, 0)
	if tree.TotalOpenCalls() != opens {
		t.Errorf("second run opened content %d more times", tree.TotalOpenCalls()-opens)
	}
	after := testhelpers.ReadTree(t, root, utils.StateDirName)
	if len(before) != len(after) {
		t.Fatalf("tree changed: %v -> %v", before, after)
	}
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s changed from %q to %q", k, v, after[k])
		}
	}
}

func TestRun_LocalDeletionRedownloads(t *testing.T) {
	tree := courseA()
	root := t.TempDir()
	opts := testOptions(root)
	runSync(t, tree, opts)

	if err := os.Remove(filepath.Join(root, "CourseA", "notes.pdf")); err != nil {
		t.Fatal(err)
	}
	report := runSync(t, tree, opts)
	assertCounts(t, report, 1, 0, 1, 0)
}

func TestRun_RetriesThenRecordsFailure(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Course").
		AddLeaf("c1", "bad", "flaky.pdf", "x").
		AddLeaf("c1", "good", "fine.pdf", "y").
		AddLeaf("c1", "late", "late.pdf", "z")
	tree.OpenHook = func(ctx context.Context, id string, attempt int) error {
		switch {
		case id == "bad":
			return mocks.Transient("503")
		case id == "late" && attempt < 3:
			return mocks.Transient("reset")
		}
		return nil
	}
	root := t.TempDir()

	report := runSync(t, tree, testOptions(root))
	assertCounts(t, report, 2, 0, 0, 1)
	if got := tree.OpenCalls("bad"); got != 3 {
		t.Errorf("failing download attempted %d times, want 3", got)
	}
	if len(report.Failures) != 1 || report.Failures[0].NodeID != "bad" || report.Failures[0].Attempts != 3 {
		t.Errorf("failures = %+v", report.Failures)
	}
	if report.Failures[0].Stage != types.SyncStageDownload || report.Failures[0].Code != utils.ErrCodeNetworkError {
		t.Errorf("failure = %+v", report.Failures[0])
	}

	// the failed file is retried on the next run
	tree.OpenHook = nil
	next := runSync(t, tree, testOptions(root))
	assertCounts(t, next, 1, 0, 2, 0)
}

func TestRun_PartialTree(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Big").
		AddLeaf("c1", "b1", "1.pdf", "1").
		AddLeaf("c1", "b2", "2.pdf", "2").
		AddLeaf("c1", "b3", "3.pdf", "3")
	tree.AddRoot("c2", "Small").AddLeaf("c2", "s1", "s.pdf", "s")
	tree.ListHook = func(containerID string, page int) error {
		if containerID == "c1" && page == 2 {
			return mocks.Transient("page 2 unavailable")
		}
		return nil
	}
	root := t.TempDir()

	report := runSync(t, tree, testOptions(root))
	if report.Failed != 1 || report.Failures[0].Code != utils.ErrCodePartialTree || report.Failures[0].NodeID != "c1" {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if report.Failures[0].Stage != types.SyncStageListing {
		t.Errorf("stage = %s", report.Failures[0].Stage)
	}
	if report.Created != 1 {
		t.Errorf("created = %d, want only the other container's file", report.Created)
	}
	files := testhelpers.ReadTree(t, root, utils.StateDirName)
	if files["Small/s.pdf"] != "s" {
		t.Errorf("unaffected container not synced: %v", files)
	}
	if _, ok := files["Big/1.pdf"]; ok {
		t.Error("children of a partially listed container were downloaded")
	}
}

func TestRun_FingerprintChangeOnlyRefetchesThatNode(t *testing.T) {
	tree := courseA()
	tree.AddRoot("c2", "CourseB").AddLeaf("c2", "f3", "x.pdf", "x")
	root := t.TempDir()
	opts := testOptions(root)
	runSync(t, tree, opts)

	tree.SetContent("f3", "x2")
	report := runSync(t, tree, opts)
	assertCounts(t, report, 0, 1, 2, 0)
	for _, id := range []string{"f1", "f2"} {
		if tree.OpenCalls(id) != 1 {
			t.Errorf("%s opened %d times", id, tree.OpenCalls(id))
		}
	}
}

func TestRun_NotFoundRemovesState(t *testing.T) {
	tree := courseA()
	root := t.TempDir()
	opts := testOptions(root)
	runSync(t, tree, opts)

	tree.SetContent("f1", "new")
	tree.OpenHook = func(ctx context.Context, id string, attempt int) error {
		if id == "f1" {
			return mocks.NotFound(id)
		}
		return nil
	}
	report := runSync(t, tree, opts)
	assertCounts(t, report, 0, 0, 2, 0)
	if report.Removed != 1 {
		t.Errorf("removed = %d, want 1", report.Removed)
	}

	state, err := index.OpenState(context.Background(), root, true, nil)
	testhelpers.AssertNoError(t, err, "OpenState")
	defer state.Close()
	if _, ok := state.Lookup("f1"); ok {
		t.Error("entry of vanished node still recorded")
	}
}

func TestRun_AuthErrorIsFatal(t *testing.T) {
	tree := courseA()
	tree.AddRoot("c2", "CourseB").AddLeaf("c2", "f3", "x.pdf", "x")
	tree.OpenHook = func(ctx context.Context, id string, attempt int) error {
		if id == "f2" {
			return mocks.AuthExpired()
		}
		return nil
	}
	root := t.TempDir()
	opts := testOptions(root)
	opts.Concurrency = 1

	_, err := NewEngine(tree, nil).Run(context.Background(), opts)
	if !utils.IsAuthError(err) {
		t.Fatalf("Run() error = %v, want auth error", err)
	}
	if tree.OpenCalls("f3") != 0 {
		t.Error("run continued into the next container after an auth failure")
	}
	if tree.OpenCalls("f2") != 1 {
		t.Errorf("auth failure retried %d times", tree.OpenCalls("f2"))
	}

	// completed work was checkpointed
	state, err := index.OpenState(context.Background(), root, true, nil)
	testhelpers.AssertNoError(t, err, "OpenState")
	defer state.Close()
	if _, ok := state.Lookup("f1"); !ok {
		t.Error("completed download not flushed before abort")
	}
}

func TestRun_RootListingFailureIsFatal(t *testing.T) {
	tree := courseA()
	tree.ListRootsFunc = func(ctx context.Context) ([]types.RemoteNode, error) {
		return nil, mocks.Transient("down")
	}
	_, err := NewEngine(tree, nil).Run(context.Background(), testOptions(t.TempDir()))
	testhelpers.AssertError(t, err, "root listing failure")
}

func TestRun_InterruptAndResume(t *testing.T) {
	build := func() *mocks.RemoteTree {
		tree := mocks.NewRemoteTree()
		tree.AddRoot("c1", "One")
		tree.AddRoot("c2", "Two")
		for _, id := range []string{"a", "b", "c", "d"} {
			tree.AddLeaf("c1", "1"+id, id+".pdf", "one "+id)
			tree.AddLeaf("c2", "2"+id, id+".pdf", "two "+id)
		}
		return tree
	}

	reference := t.TempDir()
	runSync(t, build(), testOptions(reference))
	want := testhelpers.ReadTree(t, reference, utils.StateDirName)

	tree := build()
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	var once gosync.Once
	tree.OpenHook = func(_ context.Context, id string, attempt int) error {
		if id == "1c" {
			once.Do(cancel)
		}
		return nil
	}
	opts := testOptions(root)
	opts.Concurrency = 1

	report, err := NewEngine(tree, nil).Run(ctx, opts)
	testhelpers.AssertNoError(t, err, "interrupted Run")
	if !report.Interrupted {
		t.Error("report not marked interrupted")
	}
	if report.Created >= 8 {
		t.Errorf("created = %d, run did not stop early", report.Created)
	}
	if tmp, _ := filepath.Glob(filepath.Join(root, utils.StateDirName, utils.StagingDirName, utils.TempFilePattern)); len(tmp) != 0 {
		t.Errorf("temp files left: %v", tmp)
	}

	tree.OpenHook = nil
	resumed := runSync(t, tree, opts)
	if resumed.Created+report.Created != 8 {
		t.Errorf("created %d + %d across runs, want 8", report.Created, resumed.Created)
	}
	got := testhelpers.ReadTree(t, root, utils.StateDirName)
	if len(got) != len(want) {
		t.Fatalf("resumed tree = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	tree := courseA()
	root := filepath.Join(t.TempDir(), "mirror")
	opts := testOptions(root)
	opts.DryRun = true

	report := runSync(t, tree, opts)
	if report.Pending != 2 || report.Created != 0 {
		t.Errorf("pending = %d, created = %d", report.Pending, report.Created)
	}
	if tree.TotalOpenCalls() != 0 {
		t.Error("dry run downloaded content")
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("dry run created the sync root: %v", err)
	}
}

func TestRun_MaterializeEmpty(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Course").AddContainer("c1", "m1", "Empty Module")
	root := t.TempDir()

	lazy := runSync(t, tree, testOptions(root))
	if _, err := os.Stat(filepath.Join(root, "Course", "Empty Module")); !os.IsNotExist(err) {
		t.Error("empty container materialized without the flag")
	}
	if lazy.Directories != 0 {
		t.Errorf("directories = %d", lazy.Directories)
	}

	opts := testOptions(root)
	opts.MaterializeEmpty = true
	eager := runSync(t, tree, opts)
	if info, err := os.Stat(filepath.Join(root, "Course", "Empty Module")); err != nil || !info.IsDir() {
		t.Errorf("empty container not materialized: %v", err)
	}
	if eager.Directories != 2 {
		t.Errorf("directories = %d, want 2", eager.Directories)
	}
}

func TestRun_ExcludeRules(t *testing.T) {
	tree := courseA()
	tree.AddRoot("c2", "Archive").AddLeaf("c2", "f3", "old.pdf", "old")
	root := t.TempDir()
	opts := testOptions(root)
	opts.Exclude = []string{"root:Archive", "notes.pdf"}

	report := runSync(t, tree, opts)
	assertCounts(t, report, 1, 0, 0, 0)
	if report.Roots != 1 {
		t.Errorf("roots = %d, want 1", report.Roots)
	}
}

func TestRun_CollidingNamesBothKept(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Course").
		AddLeaf("c1", "10", "Slides.pdf", "ten").
		AddLeaf("c1", "9", "slides.pdf", "nine")
	root := t.TempDir()

	runSync(t, tree, testOptions(root))
	files := testhelpers.ReadTree(t, root, utils.StateDirName)
	if files["Course/slides.pdf"] != "nine" || files["Course/Slides (10).pdf"] != "ten" {
		t.Errorf("files = %v", files)
	}
}

func TestRun_FilesystemErrorNotRetried(t *testing.T) {
	tree := courseA()
	root := t.TempDir()
	// a file where the course directory should go
	if err := os.WriteFile(filepath.Join(root, "CourseA"), []byte("in the way"), 0644); err != nil {
		t.Fatal(err)
	}

	report := runSync(t, tree, testOptions(root))
	if report.Failed != 2 {
		t.Fatalf("failed = %d, want 2: %+v", report.Failed, report.Failures)
	}
	for _, f := range report.Failures {
		if f.Code != utils.ErrCodeFilesystem {
			t.Errorf("failure code = %s", f.Code)
		}
	}
	for _, id := range []string{"f1", "f2"} {
		if n := tree.OpenCalls(id); n != 1 {
			t.Errorf("%s opened %d times, want 1", id, n)
		}
	}
}

func TestRun_FailedDownloadCreatesNoDirectories(t *testing.T) {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Course").
		AddContainer("c1", "m1", "Week 1").
		AddLeaf("m1", "f1", "a.pdf", "a")
	tree.OpenHook = func(ctx context.Context, id string, attempt int) error {
		return mocks.Transient("connection reset")
	}
	root := t.TempDir()

	report := runSync(t, tree, testOptions(root))
	if report.Failed != 1 || report.Directories != 0 {
		t.Errorf("failed = %d, directories = %d", report.Failed, report.Directories)
	}
	if _, err := os.Stat(filepath.Join(root, "Course")); !os.IsNotExist(err) {
		t.Errorf("course directory exists after a failed download: %v", err)
	}
	if tmp, _ := filepath.Glob(filepath.Join(root, utils.StateDirName, utils.StagingDirName, utils.TempFilePattern)); len(tmp) != 0 {
		t.Errorf("temp files left: %v", tmp)
	}
}

func TestRun_ClearsStaleTempFiles(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, utils.StateDirName, utils.StagingDirName)
	if err := os.MkdirAll(staging, 0700); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(staging, ".canvassync-123.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0600); err != nil {
		t.Fatal(err)
	}

	runSync(t, courseA(), testOptions(root))
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale temp file survived: %v", err)
	}
}

func TestRun_ContextErrorsFromBackendAreNotInterruptions(t *testing.T) {
	tree := courseA()
	tree.OpenHook = func(ctx context.Context, id string, attempt int) error {
		if id == "f1" {
			return context.DeadlineExceeded
		}
		return nil
	}
	report := runSync(t, tree, testOptions(t.TempDir()))
	if report.Interrupted || report.Failed != 1 {
		t.Errorf("interrupted = %v, failed = %d", report.Interrupted, report.Failed)
	}
	if report.Failures[0].Code != utils.ErrCodeTimeout || report.Failures[0].Attempts != 3 {
		t.Errorf("failure = %+v", report.Failures[0])
	}
}
