package walker

import (
	"context"
	"errors"
	"testing"

	"github.com/notPlancha/CanvasSync/internal/sync/exclude"
	"github.com/notPlancha/CanvasSync/internal/testing/mocks"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

type visit struct {
	path string
	err  error
}

func collect(t *testing.T, w *Walker, tree *mocks.RemoteTree) []visit {
	t.Helper()
	ctx := context.Background()
	nodes, err := tree.ListRootContainers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var out []visit
	for e, err := range w.Walk(ctx, w.Roots(nodes)) {
		out = append(out, visit{path: e.LocalPath, err: err})
	}
	return out
}

func sampleTree() *mocks.RemoteTree {
	tree := mocks.NewRemoteTree()
	tree.AddRoot("c1", "Course A").
		AddLeaf("c1", "f1", "syllabus.pdf", "s").
		AddContainer("c1", "m1", "Week 1").
		AddLeaf("m1", "f2", "slides.pdf", "x").
		AddLeaf("m1", "f3", "notes.txt", "y").
		AddLeaf("m1", "f4", "extra.txt", "z").
		AddLeaf("c1", "f5", "grades.csv", "g")
	tree.AddRoot("c2", "Course B").
		AddLeaf("c2", "f6", "intro.pdf", "i")
	return tree
}

func TestWalk_PreOrder(t *testing.T) {
	tree := sampleTree()
	w := New(tree, nil, nil, nil)

	got := collect(t, w, tree)
	want := []string{
		"Course A",
		"Course A/syllabus.pdf",
		"Course A/Week 1",
		"Course A/Week 1/slides.pdf",
		"Course A/Week 1/notes.txt",
		"Course A/Week 1/extra.txt",
		"Course A/grades.csv",
		"Course B",
		"Course B/intro.pdf",
	}
	if len(got) != len(want) {
		t.Fatalf("visited %d nodes, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].err != nil || got[i].path != want[i] {
			t.Errorf("visit[%d] = %+v, want %q", i, got[i], want[i])
		}
	}
}

func TestWalk_SecondPageFailureIsPartial(t *testing.T) {
	tree := sampleTree()
	tree.ListHook = func(containerID string, page int) error {
		if containerID == "m1" && page == 2 {
			return mocks.Transient("connection reset")
		}
		return nil
	}
	w := New(tree, nil, nil, nil)

	var partial *PartialTreeError
	var paths []string
	for _, v := range collect(t, w, tree) {
		if v.err != nil {
			if !errors.As(v.err, &partial) {
				t.Fatalf("error = %v, want PartialTreeError", v.err)
			}
			continue
		}
		paths = append(paths, v.path)
	}
	if partial == nil {
		t.Fatal("no partial tree error yielded")
	}
	if partial.Container.Node.ID != "m1" || partial.PagesRead != 1 {
		t.Errorf("partial = %+v", partial)
	}
	if Code(partial) != utils.ErrCodePartialTree {
		t.Errorf("Code() = %s", Code(partial))
	}
	for _, p := range paths {
		if p == "Course A/Week 1/slides.pdf" || p == "Course A/Week 1/notes.txt" {
			t.Errorf("child of failed container yielded: %s", p)
		}
	}
	if len(paths) != 6 {
		t.Errorf("yielded %v, want siblings and other roots to continue", paths)
	}
}

func TestWalk_FirstPageFailureIsListingError(t *testing.T) {
	tree := sampleTree()
	tree.ListHook = func(containerID string, page int) error {
		if containerID == "c2" {
			return mocks.Transient("boom")
		}
		return nil
	}
	w := New(tree, nil, nil, nil)

	var listing *ListingError
	for _, v := range collect(t, w, tree) {
		if v.err != nil && errors.As(v.err, &listing) {
			break
		}
	}
	if listing == nil || listing.Container.Node.ID != "c2" {
		t.Fatalf("listing error = %+v", listing)
	}
	if Code(listing) != utils.ErrCodeListingFailed {
		t.Errorf("Code() = %s", Code(listing))
	}
}

func TestWalk_ExcludedContainerNotListed(t *testing.T) {
	tree := sampleTree()
	w := New(tree, nil, exclude.New(nil, []string{"container:Week 1/"}), nil)

	for _, v := range collect(t, w, tree) {
		if v.path == "Course A/Week 1" {
			t.Error("excluded container yielded")
		}
	}
	if n := tree.ListCalls("m1"); n != 0 {
		t.Errorf("excluded container listed %d times", n)
	}
}

func TestWalk_EarlyBreakStopsListing(t *testing.T) {
	tree := sampleTree()
	w := New(tree, nil, nil, nil)
	ctx := context.Background()
	nodes, _ := tree.ListRootContainers(ctx)

	for e := range w.Walk(ctx, w.Roots(nodes)) {
		if e.LocalPath == "Course A/syllabus.pdf" {
			break
		}
	}
	if tree.ListCalls("m1") != 0 || tree.ListCalls("c2") != 0 {
		t.Error("walker listed containers the consumer never reached")
	}
}

func TestWalk_Restartable(t *testing.T) {
	tree := sampleTree()
	w := New(tree, nil, nil, nil)

	first := collect(t, w, tree)
	second := collect(t, w, tree)
	if len(first) != len(second) {
		t.Fatalf("second walk yielded %d nodes, first %d", len(second), len(first))
	}
	if tree.ListCalls("c1") != 4 || tree.ListCalls("m1") != 4 {
		t.Errorf("expected each walk to list afresh, m1 pages = %d", tree.ListCalls("m1"))
	}
}

func TestWalk_RootsFiltered(t *testing.T) {
	tree := sampleTree()
	w := New(tree, nil, exclude.New([]string{"root:Course B"}, nil), nil)

	nodes, _ := tree.ListRootContainers(context.Background())
	roots := w.Roots(nodes)
	if len(roots) != 1 || roots[0].Node.ID != "c2" {
		t.Errorf("roots = %+v", roots)
	}
}
