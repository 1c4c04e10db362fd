package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/notPlancha/CanvasSync/internal/types"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// TestRequestContext creates a standard request context for testing
func TestRequestContext() *types.RequestContext {
	return &types.RequestContext{
		Profile:         "test-profile",
		Backend:         "test",
		InvolvedNodeIDs: []string{},
		RequestType:     types.RequestTypeListChildren,
		TraceID:         "test-trace-id",
	}
}

// TestContainer creates a container node for testing
func TestContainer(id, name string) types.RemoteNode {
	return types.RemoteNode{
		ID:   id,
		Kind: types.NodeKindContainer,
		Name: name,
	}
}

// TestLeaf creates a leaf node whose fingerprint is derived from version
func TestLeaf(id, name, version string) types.RemoteNode {
	return types.RemoteNode{
		ID:           id,
		Kind:         types.NodeKindLeaf,
		Name:         name,
		Fingerprint:  types.Fingerprint("v:" + version),
		ModifiedTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// ReadTree returns every regular file under root keyed by slash separated
// relative path, skipping the state directory
func ReadTree(t *testing.T, root string, skipDir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir != "" && d.Name() == skipDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	AssertNoError(t, err, "walking local tree")
	return files
}

// AssertNoError is a helper to fail the test if error is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

// AssertError is a helper to fail the test if error is nil
func AssertError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: expected error but got nil", msgAndArgs[0])
		} else {
			t.Fatal("expected error but got nil")
		}
	}
}

// AssertEqual is a helper to fail the test if two values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if got != want {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
		} else {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
