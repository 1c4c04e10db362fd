// Package remote defines the contract every content backend implements.
package remote

import (
	"context"
	"io"

	"github.com/notPlancha/CanvasSync/internal/types"
)

// Content is an open download stream
type Content struct {
	Body io.ReadCloser
	// Size is -1 when the backend does not announce it
	Size int64
	// MD5 is the lowercase hex digest when the backend provides one
	MD5 string
}

// Client is the read-only view of a remote content tree.
//
// Errors are classified *utils.AppError values: auth failures carry
// AUTH_EXPIRED or AUTH_REQUIRED, missing nodes FILE_NOT_FOUND, and
// transient failures are marked retryable.
type Client interface {
	// ListRootContainers returns the top-level containers (courses, folders, prefixes)
	ListRootContainers(ctx context.Context) ([]types.RemoteNode, error)
	// ListChildren returns one page of the children of a container and the
	// cursor of the next page. Pass "" for the first page; an empty returned
	// cursor means the listing is complete.
	ListChildren(ctx context.Context, containerID, cursor string) ([]types.RemoteNode, string, error)
	// OpenContent opens the bytes of a leaf
	OpenContent(ctx context.Context, leaf types.RemoteNode) (*Content, error)
}
