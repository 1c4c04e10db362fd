// Package walker enumerates a remote tree depth first, one container
// listing at a time.
package walker

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/sync/exclude"
	"github.com/notPlancha/CanvasSync/internal/sync/pathmap"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// Entry is a node together with where it sits in the tree
type Entry struct {
	Node types.RemoteNode
	// RemotePath is the chain of remote names from the root, slash separated
	RemotePath string
	// LocalPath is relative to the sync root, slash separated
	LocalPath string
	// Depth is 0 for root containers
	Depth int
}

// ListingError reports a container whose first page could not be listed
type ListingError struct {
	Container Entry
	Cause     error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing %s: %v", e.Container.RemotePath, e.Cause)
}

func (e *ListingError) Unwrap() error { return e.Cause }

// PartialTreeError reports a container whose listing failed after at
// least one page was read. None of its children are yielded.
type PartialTreeError struct {
	Container Entry
	PagesRead int
	Cause     error
}

func (e *PartialTreeError) Error() string {
	return fmt.Sprintf("listing %s failed after %d page(s): %v", e.Container.RemotePath, e.PagesRead, e.Cause)
}

func (e *PartialTreeError) Unwrap() error { return e.Cause }

// Code returns the error code of a walker error
func Code(err error) string {
	var partial *PartialTreeError
	var listing *ListingError
	switch {
	case errors.As(err, &partial):
		if c := utils.ErrorCode(partial.Cause); c != utils.ErrCodeUnknown && c != utils.ErrCodeNetworkError {
			return c
		}
		return utils.ErrCodePartialTree
	case errors.As(err, &listing):
		if c := utils.ErrorCode(listing.Cause); c != utils.ErrCodeUnknown && c != utils.ErrCodeNetworkError {
			return c
		}
		return utils.ErrCodeListingFailed
	}
	return utils.ErrorCode(err)
}

// Walker drives a remote.Client to enumerate the tree
type Walker struct {
	client  remote.Client
	mapper  *pathmap.Mapper
	matcher *exclude.Matcher
	logger  logging.Logger
}

// New creates a Walker. A nil matcher allows everything.
func New(client remote.Client, mapper *pathmap.Mapper, matcher *exclude.Matcher, logger logging.Logger) *Walker {
	if mapper == nil {
		mapper = pathmap.New()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Walker{client: client, mapper: mapper, matcher: matcher, logger: logger}
}

// Roots maps root containers to their local directories and drops the
// ones the matcher rejects. Order is preserved.
func (w *Walker) Roots(nodes []types.RemoteNode) []Entry {
	paths := w.mapper.MapSiblings("", nodes)
	roots := make([]Entry, 0, len(nodes))
	for i, n := range nodes {
		e := Entry{Node: n, RemotePath: n.Name, LocalPath: paths[i]}
		if !w.matcher.Allows(n, e.LocalPath, 0) {
			w.logger.Debug("Root excluded", logging.F("id", n.ID), logging.F("name", n.Name))
			continue
		}
		roots = append(roots, e)
	}
	return roots
}

// Walk yields every root and its allowed descendants in depth-first
// pre-order, siblings in listing order. A container is listed only when
// the consumer reaches it, and all of its pages are read before any child
// is yielded. A listing failure is yielded as (container, err) and the
// walk continues with the container's siblings. Each call lists afresh.
func (w *Walker) Walk(ctx context.Context, roots []Entry) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, root := range roots {
			if ctx.Err() != nil {
				return
			}
			if !w.walk(ctx, root, yield) {
				return
			}
		}
	}
}

func (w *Walker) walk(ctx context.Context, e Entry, yield func(Entry, error) bool) bool {
	if !yield(e, nil) {
		return false
	}
	if !e.Node.IsContainer() {
		return true
	}

	children, err := w.listAll(ctx, e)
	if err != nil {
		return yield(e, err)
	}

	paths := w.mapper.MapSiblings(e.LocalPath, children)
	for i, child := range children {
		if ctx.Err() != nil {
			return false
		}
		if child.ParentID == "" {
			child.ParentID = e.Node.ID
		}
		ce := Entry{
			Node:       child,
			RemotePath: e.RemotePath + "/" + child.Name,
			LocalPath:  paths[i],
			Depth:      e.Depth + 1,
		}
		if !w.matcher.Allows(child, ce.LocalPath, ce.Depth) {
			w.logger.Debug("Node excluded", logging.F("id", child.ID), logging.F("path", ce.RemotePath))
			continue
		}
		if !w.walk(ctx, ce, yield) {
			return false
		}
	}
	return true
}

func (w *Walker) listAll(ctx context.Context, e Entry) ([]types.RemoteNode, error) {
	var nodes []types.RemoteNode
	cursor := ""
	pages := 0
	for {
		page, next, err := w.client.ListChildren(ctx, e.Node.ID, cursor)
		if err == nil && next != "" && next == cursor {
			err = fmt.Errorf("pagination cursor %q did not advance", next)
		}
		if err != nil {
			w.logger.Warn("Listing failed",
				logging.F("container", e.RemotePath),
				logging.F("page", pages+1),
				logging.F("error", err.Error()),
			)
			if pages == 0 {
				return nil, &ListingError{Container: e, Cause: err}
			}
			return nil, &PartialTreeError{Container: e, PagesRead: pages, Cause: err}
		}
		pages++
		nodes = append(nodes, page...)
		if next == "" {
			return nodes, nil
		}
		cursor = next
	}
}
