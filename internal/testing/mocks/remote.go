package mocks

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notPlancha/CanvasSync/internal/remote"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// RemoteTree is an in-memory remote.Client. Children are served PageSize
// at a time; hooks inject failures per page or per download attempt.
type RemoteTree struct {
	mu       sync.Mutex
	roots    []string
	nodes    map[string]types.RemoteNode
	children map[string][]string
	content  map[string][]byte

	// PageSize is the number of children per page (default 2)
	PageSize int
	// OmitChecksums hides sizes and digests from OpenContent
	OmitChecksums bool

	// ListRootsFunc, when set, replaces ListRootContainers
	ListRootsFunc func(ctx context.Context) ([]types.RemoteNode, error)
	// ListHook runs before a page is served; a non-nil error is returned instead
	ListHook func(containerID string, page int) error
	// OpenHook runs before content is opened; attempt counts from 1 per node
	OpenHook func(ctx context.Context, nodeID string, attempt int) error
	// BodyHook may wrap the content stream, e.g. to stall or corrupt it
	BodyHook func(nodeID string, body io.Reader) io.Reader

	listCalls map[string]int
	openCalls map[string]int
}

var _ remote.Client = (*RemoteTree)(nil)

// NewRemoteTree creates an empty tree
func NewRemoteTree() *RemoteTree {
	return &RemoteTree{
		nodes:     make(map[string]types.RemoteNode),
		children:  make(map[string][]string),
		content:   make(map[string][]byte),
		PageSize:  2,
		listCalls: make(map[string]int),
		openCalls: make(map[string]int),
	}
}

// AddRoot adds a root container
func (r *RemoteTree) AddRoot(id, name string) *RemoteTree {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = types.RemoteNode{ID: id, Kind: types.NodeKindContainer, Name: name}
	r.roots = append(r.roots, id)
	return r
}

// AddContainer adds a container under parentID
func (r *RemoteTree) AddContainer(parentID, id, name string) *RemoteTree {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = types.RemoteNode{ID: id, Kind: types.NodeKindContainer, Name: name, ParentID: parentID}
	r.children[parentID] = append(r.children[parentID], id)
	return r
}

// AddLeaf adds a file under parentID
func (r *RemoteTree) AddLeaf(parentID, id, name, body string) *RemoteTree {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = types.RemoteNode{ID: id, Kind: types.NodeKindLeaf, Name: name, ParentID: parentID}
	r.children[parentID] = append(r.children[parentID], id)
	r.setContentLocked(id, body)
	return r
}

// SetContent replaces the bytes of a leaf, changing its fingerprint
func (r *RemoteTree) SetContent(id, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setContentLocked(id, body)
}

func (r *RemoteTree) setContentLocked(id, body string) {
	n := r.nodes[id]
	sum := md5.Sum([]byte(body))
	n.MD5 = hex.EncodeToString(sum[:])
	n.Size = int64(len(body))
	n.ModifiedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(r.content)) * time.Minute)
	n.Fingerprint = types.NewFingerprint(n.ModifiedTime, n.Size, n.MD5)
	r.nodes[id] = n
	r.content[id] = []byte(body)
}

// Rename changes the name of a node
func (r *RemoteTree) Rename(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodes[id]
	n.Name = name
	r.nodes[id] = n
}

// Delete removes a node from its parent's listing. Its content stays
// reachable only through IDs the caller already holds.
func (r *RemoteTree) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodes[id]
	kids := r.children[n.ParentID]
	for i, k := range kids {
		if k == id {
			r.children[n.ParentID] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	delete(r.nodes, id)
	delete(r.content, id)
}

// Node returns the current version of a node
func (r *RemoteTree) Node(id string) types.RemoteNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[id]
}

// ListCalls returns how many pages of containerID were requested
func (r *RemoteTree) ListCalls(containerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls[containerID]
}

// OpenCalls returns how many times the content of nodeID was opened
func (r *RemoteTree) OpenCalls(nodeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCalls[nodeID]
}

// TotalOpenCalls returns the number of OpenContent calls across all nodes
func (r *RemoteTree) TotalOpenCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.openCalls {
		total += n
	}
	return total
}

func (r *RemoteTree) ListRootContainers(ctx context.Context) ([]types.RemoteNode, error) {
	if r.ListRootsFunc != nil {
		return r.ListRootsFunc(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	roots := make([]types.RemoteNode, 0, len(r.roots))
	for _, id := range r.roots {
		if n, ok := r.nodes[id]; ok {
			roots = append(roots, n)
		}
	}
	return roots, nil
}

func (r *RemoteTree) ListChildren(ctx context.Context, containerID, cursor string) ([]types.RemoteNode, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "page:"))
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor %q", cursor)
		}
		page = n
	}

	r.mu.Lock()
	r.listCalls[containerID]++
	hook := r.ListHook
	r.mu.Unlock()
	if hook != nil {
		if err := hook(containerID, page); err != nil {
			return nil, "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[containerID]; !ok {
		return nil, "", NotFound(containerID)
	}
	size := r.PageSize
	if size <= 0 {
		size = 2
	}
	ids := r.children[containerID]
	start := (page - 1) * size
	if start > len(ids) {
		start = len(ids)
	}
	end := start + size
	if end > len(ids) {
		end = len(ids)
	}
	nodes := make([]types.RemoteNode, 0, end-start)
	for _, id := range ids[start:end] {
		nodes = append(nodes, r.nodes[id])
	}
	next := ""
	if end < len(ids) {
		next = "page:" + strconv.Itoa(page+1)
	}
	return nodes, next, nil
}

func (r *RemoteTree) OpenContent(ctx context.Context, leaf types.RemoteNode) (*remote.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.openCalls[leaf.ID]++
	attempt := r.openCalls[leaf.ID]
	hook := r.OpenHook
	r.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, leaf.ID, attempt); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	data, ok := r.content[leaf.ID]
	node := r.nodes[leaf.ID]
	bodyHook := r.BodyHook
	r.mu.Unlock()
	if !ok {
		return nil, NotFound(leaf.ID)
	}

	var body io.Reader = bytes.NewReader(data)
	if bodyHook != nil {
		body = bodyHook(leaf.ID, body)
	}
	c := &remote.Content{Body: io.NopCloser(body), Size: -1}
	if !r.OmitChecksums {
		c.Size = node.Size
		c.MD5 = node.MD5
	}
	return c, nil
}

// NotFound builds the error a backend returns for a missing node
func NotFound(id string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "not found: "+id).Build())
}

// Transient builds a retryable network error
func Transient(msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, msg).WithRetryable(true).Build())
}

// AuthExpired builds the error a backend returns for a rejected credential
func AuthExpired() error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthExpired, "token expired").WithHTTPStatus(401).Build())
}
