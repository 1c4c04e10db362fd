package types

import (
	"strconv"
	"strings"
	"time"
)

// NodeKind distinguishes nodes that hold children from downloadable files
type NodeKind string

const (
	NodeKindContainer NodeKind = "container"
	NodeKindLeaf      NodeKind = "leaf"
)

// Fingerprint identifies a version of remote content. Two nodes with equal
// fingerprints are assumed to have identical bytes.
type Fingerprint string

// NewFingerprint builds a fingerprint from whatever the backend exposes.
// A content hash takes precedence; otherwise modification time and size
// are combined.
func NewFingerprint(modTime time.Time, size int64, hash string) Fingerprint {
	if hash != "" {
		return Fingerprint("hash:" + strings.ToLower(hash))
	}
	var sb strings.Builder
	sb.WriteString("mtime:")
	if !modTime.IsZero() {
		sb.WriteString(modTime.UTC().Format(time.RFC3339Nano))
	}
	sb.WriteString("|size:")
	sb.WriteString(strconv.FormatInt(size, 10))
	return Fingerprint(sb.String())
}

// RemoteNode is a single node of the remote tree. Nodes are plain values
// rebuilt on every run; ParentID is a back-reference by identifier only.
type RemoteNode struct {
	ID           string      `json:"id"`
	Kind         NodeKind    `json:"kind"`
	Name         string      `json:"name"`
	ParentID     string      `json:"parentId,omitempty"`
	Fingerprint  Fingerprint `json:"fingerprint,omitempty"`
	Children     []string    `json:"children,omitempty"`
	Size         int64       `json:"size,omitempty"`
	ModifiedTime time.Time   `json:"modifiedTime,omitempty"`
	MD5          string      `json:"md5,omitempty"`
	MimeType     string      `json:"mimeType,omitempty"`
}

// IsContainer reports whether the node may have children
func (n RemoteNode) IsContainer() bool {
	return n.Kind == NodeKindContainer
}
