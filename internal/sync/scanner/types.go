package scanner

import "time"

// LocalFile is a regular file found under the sync root
type LocalFile struct {
	RelativePath string
	Size         int64
	ModTime      time.Time
	// Hash is the hex MD5 of the content, empty unless requested
	Hash string
}

// DiscrepancyKind classifies a difference between state and disk
type DiscrepancyKind string

const (
	// DiscrepancyMissing is a recorded file that is gone from disk
	DiscrepancyMissing DiscrepancyKind = "missing"
	// DiscrepancySize is a recorded file whose size changed
	DiscrepancySize DiscrepancyKind = "size"
	// DiscrepancyChecksum is a recorded file whose bytes no longer match the remote hash
	DiscrepancyChecksum DiscrepancyKind = "checksum"
	// DiscrepancyUntracked is a file no sync has written
	DiscrepancyUntracked DiscrepancyKind = "untracked"
)

// Discrepancy is one difference found by Verify
type Discrepancy struct {
	Path   string          `json:"path"`
	Kind   DiscrepancyKind `json:"kind"`
	Detail string          `json:"detail,omitempty"`
}

// DiscrepancyList renders Verify results as a table
type DiscrepancyList []Discrepancy

func (l DiscrepancyList) Headers() []string {
	return []string{"Path", "Problem", "Detail"}
}

func (l DiscrepancyList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		rows = append(rows, []string{d.Path, string(d.Kind), d.Detail})
	}
	return rows
}

func (l DiscrepancyList) EmptyMessage() string {
	return "Local files match the sync state"
}
