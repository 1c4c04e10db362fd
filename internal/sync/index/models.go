package index

import (
	"time"

	"github.com/dustin/go-humanize"
)

// LocalEntry records what was last written locally for one remote node
type LocalEntry struct {
	RemoteID string `json:"remoteId"`
	// LocalPath is relative to the sync root and slash separated
	LocalPath   string    `json:"localPath"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	LastSync    time.Time `json:"lastSync"`
}

// StateList renders the recorded entries as a table
type StateList []LocalEntry

func (l StateList) Headers() []string {
	return []string{"Path", "Remote ID", "Size", "Last Sync"}
}

func (l StateList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			e.LocalPath,
			e.RemoteID,
			humanize.IBytes(uint64(max(e.Size, 0))),
			e.LastSync.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func (l StateList) EmptyMessage() string {
	return "Nothing has been synced yet"
}
