package types

import (
	"fmt"
	"strconv"
	"time"
)

// SyncStage names the phase in which a failure happened
type SyncStage string

const (
	SyncStageListing  SyncStage = "listing"
	SyncStageDownload SyncStage = "download"
	SyncStageState    SyncStage = "state"
)

// SyncFailure describes one item that could not be synchronized
type SyncFailure struct {
	NodeID   string    `json:"nodeId"`
	Name     string    `json:"name"`
	Path     string    `json:"path,omitempty"`
	Stage    SyncStage `json:"stage"`
	Code     string    `json:"code"`
	Cause    string    `json:"cause"`
	Attempts int       `json:"attempts,omitempty"`
}

// SyncReport summarizes one synchronization run
type SyncReport struct {
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Roots       int           `json:"roots"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Removed     int           `json:"removed"`
	Directories int           `json:"directories"`
	Pending     int           `json:"pending,omitempty"`
	DryRun      bool          `json:"dryRun,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Failures    []SyncFailure `json:"failures"`
}

// Duration returns the wall time of the run
func (r *SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *SyncReport) Headers() []string {
	return []string{"Created", "Updated", "Skipped", "Failed", "Removed", "Dirs", "Pending", "Duration"}
}

func (r *SyncReport) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(r.Created),
		strconv.Itoa(r.Updated),
		strconv.Itoa(r.Skipped),
		strconv.Itoa(r.Failed),
		strconv.Itoa(r.Removed),
		strconv.Itoa(r.Directories),
		strconv.Itoa(r.Pending),
		r.Duration().Truncate(time.Millisecond).String(),
	}}
}

func (r *SyncReport) EmptyMessage() string {
	return "Nothing synchronized"
}

// FailureTable renders the failure list as a table
type FailureTable []SyncFailure

func (f FailureTable) Headers() []string {
	return []string{"Stage", "Code", "Path", "Cause"}
}

func (f FailureTable) Rows() [][]string {
	rows := make([][]string, 0, len(f))
	for _, failure := range f {
		path := failure.Path
		if path == "" {
			path = failure.Name
		}
		cause := failure.Cause
		if failure.Attempts > 1 {
			cause = fmt.Sprintf("%s (after %d attempts)", cause, failure.Attempts)
		}
		rows = append(rows, []string{string(failure.Stage), failure.Code, path, cause})
	}
	return rows
}

func (f FailureTable) EmptyMessage() string {
	return "No failures"
}
