// Package ci implements the CIClient (spec §4.1, component C1): listing
// recent workflow runs and fetching job logs from a remote CI provider,
// with token auth, rate-limit discipline, and bounded-concurrency fan-out.
package ci

import "time"

// RunStatus is the closed variant from spec §3.
type RunStatus string

const (
	StatusQueued     RunStatus = "Queued"
	StatusInProgress RunStatus = "InProgress"
	StatusSuccess    RunStatus = "Success"
	StatusFailure    RunStatus = "Failure"
	StatusCancelled  RunStatus = "Cancelled"
	StatusSkipped    RunStatus = "Skipped"
	StatusUnknown    RunStatus = "Unknown"
)

// Run is one workflow run entry returned by ListRecentRuns.
type Run struct {
	RunID        string
	WorkflowName string
	Status       RunStatus
	CompletedAt  time.Time
	JobIDs       []string
}

// Cursor is an opaque monotone high-water mark; callers pass the returned
// value back on the next call. Internally it is the most recent
// CompletedAt observed, RFC3339-encoded.
type Cursor string

// ZeroCursor is the initial cursor value, covering all history.
const ZeroCursor Cursor = ""
