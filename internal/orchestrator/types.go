// Package orchestrator implements the Orchestrator (spec §4.6, component
// C6): the poll -> classify -> fix -> commit -> wait tick loop, owning the
// IssueSet, RetryBudget, cursor, pass-streak, and termination predicate.
package orchestrator

import (
	"time"

	"github.com/re-cinq/cwm/internal/classify"
)

// Stop is the closed termination-predicate variant from spec §4.6.
type Stop string

const (
	Continue      Stop = "Continue"
	StopPassed    Stop = "Stop:Passed"
	StopBudget    Stop = "Stop:Budget"
	StopFatal     Stop = "Stop:Fatal"
	StopCancelled Stop = "Stop:Cancelled"
)

// IterationRecord is the per-tick snapshot written by the Reporter.
type IterationRecord struct {
	Iteration  int                         `json:"iteration"`
	Timestamp  time.Time                   `json:"timestamp"`
	CountsByKind map[classify.IssueKind]int `json:"countsByKind"`
	FixesApplied int                       `json:"fixesApplied"`
	CommitSHA    string                    `json:"commitSha,omitempty"`
	NextAction   Stop                      `json:"nextAction"`
	Error        string                    `json:"error,omitempty"`
}

// FinalReport aggregates every IterationRecord plus run-level summary
// fields (spec §3).
type FinalReport struct {
	StartedAt      time.Time         `json:"startedAt"`
	EndedAt        time.Time         `json:"endedAt"`
	TotalIssues    int               `json:"totalIssues"`
	FixesApplied   int               `json:"fixesApplied"`
	Success        bool              `json:"success"`
	StopReason     Stop              `json:"stopReason"`
	Iterations     []IterationRecord `json:"iterations"`
}
