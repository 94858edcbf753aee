package fixer

import "github.com/re-cinq/cwm/internal/classify"

// Status is the closed FixResult variant of spec §3.
type Status string

const (
	Applied          Status = "Applied"
	AlreadySatisfied Status = "AlreadySatisfied"
	Skipped          Status = "Skipped"
	Failed           Status = "Failed"
)

// Result is the outcome of applying one fixer to one issue.
type Result struct {
	Status Status
	Reason string
	// Paths lists the workspace-relative files an Applied fixer wrote to,
	// so the orchestrator can check them against .gitignore before
	// staging (spec §4.4).
	Paths []string
}

func applied(paths ...string) Result { return Result{Status: Applied, Paths: paths} }
func alreadySatisfied() Result       { return Result{Status: AlreadySatisfied} }
func skipped(reason string) Result   { return Result{Status: Skipped, Reason: reason} }
func failed(reason string) Result    { return Result{Status: Failed, Reason: reason} }

// Handler fixes one issue in the given workspace.
type Handler func(issue classify.Issue, workspaceRoot string) Result
