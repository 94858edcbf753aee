package fixer

import "github.com/re-cinq/cwm/internal/classify"

// fixManual is the handler registered for every IssueKind without an
// auto-fix, always returning Skipped("manual") (spec §4.3).
func fixManual(_ classify.Issue, _ string) Result {
	return skipped("manual")
}
