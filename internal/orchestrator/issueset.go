package orchestrator

import (
	"sort"

	"github.com/re-cinq/cwm/internal/budget"
	"github.com/re-cinq/cwm/internal/classify"
)

// TrackedIssue is one IssueSet entry (spec §3): a classified Issue plus the
// orchestrator-owned lifecycle fields the classifier itself never sees.
type TrackedIssue struct {
	classify.Issue
	FirstSeenIter int
	LastSeenIter  int
	Retries       int
}

// IssueSet is the fingerprint -> Issue map the orchestrator owns; only the
// orchestrator ever writes to it (spec §3's "never mutated concurrently").
type IssueSet map[string]*TrackedIssue

// Merge folds this tick's freshly classified issues into the set, adding
// new fingerprints and bumping LastSeenIter on re-observation.
func (s IssueSet) Merge(observed []classify.Issue, iteration int) {
	for _, issue := range observed {
		if existing, ok := s[issue.Fingerprint]; ok {
			existing.LastSeenIter = iteration
			existing.Match = issue.Match
			continue
		}
		s[issue.Fingerprint] = &TrackedIssue{
			Issue:         issue,
			FirstSeenIter: iteration,
			LastSeenIter:  iteration,
		}
	}
}

// Prune drops every entry not re-observed in the given iteration (spec
// §3's "[an issue] leaves only when an iteration completes without
// re-observing its fingerprint in any failed run's logs").
func (s IssueSet) Prune(iteration int) {
	for fp, ti := range s {
		if ti.LastSeenIter != iteration {
			delete(s, fp)
		}
	}
}

// Applyable returns the open, auto-fixable, non-exhausted, currently
// eligible issues, ordered Critical > High > Medium > Low with
// fingerprint-lexicographic tie-break (spec §4.2, §4.6 step 5).
func (s IssueSet) Applyable(b *budget.Budget) []*TrackedIssue {
	var out []*TrackedIssue
	for _, ti := range s {
		if !ti.AutoFixable() {
			continue
		}
		if b.Exhausted(ti.Fingerprint) {
			continue
		}
		if !b.EligibleNow(ti.Fingerprint) {
			continue
		}
		out = append(out, ti)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity() != out[j].Severity() {
			return out[i].Severity() > out[j].Severity()
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// CountsByKind tallies the open IssueSet by kind, for IterationRecord.
func (s IssueSet) CountsByKind() map[classify.IssueKind]int {
	counts := make(map[classify.IssueKind]int)
	for _, ti := range s {
		counts[ti.Kind]++
	}
	return counts
}
