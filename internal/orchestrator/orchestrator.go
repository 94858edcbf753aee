package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/re-cinq/cwm/internal/budget"
	"github.com/re-cinq/cwm/internal/ci"
	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fixer"
	"github.com/re-cinq/cwm/internal/vcs"
)

// ErrWorkspaceEscape is a fatal condition: a fixer attempted to write
// outside workspaceRoot (spec §4.6's fatal-condition list).
var ErrWorkspaceEscape = errors.New("orchestrator: workspace escape detected")

// Config holds the tunables spec §4.6/§6 name for the orchestrator loop.
type Config struct {
	Branch             string
	Remote             string
	CheckInterval      time.Duration
	RequiredPassStreak int
	// DryRun restricts the tick loop to classify-and-report: no fixer is
	// ever applied and no commit/push happens (spec §6 invariant 8).
	DryRun bool
}

// Orchestrator owns the tick loop's state (spec §4.6): IssueSet,
// RetryBudget, cursor, pass streak, iteration index.
type Orchestrator struct {
	cfg      Config
	ci       *ci.Client
	registry *fixer.Registry
	repo     *vcs.Repo
	budget   *budget.Budget
	reporter Reporter

	cursor     ci.Cursor
	passStreak int
	iteration  int
	issues     IssueSet
	dryRun     atomic.Bool

	// classifyCache holds, per run/job, the blake3 digest of the last log
	// classified and the issues that classification produced, so a job
	// whose log is byte-identical to the one classified before skips
	// Classify entirely and just re-contributes its prior issues to this
	// tick's observed set. The cursor only lists runs updated since the
	// previous tick, so this applies to a failed run that is listed again
	// with a later update time while its job log is unchanged.
	classifyCache map[classifyCacheKey]classifyCacheEntry
}

type classifyCacheKey struct {
	runID string
	jobID string
}

type classifyCacheEntry struct {
	hash   string
	issues []classify.Issue
}

// New builds an Orchestrator. A nil reporter falls back to a no-op sink.
func New(cfg Config, ciClient *ci.Client, registry *fixer.Registry, repo *vcs.Repo, b *budget.Budget, reporter Reporter) *Orchestrator {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if reporter == nil {
		reporter = noopReporter{}
	}
	o := &Orchestrator{
		cfg:           cfg,
		ci:            ciClient,
		registry:      registry,
		repo:          repo,
		budget:        b,
		reporter:      reporter,
		cursor:        ci.ZeroCursor,
		issues:        make(IssueSet),
		classifyCache: make(map[classifyCacheKey]classifyCacheEntry),
	}
	o.dryRun.Store(cfg.DryRun)
	return o
}

// SetDryRun updates the dry-run toggle in place, safe to call from a
// goroutine other than the one driving Run (e.g. a config file watcher),
// taking effect on the next tick.
func (o *Orchestrator) SetDryRun(v bool) {
	o.dryRun.Store(v)
}

// Run drives the loop until a terminal Stop is reached or ctx is
// cancelled, returning the FinalReport (spec §4.6, §4.7).
func (o *Orchestrator) Run(ctx context.Context) (*FinalReport, error) {
	final := &FinalReport{StartedAt: time.Now().UTC()}
	found := make(map[string]bool)

	for {
		if ctx.Err() != nil {
			final.StopReason = StopCancelled
			break
		}

		rec, stop := o.tick(ctx)
		final.Iterations = append(final.Iterations, rec)
		final.FixesApplied += rec.FixesApplied
		for fp := range o.issues {
			found[fp] = true
		}
		final.TotalIssues = len(found)
		if err := o.reporter.WriteIteration(rec); err != nil {
			o.reporter.Errorf("writing iteration report: %v", err)
		}

		o.budget.AdvanceIteration()
		o.iteration++

		if stop == Continue && o.budget.Exceeded() {
			stop = StopBudget
		}
		if stop != Continue {
			final.StopReason = stop
			break
		}

		select {
		case <-ctx.Done():
			final.StopReason = StopCancelled
		case <-time.After(o.cfg.CheckInterval):
			continue
		}
		break
	}

	final.EndedAt = time.Now().UTC()
	final.Success = final.StopReason == StopPassed
	if len(final.Iterations) > 100 {
		final.Iterations = final.Iterations[len(final.Iterations)-100:]
	}
	if err := o.reporter.WriteFinal(*final); err != nil {
		o.reporter.Errorf("writing final report: %v", err)
	}
	return final, nil
}

// tick executes one iteration of spec §4.6's numbered steps.
func (o *Orchestrator) tick(ctx context.Context) (IterationRecord, Stop) {
	rec := IterationRecord{Iteration: o.iteration, Timestamp: time.Now().UTC(), NextAction: Continue}

	runs, newCursor, err := o.ci.ListRecentRuns(ctx, o.cfg.Branch, o.cursor)
	if err != nil {
		if errors.Is(err, ci.ErrFatalAuth) {
			rec.Error = err.Error()
			rec.NextAction = StopFatal
			return rec, StopFatal
		}
		o.reporter.Errorf("listRecentRuns: %v (treating as transient)", err)
		rec.Error = err.Error()
		return rec, Continue
	}
	o.cursor = newCursor

	var failedRuns []ci.Run
	allSucceeded := true
	for _, r := range runs {
		if r.Status == ci.StatusFailure {
			failedRuns = append(failedRuns, r)
			allSucceeded = false
		} else if r.Status != ci.StatusSuccess {
			allSucceeded = false
		}
	}
	if allSucceeded {
		o.passStreak++
	} else {
		o.passStreak = 0
	}
	if o.cfg.RequiredPassStreak > 0 && o.passStreak >= o.cfg.RequiredPassStreak {
		rec.NextAction = StopPassed
		return rec, StopPassed
	}

	var observed []classify.Issue
	for _, run := range failedRuns {
		logs, err := o.ci.FetchJobLogsConcurrent(ctx, run.RunID, run.JobIDs)
		if err != nil {
			o.reporter.Errorf("fetchJobLogs for run %s: %v", run.RunID, err)
			var use *ci.UnknownStatusError
			if errors.As(err, &use) {
				issue := classify.Issue{Kind: classify.Unknown, Match: err.Error(), RunID: run.RunID}
				issue.Fingerprint = classify.Fingerprint(issue.Kind, issue.FileHint, issue.Match)
				observed = append(observed, issue)
			}
			continue
		}
		for jobID, log := range logs {
			key := classifyCacheKey{runID: run.RunID, jobID: jobID}
			hash := classify.ContentHash(log)

			if cached, ok := o.classifyCache[key]; ok && cached.hash == hash {
				observed = append(observed, cached.issues...)
				continue
			}

			jctx := classify.JobContext{RunID: run.RunID, JobID: jobID}
			issues := classify.Classify(log, jctx)
			o.classifyCache[key] = classifyCacheEntry{hash: hash, issues: issues}
			observed = append(observed, issues...)
		}
	}
	// Merge/Prune run every tick, even with zero failed runs: an issue
	// leaves the set only once an iteration completes without
	// re-observing its fingerprint (spec §3), and a tick with runs still
	// InProgress/Queued (allSucceeded=false, no failure observed) must
	// not let a previously-open issue linger past its fingerprint's
	// disappearance.
	o.issues.Merge(observed, o.iteration)
	o.issues.Prune(o.iteration)

	rec.CountsByKind = o.issues.CountsByKind()

	if o.dryRun.Load() {
		return rec, Continue
	}

	applyable := o.issues.Applyable(o.budget)
	var fixesApplied int
	var appliedKinds []string
	var touchedPaths []string
	for _, ti := range applyable {
		result := o.registry.Apply(ti.Issue)
		o.budget.RecordAttempt(ti.Fingerprint)
		ti.Retries++
		switch result.Status {
		case fixer.Applied:
			fixesApplied++
			appliedKinds = append(appliedKinds, string(ti.Kind))
			touchedPaths = append(touchedPaths, result.Paths...)
		case fixer.Failed:
			if strings.HasPrefix(result.Reason, "path-escape") {
				rec.Error = ErrWorkspaceEscape.Error()
				rec.NextAction = StopFatal
				return rec, StopFatal
			}
		}
	}
	rec.FixesApplied = fixesApplied

	// A fix entirely confined to gitignored paths (e.g. a formatter run
	// that only rewrote a generated/ignored file) produces nothing git
	// would ever track, so staging and committing is skipped outright
	// (spec §4.4).
	if fixesApplied > 0 && vcs.AllPathsIgnored(o.registry.WorkspaceRoot(), touchedPaths) {
		o.reporter.Infof("iteration %d: all fixer-touched paths are gitignored, skipping commit", o.iteration)
		return rec, Continue
	}

	if fixesApplied > 0 {
		sha, stop := o.commitAndPush(o.iteration, appliedKinds)
		rec.CommitSHA = sha
		if stop == StopFatal {
			rec.NextAction = StopFatal
			return rec, StopFatal
		}
	}

	return rec, Continue
}

// commitAndPush implements spec §4.6 step 7: stage, commit, push, with one
// fetch+rebase retry on a rejected push.
func (o *Orchestrator) commitAndPush(iteration int, issueKinds []string) (string, Stop) {
	if err := o.repo.StageAll(); err != nil {
		o.reporter.Errorf("stageAll: %v", err)
		return "", Continue
	}

	issueKindsCSV := joinUnique(issueKinds)
	sha, err := o.repo.Commit(iteration, issueKindsCSV)
	if err != nil {
		o.reporter.Errorf("commit: %v", err)
		return "", Continue
	}
	if sha == "" {
		return "", Continue
	}

	result, detail := o.repo.Push(o.cfg.Remote, o.cfg.Branch)
	switch result {
	case vcs.PushOk, vcs.PushUpToDate:
		return sha, Continue
	case vcs.PushRejected:
		if err := o.repo.FetchRebase(o.cfg.Remote, o.cfg.Branch); err != nil {
			o.reporter.Errorf("fetch+rebase after rejected push: %v", err)
			return sha, StopFatal
		}
		result2, detail2 := o.repo.Push(o.cfg.Remote, o.cfg.Branch)
		if result2 == vcs.PushOk || result2 == vcs.PushUpToDate {
			return sha, Continue
		}
		o.reporter.Errorf("push rejected again after rebase: %s", detail2)
		return sha, StopFatal
	default: // PushNetworkErr — transient
		o.reporter.Errorf("push network error: %s", detail)
		return sha, Continue
	}
}

func joinUnique(kinds []string) string {
	seen := make(map[string]bool, len(kinds))
	var out []string
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	csv := ""
	for i, k := range out {
		if i > 0 {
			csv += ","
		}
		csv += k
	}
	if csv == "" {
		csv = "none"
	}
	return csv
}
