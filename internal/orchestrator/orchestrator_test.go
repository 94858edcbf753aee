package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	budgetpkg "github.com/re-cinq/cwm/internal/budget"
	"github.com/re-cinq/cwm/internal/ci"
	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fixer"
	"github.com/re-cinq/cwm/internal/vcs"
	"github.com/stretchr/testify/require"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

// setupRepos creates a bare "origin" and a working clone with an initial
// commit, returning the clone's path.
func setupRepos(t *testing.T) (workDir string) {
	t.Helper()
	bare := t.TempDir()
	git(t, bare, "init", "--bare", "-q")

	clone := t.TempDir()
	git(t, clone, "init", "-q")
	git(t, clone, "config", "user.name", "cwm-test")
	git(t, clone, "config", "user.email", "cwm-test@localhost")
	require.NoError(t, os.WriteFile(filepath.Join(clone, "README.md"), []byte("hi\n"), 0644))
	git(t, clone, "add", "-A")
	git(t, clone, "commit", "-q", "-m", "initial")
	git(t, clone, "branch", "-M", "main")
	git(t, clone, "remote", "add", "origin", bare)
	git(t, clone, "push", "-q", "origin", "main")
	return clone
}

// fakeGitHub serves a canned sequence of ListRuns/Jobs/Logs responses,
// one "tick" per call, to drive the orchestrator through a deterministic
// fail-then-pass scenario.
type fakeGitHub struct {
	tick  int32
	log   string
}

func (f *fakeGitHub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/actions/runs":
			n := atomic.LoadInt32(&f.tick)
			if n == 0 {
				_ = json.NewEncoder(w).Encode(ghRunsPageFixture(true))
			} else {
				_ = json.NewEncoder(w).Encode(ghRunsPageFixture(false))
			}
			atomic.AddInt32(&f.tick, 1)
		case r.URL.Path == "/repos/acme/widgets/actions/runs/1/jobs":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobs": []map[string]any{{"id": 100}},
			})
		case r.URL.Path == "/repos/acme/widgets/actions/jobs/100/logs":
			_, _ = w.Write([]byte(f.log))
		default:
			http.NotFound(w, r)
		}
	}
}

func ghRunsPageFixture(failed bool) map[string]any {
	status, conclusion := "completed", "success"
	if failed {
		conclusion = "failure"
	}
	return map[string]any{
		"workflow_runs": []map[string]any{
			{
				"id":          1,
				"name":        "ci",
				"status":      status,
				"conclusion":  conclusion,
				"updated_at":  time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, workDir string, fg *fakeGitHub, requiredPassStreak int) *Orchestrator {
	t.Helper()
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	provider, err := ci.NewGitHubProvider(srv.Client(), srv.URL, "acme", "widgets", "")
	require.NoError(t, err)
	ciClient := ci.NewClient(provider, ci.ClientOptions{})

	registry := fixer.NewRegistry(fixer.Options{WorkspaceRoot: workDir})
	repo := vcs.NewRepo(workDir)
	b := budgetpkg.New(budgetpkg.Options{Base: time.Millisecond})

	cfg := Config{Branch: "main", Remote: "origin", CheckInterval: time.Millisecond, RequiredPassStreak: requiredPassStreak}
	return New(cfg, ciClient, registry, repo, b, nil)
}

func TestRunAppliesFixAndStopsOnPassStreak(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "ModuleNotFoundError: No module named 'requests'\n"}
	o := newTestOrchestrator(t, workDir, fg, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	final, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StopPassed, final.StopReason)
	require.True(t, final.Success)
	require.GreaterOrEqual(t, final.FixesApplied, 1)

	data, err := os.ReadFile(filepath.Join(workDir, "requirements.txt"))
	require.NoError(t, err)
	require.Contains(t, string(data), "requests")

	log := git(t, workDir, "log", "--format=%s")
	require.Contains(t, log, "auto-fix(iter=")
}

func TestRunStopsOnCancellation(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "TestFailure: 1 failed\n"}
	o := newTestOrchestrator(t, workDir, fg, 1000) // unreachable pass streak

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StopCancelled, final.StopReason)
}

func TestRunDryRunNeverWritesOrCommits(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "ModuleNotFoundError: No module named 'requests'\n"}

	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)
	provider, err := ci.NewGitHubProvider(srv.Client(), srv.URL, "acme", "widgets", "")
	require.NoError(t, err)
	ciClient := ci.NewClient(provider, ci.ClientOptions{})
	registry := fixer.NewRegistry(fixer.Options{WorkspaceRoot: workDir})
	repo := vcs.NewRepo(workDir)
	b := budgetpkg.New(budgetpkg.Options{Base: time.Millisecond})

	cfg := Config{Branch: "main", Remote: "origin", CheckInterval: time.Millisecond, RequiredPassStreak: 2, DryRun: true}
	o := New(cfg, ciClient, registry, repo, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	final, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StopPassed, final.StopReason)
	require.Equal(t, 0, final.FixesApplied)

	_, statErr := os.Stat(filepath.Join(workDir, "requirements.txt"))
	require.True(t, os.IsNotExist(statErr))

	log := git(t, workDir, "log", "--format=%s")
	require.NotContains(t, log, "auto-fix(iter=")
}

func TestRunStopsFatalOnWorkspaceEscapingFix(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "ImportError: cannot import name 'pwned' from '../../etc/passwd'\n"}
	o := newTestOrchestrator(t, workDir, fg, 1000) // unreachable pass streak

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	final, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StopFatal, final.StopReason)
	require.False(t, final.Success)
}

func TestTickSkipsCommitWhenAllFixedPathsGitignored(t *testing.T) {
	workDir := setupRepos(t)
	require.NoError(t, os.WriteFile(filepath.Join(workDir, ".gitignore"), []byte(".env\n.env.example\n"), 0644))
	git(t, workDir, "add", "-A")
	git(t, workDir, "commit", "-q", "-m", "add gitignore")

	fg := &fakeGitHub{log: "Missing required environment variable: API_KEY\n"}
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	provider, err := ci.NewGitHubProvider(srv.Client(), srv.URL, "acme", "widgets", "")
	require.NoError(t, err)
	ciClient := ci.NewClient(provider, ci.ClientOptions{})
	registry := fixer.NewRegistry(fixer.Options{WorkspaceRoot: workDir, WriteDotEnv: true})
	repo := vcs.NewRepo(workDir)
	b := budgetpkg.New(budgetpkg.Options{Base: time.Millisecond})

	cfg := Config{Branch: "main", Remote: "origin", CheckInterval: time.Millisecond, RequiredPassStreak: 1000}
	o := New(cfg, ciClient, registry, repo, b, nil)

	rec, stop := o.tick(context.Background())
	require.Equal(t, Continue, stop)
	require.Equal(t, 1, rec.FixesApplied, "the env-var fixer still runs and writes .env/.env.example")
	require.Empty(t, rec.CommitSHA, "a fix confined to gitignored paths must not be committed")

	data, err := os.ReadFile(filepath.Join(workDir, ".env"))
	require.NoError(t, err)
	require.Contains(t, string(data), "API_KEY")

	log := git(t, workDir, "log", "--format=%s")
	require.NotContains(t, log, "auto-fix(iter=")
}

// scriptedGitHub serves one github run-status string per tick (e.g.
// "completed", "in_progress"; a completed run concludes "failure"),
// reusing run id 1 / job id 100 throughout.
type scriptedGitHub struct {
	tick   int32
	logs   map[string]string // per-tick job log, keyed by tick index as a string
	status []string          // status per tick ("completed"/"in_progress"/...)
}

func (f *scriptedGitHub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/actions/runs":
			n := int(atomic.AddInt32(&f.tick, 1)) - 1
			status := "completed"
			if n < len(f.status) {
				status = f.status[n]
			}
			conclusion := "failure"
			if status != "completed" {
				conclusion = ""
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workflow_runs": []map[string]any{
					{
						"id":         1,
						"name":       "ci",
						"status":     status,
						"conclusion": conclusion,
						"updated_at": time.Now().UTC().Format(time.RFC3339),
					},
				},
			})
		case r.URL.Path == "/repos/acme/widgets/actions/runs/1/jobs":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobs": []map[string]any{{"id": 100}},
			})
		case r.URL.Path == "/repos/acme/widgets/actions/jobs/100/logs":
			n := atomic.LoadInt32(&f.tick) - 1
			_, _ = w.Write([]byte(f.logs[string(rune('0'+n))]))
		default:
			http.NotFound(w, r)
		}
	}
}

func TestTickPrunesStaleIssueOnTickWithNoFailedRuns(t *testing.T) {
	workDir := setupRepos(t)
	fg := &scriptedGitHub{
		status: []string{"completed", "in_progress"},
		logs:   map[string]string{"0": "ModuleNotFoundError: No module named 'requests'\n"},
	}
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	provider, err := ci.NewGitHubProvider(srv.Client(), srv.URL, "acme", "widgets", "")
	require.NoError(t, err)
	ciClient := ci.NewClient(provider, ci.ClientOptions{})
	registry := fixer.NewRegistry(fixer.Options{WorkspaceRoot: workDir})
	repo := vcs.NewRepo(workDir)
	b := budgetpkg.New(budgetpkg.Options{Base: time.Millisecond})

	cfg := Config{Branch: "main", Remote: "origin", CheckInterval: time.Millisecond, RequiredPassStreak: 1000}
	o := New(cfg, ciClient, registry, repo, b, nil)

	ctx := context.Background()

	rec1, stop1 := o.tick(ctx)
	require.Equal(t, Continue, stop1)
	require.NotEmpty(t, rec1.CountsByKind, "first tick must observe the missing-dependency issue")
	o.iteration++ // Run advances the iteration index between ticks

	rec2, stop2 := o.tick(ctx)
	require.Equal(t, Continue, stop2)
	require.Empty(t, rec2.CountsByKind, "an issue not re-observed in a no-failed-runs tick must be pruned")
}

func TestTickReusesCachedClassificationForUnchangedLog(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "Missing required environment variable: API_KEY\n"}
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	provider, err := ci.NewGitHubProvider(srv.Client(), srv.URL, "acme", "widgets", "")
	require.NoError(t, err)
	ciClient := ci.NewClient(provider, ci.ClientOptions{})
	registry := fixer.NewRegistry(fixer.Options{WorkspaceRoot: workDir})
	repo := vcs.NewRepo(workDir)
	b := budgetpkg.New(budgetpkg.Options{Base: time.Millisecond})

	cfg := Config{Branch: "main", Remote: "origin", CheckInterval: time.Millisecond, RequiredPassStreak: 1000, DryRun: true}
	o := New(cfg, ciClient, registry, repo, b, nil)

	ctx := context.Background()

	rec1, _ := o.tick(ctx)
	require.NotEmpty(t, rec1.CountsByKind)
	require.Len(t, o.classifyCache, 1, "one run/job pair classified and cached")
	cached := o.classifyCache[classifyCacheKey{runID: "1", jobID: "100"}]
	require.NotEmpty(t, cached.hash)
	require.NotEmpty(t, cached.issues)

	atomic.StoreInt32(&fg.tick, 0) // re-serve the same failing run unchanged
	// Rewind the cursor so the run is listed again (as it is when CI bumps
	// its update time), and advance the iteration as Run does, so the
	// issue survives Prune only if the cache re-contributes it.
	o.cursor = ci.ZeroCursor
	o.iteration++
	rec2, _ := o.tick(ctx)
	require.Equal(t, rec1.CountsByKind, rec2.CountsByKind, "an unchanged log re-contributes its cached issues")
	require.Len(t, o.classifyCache, 1, "the unchanged log reuses its cache entry rather than growing the cache")
}

func TestSetDryRunTakesEffectOnNextTick(t *testing.T) {
	workDir := setupRepos(t)
	fg := &fakeGitHub{log: "ModuleNotFoundError: No module named 'requests'\n"}
	o := newTestOrchestrator(t, workDir, fg, 1000) // unreachable pass streak
	o.SetDryRun(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, stop := o.tick(ctx)
	require.Equal(t, Continue, stop)
	require.Equal(t, 0, rec.FixesApplied)
	_, statErr := os.Stat(filepath.Join(workDir, "requirements.txt"))
	require.True(t, os.IsNotExist(statErr))

	o.SetDryRun(false)
	for i := 0; i < 3; i++ {
		rec, stop = o.tick(ctx)
		if stop != Continue {
			break
		}
	}
	data, err := os.ReadFile(filepath.Join(workDir, "requirements.txt"))
	require.NoError(t, err)
	require.Contains(t, string(data), "requests")
}

func TestIssueSetMergeAndPruneLifecycle(t *testing.T) {
	set := make(IssueSet)
	observed := []classify.Issue{{Fingerprint: "fp1", Kind: classify.MissingDependency}}

	set.Merge(observed, 1)
	require.Len(t, set, 1)
	require.Equal(t, 1, set["fp1"].FirstSeenIter)

	set.Merge(observed, 2)
	require.Equal(t, 2, set["fp1"].LastSeenIter)

	set.Prune(3) // fp1 last seen at iter 2, not re-observed at iter 3
	require.Empty(t, set)
}
