package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// StageAll stages every tracked+modified and untracked path under the
// workspace, honoring .gitignore (spec §4.4). git itself already respects
// .gitignore for untracked files via `git add -A`; the explicit gitignore
// matcher here is used by the orchestrator to decide whether a set of
// fixer-touched paths is entirely ignored noise before even calling
// StageAll, matching the teacher's ignore-pattern-driven skip in
// internal/engine (there gated on .lineignore, here on .gitignore).
func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// Commit creates a commit iff the index differs from HEAD; returns ""
// with no error when there is nothing to commit (spec §4.4). The message
// is "auto-fix(iter=<N>): <issueKindsCSV>" with a UTC timestamp trailer.
func (r *Repo) Commit(iteration int, issueKindsCSV string) (string, error) {
	changed, err := stagedDiffersFromHead(r)
	if err != nil {
		return "", err
	}
	if !changed {
		return "", nil
	}

	msg := fmt.Sprintf("auto-fix(iter=%d): %s\n\nTimestamp: %s",
		iteration, issueKindsCSV, time.Now().UTC().Format(time.RFC3339))

	if _, err := r.run("commit", "--no-verify", "-m", msg); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return r.HeadCommit()
}

func stagedDiffersFromHead(r *Repo) (bool, error) {
	// `git diff --cached --name-only` lists staged paths; any output means
	// there is a staged diff.
	out, err := r.run("diff", "--cached", "--name-only")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// PushResult is the closed variant from spec §4.4.
type PushResult string

const (
	PushOk         PushResult = "Ok"
	PushUpToDate   PushResult = "UpToDate"
	PushRejected   PushResult = "Rejected"
	PushNetworkErr PushResult = "NetworkError"
)

// Push pushes HEAD to the tracked upstream branch.
func (r *Repo) Push(remote, branch string) (PushResult, string) {
	out, err := r.run("push", remote, "HEAD:"+branch)
	if err == nil {
		if strings.Contains(out, "Everything up-to-date") {
			return PushUpToDate, out
		}
		return PushOk, out
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first") || strings.Contains(msg, "rejected"):
		return PushRejected, msg
	default:
		return PushNetworkErr, msg
	}
}

// loadIgnoreMatcher loads the workspace's .gitignore, returning nil (never
// matches) when no .gitignore file exists.
func loadIgnoreMatcher(workspaceRoot string) (*ignore.GitIgnore, error) {
	path := filepath.Join(workspaceRoot, ".gitignore")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading .gitignore: %w", err)
	}
	return gi, nil
}

// AllPathsIgnored returns true when every path in paths matches the
// workspace's .gitignore (nil matcher always returns false), mirroring
// the teacher's filesMatchIgnorePatterns helper.
func AllPathsIgnored(workspaceRoot string, paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	gi, err := loadIgnoreMatcher(workspaceRoot)
	if err != nil || gi == nil {
		return false
	}
	for _, p := range paths {
		if !gi.MatchesPath(p) {
			return false
		}
	}
	return true
}
