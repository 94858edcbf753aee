package fixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/re-cinq/cwm/internal/classify"
)

// LintOptions configures the formatter/linter subprocess chain run by
// FixLintFailure.
type LintOptions struct {
	Commands [][]string
	Timeout  time.Duration
	// Output, when set, receives the PTY-streamed combined output of every
	// tool invocation — the same live-log pattern as the teacher's
	// invokeAgent (internal/engine/engine.go).
	Output io.Writer
}

// FixLintFailure runs the configured formatter command list in order,
// each under a hard timeout. Any non-zero exit short-circuits the chain
// with Failed(tool) (spec §4.3).
func FixLintFailure(_ classify.Issue, workspaceRoot string, opts LintOptions) Result {
	if len(opts.Commands) == 0 {
		return skipped("no formatter commands configured")
	}

	ranAny := false
	for _, cmdline := range opts.Commands {
		if len(cmdline) == 0 {
			continue
		}
		changed, err := runFormatter(workspaceRoot, cmdline, opts.Timeout, opts.Output)
		if err != nil {
			return failed(fmt.Sprintf("%s: %s", cmdline[0], err))
		}
		ranAny = ranAny || changed
	}

	if !ranAny {
		return alreadySatisfied()
	}
	return applied(dirtyPaths(workspaceRoot)...)
}

// dirtyPaths lists the paths `git status --porcelain` reports as changed,
// workspace-relative, used to tell the orchestrator which files a
// formatter run touched.
func dirtyPaths(workspaceRoot string) []string {
	porcelain, err := workspaceDigest(workspaceRoot)
	if err != nil || porcelain == "" {
		return nil
	}
	var paths []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 4 {
			continue
		}
		p := strings.TrimSpace(line[3:])
		if idx := strings.Index(p, " -> "); idx >= 0 {
			p = p[idx+len(" -> "):]
		}
		paths = append(paths, p)
	}
	return paths
}

func runFormatter(workspaceRoot string, cmdline []string, timeout time.Duration, output io.Writer) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	before, _ := workspaceDigest(workspaceRoot)

	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Dir = workspaceRoot

	ptmx, pts, err := pty.Open()
	if err != nil {
		return false, fmt.Errorf("opening pty: %w", err)
	}
	defer ptmx.Close()

	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		return false, fmt.Errorf("starting: %w", err)
	}
	pts.Close()

	var sink io.Writer = io.Discard
	if output != nil {
		sink = output
	}
	if _, copyErr := io.Copy(sink, ptmx); copyErr != nil {
		var pathErr *os.PathError
		if !(errors.As(copyErr, &pathErr) && pathErr.Err == syscall.EIO) {
			cmd.Wait()
			return false, fmt.Errorf("reading output: %w", copyErr)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, errors.New("timeout")
		}
		return false, err
	}

	after, _ := workspaceDigest(workspaceRoot)
	return before != after, nil
}

// workspaceDigest is a cheap, best-effort signal of whether a formatter
// changed anything: the output of `git status --porcelain`. A
// real VCS-aware diff happens at commit time (internal/vcs); this is only
// used to decide Applied vs. AlreadySatisfied for reporting purposes.
func workspaceDigest(workspaceRoot string) (string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = workspaceRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
