package fixer

import (
	"fmt"
	"os"
	"strings"

	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fileutil"
)

// DependencyManifest is the canonical manifest file the MissingDependency
// fixer appends to. requirements.txt is the default for the Python-shaped
// CI this spec targets; it is resolved relative to workspaceRoot.
const DependencyManifest = "requirements.txt"

// FixMissingDependency appends the captured package name to the
// dependency manifest, one line, newline-terminated, if not already
// present. No version pinning is attempted (spec §4.3).
func FixMissingDependency(issue classify.Issue, workspaceRoot string) Result {
	pkg := strings.TrimSpace(issue.FileHint)
	if pkg == "" {
		return failed("no package name captured")
	}

	path, err := resolvePath(workspaceRoot, DependencyManifest)
	if err != nil {
		return failed(err.Error())
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return failed(fmt.Sprintf("reading manifest: %s", err))
	}

	lines := splitNonEmptyLines(string(existing))
	for _, l := range lines {
		if strings.EqualFold(strings.TrimSpace(l), pkg) {
			return alreadySatisfied()
		}
	}

	lines = append(lines, pkg)
	content := strings.Join(lines, "\n") + "\n"
	if err := fileutil.WriteFileAtomic(path, []byte(content), 0644); err != nil {
		return failed(fmt.Sprintf("writing manifest: %s", err))
	}
	return applied(DependencyManifest)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
