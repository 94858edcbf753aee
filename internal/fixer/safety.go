// Package fixer implements the closed IssueKind -> handler dispatch (spec
// §4.3 — component C3). Every handler is idempotent, confined to the
// workspace root, and writes all-or-nothing via a temp-file-plus-rename.
package fixer

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/re-cinq/cwm/internal/fileutil"
)

// resolvePath validates relPath stays under workspaceRoot and returns its
// absolute path. Any path that escapes the workspace, and any path with
// glob metacharacters that does not form a valid pattern, is rejected per
// the fixer contract's bounded-blast-radius rule.
func resolvePath(workspaceRoot, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("path-escape: empty path")
	}
	if strings.ContainsAny(relPath, "*?[") {
		// Defense in depth: a captured fileHint should never itself be a
		// glob. A malformed pattern is rejected; a well-formed one is not
		// expanded and is resolved as a literal file name below.
		if !doublestar.ValidatePattern(relPath) {
			return "", fmt.Errorf("path-escape: invalid pattern %q", relPath)
		}
	}

	abs, err := fileutil.ResolveInWorkspace(workspaceRoot, relPath)
	if err != nil {
		return "", fmt.Errorf("path-escape: %w", err)
	}
	return abs, nil
}
