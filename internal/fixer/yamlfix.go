package fixer

import (
	"fmt"
	"os"

	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fileutil"
	"gopkg.in/yaml.v3"
)

// FixYAMLSyntaxError re-serializes the named file through a safe
// load+dump round trip, normalizing quoting and indentation (spec §4.3).
// A file that cannot be parsed at all is Failed("unparseable") — this
// fixer cannot repair semantically broken YAML, only reformat valid YAML
// a prior pass rejected for style.
func FixYAMLSyntaxError(issue classify.Issue, workspaceRoot string) Result {
	if issue.FileHint == "" {
		return failed("no file path captured")
	}

	path, err := resolvePath(workspaceRoot, issue.FileHint)
	if err != nil {
		return failed(err.Error())
	}

	original, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return skipped("file-absent")
		}
		return failed(fmt.Sprintf("reading file: %s", err))
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(original, &doc); err != nil {
		return failed("unparseable")
	}

	normalized, err := yaml.Marshal(&doc)
	if err != nil {
		return failed("unparseable")
	}

	if bytesEqual(original, normalized) {
		return alreadySatisfied()
	}

	if err := fileutil.WriteFileAtomic(path, normalized, 0644); err != nil {
		return failed(fmt.Sprintf("writing file: %s", err))
	}
	return applied(issue.FileHint)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
