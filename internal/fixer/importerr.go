package fixer

import (
	"fmt"
	"os"
	"strings"

	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fileutil"
)

// FixImportError appends a stub definition for the missing symbol to its
// module file, but only if the module file already exists and the symbol
// is not already defined there (spec §4.3). A missing module file is not
// an error this fixer can resolve — it returns Skipped("module-absent").
func FixImportError(issue classify.Issue, workspaceRoot string) Result {
	mod, fn, ok := splitModuleSymbol(issue.FileHint)
	if !ok {
		return failed("could not parse module/symbol from match")
	}

	modPath := strings.ReplaceAll(mod, ".", "/") + ".py"
	path, err := resolvePath(workspaceRoot, modPath)
	if err != nil {
		return failed(err.Error())
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return skipped("module-absent")
	}
	if err != nil {
		return failed(fmt.Sprintf("reading module: %s", err))
	}

	if definesSymbol(string(data), fn) {
		return alreadySatisfied()
	}

	stub := fmt.Sprintf("\n\ndef %s(*a, **kw):\n    raise NotImplementedError\n", fn)
	updated := strings.TrimRight(string(data), "\n") + stub
	if err := fileutil.WriteFileAtomic(path, []byte(updated), 0644); err != nil {
		return failed(fmt.Sprintf("writing module: %s", err))
	}
	return applied(modPath)
}

// splitModuleSymbol expects the "mod.fn" shape produced by the ImportError
// classifier rule's extractor.
func splitModuleSymbol(hint string) (mod, fn string, ok bool) {
	idx := strings.LastIndex(hint, ".")
	if idx <= 0 || idx == len(hint)-1 {
		return "", "", false
	}
	return hint[:idx], hint[idx+1:], true
}

func definesSymbol(source, fn string) bool {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "def "+fn+"(") || strings.HasPrefix(trimmed, "def "+fn+" (") {
			return true
		}
	}
	return false
}
