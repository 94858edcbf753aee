package fixer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/re-cinq/cwm/internal/classify"
	"github.com/re-cinq/cwm/internal/fileutil"
)

// secretLikeName matches env var names CWM treats as secrets, generating
// a cryptographically random value for them rather than an empty string
// (spec §4.3).
var secretLikeName = regexp.MustCompile(`_(KEY|SECRET|TOKEN|SALT)$`)

// EnvVarOptions controls whether FixMissingEnvVar also writes .env in
// addition to .env.example, split out per spec §9's redesign note.
type EnvVarOptions struct {
	WriteDotEnv bool
}

// FixMissingEnvVar appends NAME=<value> to .env.example (and .env when
// enabled) for every captured env var name, never overwriting an existing
// key (spec §4.3, round-trip law: re-running never changes an existing
// value).
func FixMissingEnvVar(issue classify.Issue, workspaceRoot string, opts EnvVarOptions) Result {
	names := parseEnvVarNames(issue.FileHint)
	if len(names) == 0 {
		return failed("no environment variable name captured")
	}

	var touched []string
	for _, name := range names {
		changed, err := ensureEnvVarIn(workspaceRoot, ".env.example", name)
		if err != nil {
			return failed(err.Error())
		}
		if changed {
			touched = append(touched, ".env.example")
		}

		if opts.WriteDotEnv {
			changed, err := ensureEnvVarIn(workspaceRoot, ".env", name)
			if err != nil {
				return failed(err.Error())
			}
			if changed {
				touched = append(touched, ".env")
			}
		}
	}

	if len(touched) == 0 {
		return alreadySatisfied()
	}
	return applied(dedupeStrings(touched)...)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func parseEnvVarNames(hint string) []string {
	var out []string
	for _, part := range strings.Split(hint, ",") {
		name := strings.TrimSpace(part)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// ensureEnvVarIn appends NAME=<value> to the named dotfile if NAME is not
// already defined there. Returns whether the file changed.
func ensureEnvVarIn(workspaceRoot, relPath, name string) (bool, error) {
	path, err := resolvePath(workspaceRoot, relPath)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading %s: %w", relPath, err)
	}

	if hasEnvKey(string(data), name) {
		return false, nil
	}

	value := ""
	if secretLikeName.MatchString(name) {
		value, err = randomURLSafeValue(32)
		if err != nil {
			return false, fmt.Errorf("generating value for %s: %w", name, err)
		}
	}

	line := fmt.Sprintf("%s=%s\n", name, value)
	updated := string(data)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += line

	if err := fileutil.WriteFileAtomic(path, []byte(updated), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", relPath, err)
	}
	return true, nil
}

func hasEnvKey(content, name string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, found := strings.Cut(trimmed, "=")
		if found && strings.TrimSpace(key) == name {
			return true
		}
	}
	return false
}

func randomURLSafeValue(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
