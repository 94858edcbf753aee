package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Classify turns a raw job log into a deduplicated, ordered list of
// Issues. It is a pure function: identical (log, context) always yields a
// byte-identical result (spec invariant 4), so it never consults a clock,
// a counter, or any package-level state.
func Classify(log string, ctx JobContext) []Issue {
	lines := strings.Split(log, "\n")

	// seen dedupes multiple lines hitting the same rule with the same
	// captured text into one issue, same as one ModuleNotFoundError
	// repeated across a traceback.
	seen := make(map[string]Issue)

	for i, line := range lines {
		for _, r := range rules {
			m := r.pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			fileHint := ""
			if r.kind == YAMLSyntaxError {
				fileHint = fileHintFromFollowingLine(lines, i)
			} else if r.extract != nil {
				fileHint = r.extract(m)
			}

			issue := Issue{
				Kind:     r.kind,
				Match:    line,
				FileHint: fileHint,
				RunID:    ctx.RunID,
				JobID:    ctx.JobID,
			}
			issue.Fingerprint = Fingerprint(issue.Kind, issue.FileHint, issue.Match)

			if _, exists := seen[issue.Fingerprint]; !exists {
				seen[issue.Fingerprint] = issue
			}
			break // first matching rule wins for this line
		}
	}

	if len(seen) == 0 {
		issue := Issue{
			Kind:  Unknown,
			Match: firstNonEmptyLine(lines),
			RunID: ctx.RunID,
			JobID: ctx.JobID,
		}
		issue.Fingerprint = Fingerprint(issue.Kind, issue.FileHint, issue.Match)
		seen[issue.Fingerprint] = issue
	}

	out := make([]Issue, 0, len(seen))
	for _, issue := range seen {
		out = append(out, issue)
	}
	SortBySeverityThenFingerprint(out)
	return out
}

// SortBySeverityThenFingerprint orders issues Critical > High > Medium >
// Low, breaking ties on fingerprint lexicographic order (spec §4.2, §5).
func SortBySeverityThenFingerprint(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		si, sj := issues[i].Severity(), issues[j].Severity()
		if si != sj {
			return si > sj
		}
		return issues[i].Fingerprint < issues[j].Fingerprint
	})
}

// Fingerprint computes the stable per-issue-class identifier: sha256 of
// kind, normalized file hint, and the first matched line truncated to 128
// bytes, truncated itself to 16 hex characters. The spec fixes this exact
// algorithm (§4.2), so it is intentionally not swapped for a
// library-provided hash.
func Fingerprint(kind IssueKind, fileHint, matchedLine string) string {
	normalizedHint := normalizeHint(fileHint)
	line := matchedLine
	if len(line) > 128 {
		line = line[:128]
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(normalizedHint))
	h.Write([]byte{0})
	h.Write([]byte(line))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

func normalizeHint(hint string) string {
	lower := strings.ToLower(hint)
	return strings.Join(strings.Fields(lower), " ")
}

func fileHintFromFollowingLine(lines []string, idx int) string {
	for j := idx + 1; j < len(lines) && j <= idx+3; j++ {
		if m := yamlFilePattern.FindStringSubmatch(lines[j]); m != nil {
			return m[1]
		}
	}
	return ""
}

func firstNonEmptyLine(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// ContentHash returns a fast blake3 digest of a raw log, used by the
// orchestrator as a cheap equality check to skip reclassifying a log that
// hasn't changed since the previous tick. Classify itself never consults
// this cache — it stays pure.
func ContentHash(log string) string {
	sum := blake3.Sum256([]byte(log))
	return hex.EncodeToString(sum[:])
}
