package classify

import "regexp"

// rule is one entry of the ordered pattern table from spec §4.2. extract
// pulls the fileHint out of a regex match (capture group 1 by default);
// a nil extract means there is no file hint for this kind.
type rule struct {
	kind    IssueKind
	pattern *regexp.Regexp
	extract func(match []string) string
}

func captureGroup(n int) func([]string) string {
	return func(m []string) string {
		if len(m) > n {
			return m[n]
		}
		return ""
	}
}

// rules is evaluated top-to-bottom against every line of a log; the first
// rule to match a given line wins for that line, but distinct rules may
// each match distinct lines in the same log, yielding multiple issues.
var rules = []rule{
	{
		kind:    MissingDependency,
		pattern: regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`),
		extract: captureGroup(1),
	},
	{
		kind:    ImportError,
		pattern: regexp.MustCompile(`ImportError: cannot import name '([^']+)' from '([^']+)'`),
		extract: func(m []string) string {
			if len(m) > 2 {
				return m[2] + "." + m[1]
			}
			return ""
		},
	},
	{
		kind:    MissingEnvVar,
		pattern: regexp.MustCompile(`Missing required environment variable\(?s?\)?:\s*([A-Za-z0-9_, ]+)`),
		extract: captureGroup(1),
	},
	{
		kind:    YAMLSyntaxError,
		pattern: regexp.MustCompile(`(?i)yaml.*(parse|syntax) error`),
		extract: nil, // file hint comes from the following line; see classifier.go
	},
	{
		kind:    LintFailure,
		pattern: regexp.MustCompile(`(?i)^(black|ruff|isort|flake8)\b.*(would reformat|error|\d+ error)`),
		extract: nil,
	},
	{
		kind:    TestFailure,
		pattern: regexp.MustCompile(`(===+ FAILURES? ===+|^\d+ failed\b|^FAILED\b)`),
		extract: nil,
	},
	{
		kind:    BuildFailure,
		pattern: regexp.MustCompile(`(?i)(docker build.*(error|failed)|compilation error|error: .*\bcompil)`),
		extract: nil,
	},
	{
		kind:    PermissionError,
		pattern: regexp.MustCompile(`Permission denied(?:: '?([^'\n]+)'?)?`),
		extract: captureGroup(1),
	},
	{
		kind:    NetworkError,
		pattern: regexp.MustCompile(`(?i)(connection (timed out|refused|reset)|could not resolve host|tls handshake (timeout|failure|error)|name or service not known)`),
		extract: nil,
	},
	{
		kind:    Timeout,
		pattern: regexp.MustCompile(`timed out after (\d+)`),
		extract: captureGroup(1),
	},
}

// yamlFilePattern matches a bare file path on its own line, used to pull
// the file hint out of the line following a YAML parse-error line.
var yamlFilePattern = regexp.MustCompile(`^\s*(?:in\s+)?["']?([\w./\-]+\.ya?ml)["']?\s*$`)
