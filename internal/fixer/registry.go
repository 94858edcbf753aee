package fixer

import (
	"io"
	"time"

	"github.com/re-cinq/cwm/internal/classify"
)

// Registry is the closed IssueKind -> Handler dispatch table (spec §4.3,
// component C3). It is built once from config and is safe for repeated,
// sequential use by the orchestrator — fixers never run concurrently with
// each other or with VCS operations (spec §5).
type Registry struct {
	workspaceRoot string
	envVarOpts    EnvVarOptions
	lintOpts      LintOptions
}

// Options configures the registry's stateful handlers.
type Options struct {
	WorkspaceRoot     string
	WriteDotEnv       bool
	FormatterCommands [][]string
	ToolTimeout       time.Duration
	ToolOutput        io.Writer
}

// NewRegistry builds the fixer dispatch table.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		workspaceRoot: opts.WorkspaceRoot,
		envVarOpts:    EnvVarOptions{WriteDotEnv: opts.WriteDotEnv},
		lintOpts: LintOptions{
			Commands: opts.FormatterCommands,
			Timeout:  opts.ToolTimeout,
			Output:   opts.ToolOutput,
		},
	}
}

// WorkspaceRoot returns the directory the registry's handlers write under.
func (r *Registry) WorkspaceRoot() string {
	return r.workspaceRoot
}

// Apply dispatches an issue to its registered handler. Kinds without a
// fixer (spec's "non-auto-fixable kinds") always resolve to
// Skipped("manual").
func (r *Registry) Apply(issue classify.Issue) Result {
	switch issue.Kind {
	case classify.MissingDependency:
		return FixMissingDependency(issue, r.workspaceRoot)
	case classify.ImportError:
		return FixImportError(issue, r.workspaceRoot)
	case classify.MissingEnvVar:
		return FixMissingEnvVar(issue, r.workspaceRoot, r.envVarOpts)
	case classify.YAMLSyntaxError:
		return FixYAMLSyntaxError(issue, r.workspaceRoot)
	case classify.LintFailure:
		return FixLintFailure(issue, r.workspaceRoot, r.lintOpts)
	default:
		return fixManual(issue, r.workspaceRoot)
	}
}
