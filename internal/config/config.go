// Package config loads and validates the CWM configuration: the CI
// provider, the watched repository/branch, and every tunable in spec §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full CWM configuration, loaded from YAML with defaults
// applied the way the teacher's config.Load does.
type Config struct {
	CIToken   string `yaml:"ciToken"`
	RepoOwner string `yaml:"repoOwner"`
	RepoName  string `yaml:"repoName"`
	Branch    string `yaml:"branch"`

	CheckInterval      Duration `yaml:"checkInterval"`
	MaxRetries         int      `yaml:"maxRetries"`
	MaxIterations      int      `yaml:"maxIterations"`
	MaxWallClock       Duration `yaml:"maxWallClock"`
	RequiredPassStreak int      `yaml:"requiredPassStreak"`
	MaxInflightFetches int      `yaml:"maxInflightFetches"`
	MaxLogBytes        int64    `yaml:"maxLogBytes"`
	WorkspaceRoot      string   `yaml:"workspaceRoot"`
	WriteDotEnv        bool     `yaml:"writeDotEnv"`
	DryRun             bool     `yaml:"dryRun"`

	VCS      VCSConfig      `yaml:"vcs,omitempty"`
	Fixers   FixersConfig   `yaml:"fixers,omitempty"`
	Reporter ReporterConfig `yaml:"reporter,omitempty"`
	HTTP     HTTPConfig     `yaml:"http,omitempty"`
	Provider ProviderConfig `yaml:"provider,omitempty"`
}

// VCSConfig configures commit/push identity for the auto-fix commits.
type VCSConfig struct {
	AuthorName  string `yaml:"authorName"`
	AuthorEmail string `yaml:"authorEmail"`
	Remote      string `yaml:"remote"`
}

// FixersConfig configures the subprocess tool list used by the
// LintFailure fixer and the per-tool timeout.
type FixersConfig struct {
	FormatterCommands [][]string `yaml:"formatterCommands,omitempty"`
	ToolTimeout       Duration   `yaml:"toolTimeout"`
}

// ReporterConfig configures the structured logging and report sink.
type ReporterConfig struct {
	LogFormat    string `yaml:"logFormat"` // "console" or "json"
	ReportsDir   string `yaml:"reportsDir"`
	SlackWebhook string `yaml:"slackWebhook,omitempty"`
}

// HTTPConfig configures the optional health/metrics surface.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ProviderConfig configures the CI provider REST adapter.
type ProviderConfig struct {
	BaseURL       string `yaml:"baseURL"`
	MinAPIVersion string `yaml:"minAPIVersion,omitempty"`
}

// Load reads and parses a CWM config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, validates them against the embedded
// JSON Schema, and applies defaults.
func Parse(data []byte) (*Config, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = Duration(60 * time.Second)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxWallClock == 0 {
		cfg.MaxWallClock = Duration(2 * time.Hour)
	}
	if cfg.RequiredPassStreak == 0 {
		cfg.RequiredPassStreak = 3
	}
	if cfg.MaxInflightFetches == 0 {
		cfg.MaxInflightFetches = 4
	}
	if cfg.MaxLogBytes == 0 {
		cfg.MaxLogBytes = 1048576
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "."
	}
	if cfg.VCS.AuthorName == "" {
		cfg.VCS.AuthorName = "cwm"
	}
	if cfg.VCS.AuthorEmail == "" {
		cfg.VCS.AuthorEmail = "cwm@localhost"
	}
	if cfg.VCS.Remote == "" {
		cfg.VCS.Remote = "origin"
	}
	if cfg.Fixers.ToolTimeout == 0 {
		cfg.Fixers.ToolTimeout = Duration(120 * time.Second)
	}
	if len(cfg.Fixers.FormatterCommands) == 0 {
		cfg.Fixers.FormatterCommands = [][]string{
			{"black", "."},
			{"isort", "."},
		}
	}
	if cfg.Reporter.LogFormat == "" {
		cfg.Reporter.LogFormat = "console"
	}
	if cfg.Reporter.ReportsDir == "" {
		cfg.Reporter.ReportsDir = "reports"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":9090"
	}
}

// Validate runs the semantic checks the JSON Schema pass cannot express
// (cross-field requirements), in the teacher's Validate() []error style.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.CIToken == "" {
		errs = append(errs, fmt.Errorf("ciToken is required"))
	}
	if cfg.RepoOwner == "" {
		errs = append(errs, fmt.Errorf("repoOwner is required"))
	}
	if cfg.RepoName == "" {
		errs = append(errs, fmt.Errorf("repoName is required"))
	}
	if cfg.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("maxRetries must be >= 1"))
	}
	if cfg.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("maxIterations must be >= 1"))
	}
	if cfg.RequiredPassStreak < 1 {
		errs = append(errs, fmt.Errorf("requiredPassStreak must be >= 1"))
	}
	if cfg.MaxInflightFetches < 1 {
		errs = append(errs, fmt.Errorf("maxInflightFetches must be >= 1"))
	}
	if cfg.Reporter.LogFormat != "console" && cfg.Reporter.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("reporter.logFormat must be \"console\" or \"json\""))
	}

	return errs
}

// asJSON round-trips decoded YAML into a generic JSON-compatible value,
// which is what the JSON Schema validator operates on.
func asJSON(data []byte) (interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	normalized, err := yamlToJSONCompatible(raw)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func yamlToJSONCompatible(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			converted, err := yamlToJSONCompatible(e)
			if err != nil {
				return nil, err
			}
			m[k] = converted
		}
		return m, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, e := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v", k)
			}
			converted, err := yamlToJSONCompatible(e)
			if err != nil {
				return nil, err
			}
			m[ks] = converted
		}
		return m, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			converted, err := yamlToJSONCompatible(e)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return v, nil
	}
}
