package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/re-cinq/cwm/internal/budget"
	"github.com/re-cinq/cwm/internal/ci"
	"github.com/re-cinq/cwm/internal/config"
	"github.com/re-cinq/cwm/internal/fixer"
	"github.com/re-cinq/cwm/internal/httpapi"
	"github.com/re-cinq/cwm/internal/orchestrator"
	"github.com/re-cinq/cwm/internal/report"
	"github.com/re-cinq/cwm/internal/vcs"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <config-file>",
	Short: "Run the CI watchdog/mechanic loop until it stops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repoDir, absPath, err := loadAndValidate(args[0])
		if err != nil {
			return err
		}
		return runWatchdog(cfg, repoDir, absPath)
	},
}

// loadAndValidate loads, schema-validates, and cross-field-validates the
// config at path, then resolves the Git repository root it lives under.
// The returned absPath is the config file's own absolute path, used by
// callers that want to watch it for hot-reload.
func loadAndValidate(path string) (cfg *config.Config, repoDir string, absPath string, err error) {
	cfg, err = config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, "", "", err
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, "", "", fmt.Errorf("%d validation error(s)", len(errs))
	}

	absPath, err = filepath.Abs(path)
	if err != nil {
		return nil, "", "", err
	}
	repoDir = findGitRoot(filepath.Dir(absPath))
	if repoDir == "" {
		return nil, "", "", fmt.Errorf("could not find git repository root from %s", filepath.Dir(absPath))
	}
	return cfg, repoDir, absPath, nil
}

func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// runWatchdog wires every component per spec §6 and drives the
// orchestrator loop to completion, honoring SIGINT/SIGTERM as a clean
// Stop:Cancelled.
func runWatchdog(cfg *config.Config, repoDir string, configPath string) error {
	logger, err := report.NewLogger(cfg.Reporter.LogFormat == "json")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	metrics := report.NewMetrics(registry)
	reporter := report.New(report.Options{
		Logger:       logger,
		ReportsDir:   filepath.Join(repoDir, cfg.Reporter.ReportsDir),
		Metrics:      metrics,
		SlackWebhook: cfg.Reporter.SlackWebhook,
	})

	httpClient := ci.NewAuthenticatedHTTPClient(context.Background(), cfg.CIToken)
	provider, err := ci.NewGitHubProvider(httpClient, cfg.Provider.BaseURL, cfg.RepoOwner, cfg.RepoName, cfg.Provider.MinAPIVersion)
	if err != nil {
		return fmt.Errorf("building CI provider: %w", err)
	}
	ciClient := ci.NewClient(provider, ci.ClientOptions{
		MaxInflightFetches: cfg.MaxInflightFetches,
		MaxLogBytes:        int(cfg.MaxLogBytes),
		RequestsPerSecond:  rate.Limit(2),
	})

	fixerRegistry := fixer.NewRegistry(fixer.Options{
		WorkspaceRoot:     repoDir,
		WriteDotEnv:       cfg.WriteDotEnv,
		FormatterCommands: cfg.Fixers.FormatterCommands,
		ToolTimeout:       cfg.Fixers.ToolTimeout.Duration(),
	})

	repo := vcs.NewRepo(repoDir)
	repo.EnsureIdentity(cfg.VCS.AuthorName, cfg.VCS.AuthorEmail)

	b := budget.New(budget.Options{
		MaxRetries:    cfg.MaxRetries,
		MaxIterations: cfg.MaxIterations,
		MaxWallClock:  cfg.MaxWallClock.Duration(),
	})

	orchCfg := orchestrator.Config{
		Branch:             cfg.Branch,
		Remote:             cfg.VCS.Remote,
		CheckInterval:      cfg.CheckInterval.Duration(),
		RequiredPassStreak: cfg.RequiredPassStreak,
		DryRun:             cfg.DryRun,
	}
	orch := orchestrator.New(orchCfg, ciClient, fixerRegistry, repo, b, reporter)

	watcher, err := config.NewWatcher(configPath, cfg, func(err error) {
		reporter.Errorf("config reload: %v (keeping previous config)", err)
	})
	if err != nil {
		reporter.Errorf("config watcher disabled: %v", err)
	} else {
		defer watcher.Close() //nolint:errcheck
		go func() {
			for reloaded := range watcher.Events() {
				orch.SetDryRun(reloaded.DryRun)
				reporter.Infof("config reloaded, dryRun=%v", reloaded.DryRun)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		reporter.Infof("received %s, shutting down", sig)
		cancel()
	}()

	if cfg.HTTP.Enabled {
		srv := httpapi.NewServer(cfg.HTTP.Addr, registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				reporter.Errorf("http server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background()) //nolint:errcheck
	}

	final, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator run: %w", err)
	}

	fmt.Printf("stopped: %s (fixes applied: %d, iterations: %d)\n",
		final.StopReason, final.FixesApplied, len(final.Iterations))
	if !final.Success {
		return fmt.Errorf("cwm stopped without reaching the required pass streak: %s", final.StopReason)
	}
	return nil
}
