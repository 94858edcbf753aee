package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/cwm/internal/orchestrator"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <config-file>",
	Short: "Show the most recent iteration/final report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, repoDir, _, err := loadAndValidate(args[0])
		if err != nil {
			return err
		}
		reportsDir := filepath.Join(repoDir, cfg.Reporter.ReportsDir)

		if statusFollow {
			return followStatus(reportsDir)
		}
		return showStatus(os.Stdout, reportsDir)
	},
}

func followStatus(reportsDir string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := showStatus(&buf, reportsDir); err != nil {
			fmt.Fprintf(&buf, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: cwm status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

func showStatus(w io.Writer, reportsDir string) error {
	fmt.Fprintln(w, styleHead.Render("CI Watchdog Status"))
	fmt.Fprintln(w, "──────────────────────────────────────")

	if final, ok, err := latestFinalReport(reportsDir); err != nil {
		return err
	} else if ok {
		return renderFinal(w, final)
	}

	rec, ok, err := latestIterationReport(reportsDir)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, styleMuted.Render("no reports yet"))
		return nil
	}
	return renderIteration(w, rec)
}

func renderFinal(w io.Writer, rep orchestrator.FinalReport) error {
	symbol, style := stopSymbolAndStyle(string(rep.StopReason))
	fmt.Fprintf(w, "  %s  %s\n", style.Render(symbol), styleBold.Render(string(rep.StopReason)))
	fmt.Fprintf(w, "     iterations: %d\n", len(rep.Iterations))
	fmt.Fprintf(w, "     fixes applied: %d\n", rep.FixesApplied)
	fmt.Fprintf(w, "     total issues: %d\n", rep.TotalIssues)
	fmt.Fprintf(w, "     ran: %s -> %s\n", rep.StartedAt.Format(time.RFC3339), rep.EndedAt.Format(time.RFC3339))
	return nil
}

func renderIteration(w io.Writer, rec orchestrator.IterationRecord) error {
	symbol, style := stopSymbolAndStyle(string(rec.NextAction))
	fmt.Fprintf(w, "  %s  iteration %d (%s)\n", style.Render(symbol), rec.Iteration, rec.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "     fixes applied: %d\n", rec.FixesApplied)
	if rec.CommitSHA != "" {
		fmt.Fprintf(w, "     commit: %s\n", short(rec.CommitSHA))
	}
	for kind, n := range rec.CountsByKind {
		fmt.Fprintf(w, "     %-24s %d\n", kind, n)
	}
	if rec.Error != "" {
		fmt.Fprintln(w, styleError.Render("     error: "+rec.Error))
	}
	return nil
}

func latestFinalReport(reportsDir string) (orchestrator.FinalReport, bool, error) {
	path, ok, err := latestMatching(reportsDir, "final-*.json")
	if err != nil || !ok {
		return orchestrator.FinalReport{}, ok, err
	}
	var rep orchestrator.FinalReport
	if err := readJSON(path, &rep); err != nil {
		return orchestrator.FinalReport{}, false, err
	}
	return rep, true, nil
}

func latestIterationReport(reportsDir string) (orchestrator.IterationRecord, bool, error) {
	path, ok, err := latestMatching(reportsDir, "iter-*.json")
	if err != nil || !ok {
		return orchestrator.IterationRecord{}, ok, err
	}
	var rec orchestrator.IterationRecord
	if err := readJSON(path, &rec); err != nil {
		return orchestrator.IterationRecord{}, false, err
	}
	return rec, true, nil
}

// latestMatching returns the path matching pattern in dir whose ULID
// suffix (the part of the base name after its last '-') is greatest;
// ULIDs sort in time order, so this is the most recent report.
func latestMatching(dir, pattern string) (string, bool, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	suffix := func(p string) string {
		base := strings.TrimSuffix(filepath.Base(p), ".json")
		return base[strings.LastIndex(base, "-")+1:]
	}
	sort.Slice(matches, func(i, j int) bool { return suffix(matches[i]) < suffix(matches[j]) })
	return matches[len(matches)-1], true, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return json.Unmarshal(data, v)
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
