package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/re-cinq/cwm/internal/fileutil"
	"github.com/re-cinq/cwm/internal/orchestrator"
)

// Reporter is the concrete Reporter (spec §4.7): writes one iteration JSON
// per tick and a final summary JSON at exit, both via temp-file-plus-
// rename, and mirrors every write to a structured log line. It also
// maintains Prometheus counters and, on a terminal Stop, optionally posts
// to Slack.
type Reporter struct {
	logger     *zap.SugaredLogger
	reportsDir string
	metrics    *Metrics
	notifier   *SlackNotifier
}

// Options configures a Reporter.
type Options struct {
	Logger       *zap.SugaredLogger
	ReportsDir   string
	Metrics      *Metrics
	SlackWebhook string
}

// New builds a Reporter. A nil Metrics registers a private registry so the
// reporter always has somewhere to record counts.
func New(opts Options) *Reporter {
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}
	var notifier *SlackNotifier
	if opts.SlackWebhook != "" {
		notifier = NewSlackNotifier(opts.SlackWebhook)
	}
	return &Reporter{
		logger:     opts.Logger,
		reportsDir: opts.ReportsDir,
		metrics:    m,
		notifier:   notifier,
	}
}

// traceID returns a fresh per-call correlation id for a log line.
func traceID() string {
	return uuid.New().String()
}

// reportID returns a sortable, collision-resistant id for a report
// filename.
func reportID() string {
	return ulid.Make().String()
}

// WriteIteration implements orchestrator.Reporter.
func (r *Reporter) WriteIteration(rec orchestrator.IterationRecord) error {
	r.metrics.IterationsTotal.Inc()
	for kind, n := range rec.CountsByKind {
		r.metrics.IssuesTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	if rec.FixesApplied > 0 {
		r.metrics.FixesAppliedTotal.WithLabelValues("applied").Add(float64(rec.FixesApplied))
	}

	r.Infof("iteration=%d fixesApplied=%d nextAction=%s commit=%s trace=%s",
		rec.Iteration, rec.FixesApplied, rec.NextAction, rec.CommitSHA, traceID())

	if r.reportsDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling iteration report: %w", err)
	}
	path := filepath.Join(r.reportsDir, fmt.Sprintf("iter-%d-%s.json", rec.Iteration, reportID()))
	if err := fileutil.EnsureDir(r.reportsDir); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0644)
}

// WriteFinal implements orchestrator.Reporter.
func (r *Reporter) WriteFinal(rep orchestrator.FinalReport) error {
	r.Infof("final stopReason=%s success=%t totalIssues=%d fixesApplied=%d",
		rep.StopReason, rep.Success, rep.TotalIssues, rep.FixesApplied)

	if r.notifier != nil && (rep.StopReason == orchestrator.StopFatal || rep.StopReason == orchestrator.StopPassed) {
		if err := r.notifier.Notify(rep); err != nil {
			r.Errorf("slack notify: %v", err)
		}
	}

	if r.reportsDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling final report: %w", err)
	}
	path := filepath.Join(r.reportsDir, fmt.Sprintf("final-%s.json", reportID()))
	if err := fileutil.EnsureDir(r.reportsDir); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0644)
}

// Infof implements orchestrator.Reporter.
func (r *Reporter) Infof(format string, args ...any) {
	if r.logger != nil {
		r.logger.Infof(format, args...)
	}
}

// Errorf implements orchestrator.Reporter.
func (r *Reporter) Errorf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Errorf(format, args...)
	}
}
