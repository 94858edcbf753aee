package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	defaultMaxInflightFetches = 4
	defaultMaxLogBytes        = 1 << 20 // 1 MiB

	breakerFailureThreshold = 3
	breakerOpenDuration     = 30 * time.Second
)

// ErrFatalAuth is returned when the provider reports an auth failure (the
// provider has already retried it once), or while the breaker is open
// after breakerFailureThreshold consecutive ListRuns failures of any kind,
// signalling the orchestrator to end the loop with Stop:Fatal.
var ErrFatalAuth = errors.New("ci: repeated authentication failures, treating as fatal")

// Client wraps a Provider with request pacing, bounded concurrency, and
// circuit breaking, matching the CIClient contract of spec §4.1.
type Client struct {
	provider    Provider
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[any]
	maxLogBytes int
}

// ClientOptions configures Client. Zero values fall back to spec defaults.
type ClientOptions struct {
	MaxInflightFetches int
	MaxLogBytes        int
	// RequestsPerSecond proactively paces outbound requests ahead of the
	// provider's own rate limiting; 0 disables pacing.
	RequestsPerSecond rate.Limit
}

// NewClient builds a Client around provider.
func NewClient(provider Provider, opts ClientOptions) *Client {
	maxInflight := opts.MaxInflightFetches
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflightFetches
	}
	maxLogBytes := opts.MaxLogBytes
	if maxLogBytes <= 0 {
		maxLogBytes = defaultMaxLogBytes
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(opts.RequestsPerSecond, 1)
	}

	breakerSettings := gobreaker.Settings{
		Name:        "ci-provider-auth",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
	}

	return &Client{
		provider:    provider,
		sem:         semaphore.NewWeighted(int64(maxInflight)),
		limiter:     limiter,
		breaker:     gobreaker.NewCircuitBreaker[any](breakerSettings),
		maxLogBytes: maxLogBytes,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ListRecentRuns implements CIClient.listRecentRuns (spec §4.1): returns
// runs newer than cursor plus the advanced cursor, resolving job ids for
// every failed run so the caller can fetch their logs.
func (c *Client) ListRecentRuns(ctx context.Context, branch string, cursor Cursor) ([]Run, Cursor, error) {
	if err := c.wait(ctx); err != nil {
		return nil, cursor, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.ListRuns(ctx, branch, cursor)
	})
	if err != nil {
		return nil, cursor, classifyBreakerError(err)
	}
	runs := result.([]Run)

	newCursor := cursor
	for _, r := range runs {
		rc := Cursor(r.CompletedAt.UTC().Format(time.RFC3339))
		if rc > newCursor {
			newCursor = rc
		}
	}

	for i := range runs {
		if runs[i].Status != StatusFailure {
			continue
		}
		if err := c.wait(ctx); err != nil {
			return nil, cursor, err
		}
		jobIDs, err := c.provider.JobIDsForRun(ctx, runs[i].RunID)
		if err != nil {
			return nil, cursor, classifyBreakerError(err)
		}
		runs[i].JobIDs = jobIDs
	}

	return runs, newCursor, nil
}

// FetchJobLogs implements CIClient.fetchJobLogs (spec §4.1): returns the
// job's log, truncated from the head to maxLogBytes (the tail carries the
// discriminating failure signal).
func (c *Client) FetchJobLogs(ctx context.Context, runID, jobID string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	log, err := c.provider.FetchLog(ctx, runID, jobID)
	if err != nil {
		return "", classifyBreakerError(err)
	}
	return truncateHead(log, c.maxLogBytes), nil
}

// FetchJobLogsConcurrent fetches every job's log for a batch, bounded by
// maxInflightFetches, returning the logs keyed by job id
// (spec §4.1's "ordering of returned logs is not observable").
func (c *Client) FetchJobLogsConcurrent(ctx context.Context, runID string, jobIDs []string) (map[string]string, error) {
	type result struct {
		jobID string
		log   string
		err   error
	}
	results := make([]result, len(jobIDs))

	var wg sync.WaitGroup
	for i, jobID := range jobIDs {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		i, jobID := i, jobID
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			log, err := c.FetchJobLogs(ctx, runID, jobID)
			results[i] = result{jobID: jobID, log: log, err: err}
		}()
	}
	wg.Wait()

	logs := make(map[string]string, len(jobIDs))
	for _, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("fetching log for job %s: %w", r.jobID, r.err)
		}
		logs[r.jobID] = r.log
	}
	return logs, nil
}

func truncateHead(log string, maxBytes int) string {
	if len(log) <= maxBytes {
		return log
	}
	truncated := log[len(log)-maxBytes:]
	if idx := strings.IndexByte(truncated, '\n'); idx >= 0 {
		truncated = truncated[idx+1:]
	}
	return truncated
}

func classifyBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrFatalAuth
	}
	if errors.Is(err, ErrAuth) {
		return fmt.Errorf("%w: %v", ErrFatalAuth, err)
	}
	return err
}
