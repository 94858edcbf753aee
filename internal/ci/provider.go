package ci

import "context"

// Provider is the raw transport to one CI backend (e.g. GitHub Actions).
// Client wraps a Provider with request pacing, circuit breaking, log
// truncation, and bounded concurrency. Authentication comes from the
// http.Client a Provider is built with, and retry/backoff is each
// Provider's own (GitHubProvider.doWithPolicy).
type Provider interface {
	// ListRuns returns every run on branch completed after since, in
	// descending completion order, resolving pagination internally. JobIDs
	// is left nil on entries the caller doesn't need (e.g. successful
	// runs); JobIDsForRun resolves them lazily.
	ListRuns(ctx context.Context, branch string, since Cursor) ([]Run, error)

	// JobIDsForRun resolves the job ids belonging to one run, for runs the
	// caller determined need their logs fetched.
	JobIDsForRun(ctx context.Context, runID string) ([]string, error)

	// FetchLog returns the raw, untruncated log body for one job.
	FetchLog(ctx context.Context, runID, jobID string) (string, error)
}
