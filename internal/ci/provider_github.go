package ci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
)

const (
	userAgent          = "cwm/1 (+https://github.com/re-cinq/cwm)"
	minRateLimitSleep  = 500 * time.Millisecond
	maxRateLimitSleep  = 60 * time.Second
	backoffBase        = 500 * time.Millisecond
	backoffFactor      = 2.0
	backoffCap         = 30 * time.Second
	backoffMaxAttempts = 4

	githubAPIVersion = "2022-11-28"
)

// minAdapterVersion is the lowest GitHubProvider adapter version this
// build supports; NewGitHubProvider rejects a caller-supplied
// adapterVersion below it, so an operator pinning an older adapter
// revision in config fails fast at startup rather than mid-run.
var minAdapterVersion = semver.MustParse("1.0.0")

// GitHubProvider implements Provider against the GitHub Actions REST API.
type GitHubProvider struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
}

// NewGitHubProvider builds a provider bound to owner/repo. httpClient
// should already carry the bearer token, typically via
// oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})).
// adapterVersion must satisfy the semver constraint ">= 1.0.0"; pass ""
// to accept the current default.
func NewGitHubProvider(httpClient *http.Client, baseURL, owner, repo, adapterVersion string) (*GitHubProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if adapterVersion == "" {
		adapterVersion = minAdapterVersion.Original()
	}
	v, err := semver.NewVersion(adapterVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing adapter version %q: %w", adapterVersion, err)
	}
	if v.LessThan(minAdapterVersion) {
		return nil, fmt.Errorf("ci: adapter version %s is below the minimum supported %s", v, minAdapterVersion)
	}
	return &GitHubProvider{httpClient: httpClient, baseURL: baseURL, owner: owner, repo: repo}, nil
}

type ghRunsPage struct {
	WorkflowRuns []ghRun `json:"workflow_runs"`
}

type ghRun struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Conclusion  string    `json:"conclusion"`
	UpdatedAt   time.Time `json:"updated_at"`
	JobsURL     string    `json:"jobs_url"`
}

type ghJobsPage struct {
	Jobs []ghJob `json:"jobs"`
}

type ghJob struct {
	ID int64 `json:"id"`
}

// ListRuns resolves pagination internally, stopping once a page's oldest
// entry is not newer than since.
func (p *GitHubProvider) ListRuns(ctx context.Context, branch string, since Cursor) ([]Run, error) {
	var out []Run
	page := 1
	for {
		reqURL := fmt.Sprintf("%s/repos/%s/%s/actions/runs?branch=%s&per_page=100&page=%d",
			p.baseURL, p.owner, p.repo, url.QueryEscape(branch), page)

		body, err := p.doWithPolicy(ctx, func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		})
		if err != nil {
			return nil, err
		}

		var parsed ghRunsPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decoding runs page: %w", err)
		}
		if len(parsed.WorkflowRuns) == 0 {
			break
		}

		stop := false
		for _, r := range parsed.WorkflowRuns {
			if since != "" && !r.UpdatedAt.After(parseCursorTime(since)) {
				stop = true
				break
			}
			out = append(out, Run{
				RunID:        strconv.FormatInt(r.ID, 10),
				WorkflowName: r.Name,
				Status:       mapGitHubStatus(r.Status, r.Conclusion),
				CompletedAt:  r.UpdatedAt,
				JobIDs:       nil, // resolved lazily via JobIDsForRun to avoid N+1 for passing runs
			})
		}
		if stop || len(parsed.WorkflowRuns) < 100 {
			break
		}
		page++
	}
	return out, nil
}

// JobIDsForRun implements Provider.
func (p *GitHubProvider) JobIDsForRun(ctx context.Context, runID string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%s/jobs", p.baseURL, p.owner, p.repo, runID)
	body, err := p.doWithPolicy(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, err
	}
	var parsed ghJobsPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding jobs page: %w", err)
	}
	ids := make([]string, 0, len(parsed.Jobs))
	for _, j := range parsed.Jobs {
		ids = append(ids, strconv.FormatInt(j.ID, 10))
	}
	return ids, nil
}

// FetchLog returns the raw job log body.
func (p *GitHubProvider) FetchLog(ctx context.Context, runID, jobID string) (string, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/actions/jobs/%s/logs", p.baseURL, p.owner, p.repo, jobID)
	body, err := p.doWithPolicy(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func mapGitHubStatus(status, conclusion string) RunStatus {
	switch status {
	case "queued", "requested", "waiting", "pending":
		return StatusQueued
	case "in_progress":
		return StatusInProgress
	case "completed":
		switch conclusion {
		case "success":
			return StatusSuccess
		case "failure", "timed_out", "action_required", "startup_failure":
			return StatusFailure
		case "cancelled":
			return StatusCancelled
		case "skipped", "neutral":
			return StatusSkipped
		default:
			return StatusUnknown
		}
	default:
		return StatusUnknown
	}
}

func parseCursorTime(c Cursor) time.Time {
	t, err := time.Parse(time.RFC3339, string(c))
	if err != nil {
		return time.Time{}
	}
	return t
}

// doWithPolicy applies the rate-limit-then-retry-once and the
// auth-failure-then-retry-once disciplines around a doOnce call, which
// itself retries 5xx with exponential backoff (spec §4.1). A 401/403 is
// fatal only "after one retry" (spec §4.6), so the first ErrAuth gets one
// immediate retry here before it is allowed to bubble up and be escalated
// by the caller.
func (p *GitHubProvider) doWithPolicy(ctx context.Context, buildReq func() (*http.Request, error)) ([]byte, error) {
	body, err := p.doOnce(ctx, buildReq)

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		sleep := rl.RetryAfter
		if floor := backoffBase; sleep < floor {
			sleep = floor
		}
		if sleep > maxRateLimitSleep {
			sleep = maxRateLimitSleep
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}

		body, err = p.doOnce(ctx, buildReq)
		if errors.As(err, &rl) {
			return nil, err // second rate-limit bubbles up per spec
		}
		return body, err
	}

	if errors.Is(err, ErrAuth) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffBase):
		}
		return p.doOnce(ctx, buildReq) // second ErrAuth bubbles up as fatal
	}

	return body, err
}

// doOnce issues one logical request, transparently retrying 5xx responses
// with exponential backoff (base 500ms, factor 2, cap 30s, max 4 attempts)
// before surfacing ErrNetwork.
func (p *GitHubProvider) doOnce(ctx context.Context, buildReq func() (*http.Request, error)) ([]byte, error) {
	var result []byte

	op := func() error {
		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = body
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrAuth)
		case resp.StatusCode == http.StatusTooManyRequests:
			return backoff.Permanent(&RateLimitedError{RetryAfter: retryAfterFrom(resp)})
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
		default:
			return backoff.Permanent(&UnknownStatusError{StatusCode: resp.StatusCode})
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffBase
	bo.Multiplier = backoffFactor
	bo.MaxInterval = backoffCap
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, backoffMaxAttempts-1), ctx))
	return result, err
}

func retryAfterFrom(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return minRateLimitSleep
}
