package acceptance_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
)

// fakeGitHub serves a scripted sequence of workflow-run pages, one per
// call to /actions/runs: ticks[0] on the first call, ticks[1] on the
// second, and so on, repeating the last tick once exhausted. Each tick is
// "failed" (one failing run whose job log is `log`) or passing (no runs).
type fakeGitHub struct {
	tick  int32
	ticks []bool // true = failing tick, false = all-clear tick
	log   string
}

func (f *fakeGitHub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widgets/actions/runs":
			n := int(atomic.AddInt32(&f.tick, 1)) - 1
			failed := true
			if n < len(f.ticks) {
				failed = f.ticks[n]
			} else if len(f.ticks) > 0 {
				failed = f.ticks[len(f.ticks)-1]
			}
			_ = json.NewEncoder(w).Encode(runsPage(failed))
		case r.URL.Path == "/repos/acme/widgets/actions/runs/1/jobs":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobs": []map[string]any{{"id": 100}},
			})
		case r.URL.Path == "/repos/acme/widgets/actions/jobs/100/logs":
			_, _ = w.Write([]byte(f.log))
		default:
			http.NotFound(w, r)
		}
	}
}

func runsPage(failed bool) map[string]any {
	if !failed {
		return map[string]any{"workflow_runs": []map[string]any{}}
	}
	return map[string]any{
		"workflow_runs": []map[string]any{
			{
				"id":         1,
				"name":       "ci",
				"status":     "completed",
				"conclusion": "failure",
				"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
			},
		},
	}
}

func newFakeGitHubServer(fg *fakeGitHub) *httptest.Server {
	return httptest.NewServer(fg.handler())
}
