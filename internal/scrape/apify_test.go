package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/pkg/poll"
)

// fakeApify scripts an Apify run through a list of statuses.
type fakeApify struct {
	t          *testing.T
	launchCode int
	runID      string
	statuses   []string
	dataset    string

	mu           sync.Mutex
	statusCalls  int
	datasetCalls int
	order        []string
	launchBody   map[string]any
}

func (f *fakeApify) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /acts/{actor}/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.PathValue("actor"); got != "apify~instagram-scraper" {
			f.t.Errorf("unexpected actor %q", got)
		}
		if r.URL.Query().Get("token") != "tok" {
			f.t.Errorf("missing token")
		}
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.launchBody)
		f.mu.Unlock()
		if f.launchCode != 0 {
			http.Error(w, "actor not found", f.launchCode)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"` + f.runID + `"}}`))
	})
	mux.HandleFunc("GET /actor-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := f.statuses[len(f.statuses)-1]
		if f.statusCalls < len(f.statuses) {
			status = f.statuses[f.statusCalls]
		}
		f.statusCalls++
		f.order = append(f.order, "status")
		_, _ = w.Write([]byte(`{"data":{"id":"` + r.PathValue("id") + `","status":"` + status + `","defaultDatasetId":"ds-1"}}`))
	})
	mux.HandleFunc("GET /datasets/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.datasetCalls++
		f.order = append(f.order, "dataset")
		f.mu.Unlock()
		if r.PathValue("id") != "ds-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(f.dataset))
	})
	return mux
}

func newTestApify(t *testing.T, f *fakeApify, maxAttempts int) (*Apify, func()) {
	t.Helper()
	f.t = t
	ts := httptest.NewServer(f.handler())
	a := NewApify(ApifyConfig{
		Token:        "tok",
		BaseURL:      ts.URL,
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	})
	return a, ts.Close
}

func TestApify_PollsUntilSucceeded(t *testing.T) {
	f := &fakeApify{
		runID:    "run-1",
		statuses: []string{"RUNNING", "RUNNING", "SUCCEEDED"},
		dataset:  `[{"username":"jane","profilePicUrl":"https://cdn/jane.jpg"}]`,
	}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	res, err := a.Scrape(context.Background(), "https://www.instagram.com/jane/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.statusCalls != 3 {
		t.Errorf("expected exactly 3 status fetches, got %d", f.statusCalls)
	}
	if want := "status,status,status,dataset"; strings.Join(f.order, ",") != want {
		t.Errorf("expected call order %s, got %v", want, f.order)
	}
	if res.Job.Status != StatusSucceeded || res.Job.ID != "run-1" || res.Job.Attempts != 3 {
		t.Errorf("unexpected job %+v", res.Job)
	}
	if res.Job.ResultLocation != "ds-1" {
		t.Errorf("expected dataset id as result location, got %q", res.Job.ResultLocation)
	}
	if got := payload.NewExtractor().Extract(res.Payload); len(got) != 1 || got[0] != "https://cdn/jane.jpg" {
		t.Errorf("unexpected extracted images %v", got)
	}

	urls, _ := f.launchBody["directUrls"].([]any)
	if len(urls) != 1 || urls[0] != "https://www.instagram.com/jane/" || f.launchBody["resultsType"] != "details" {
		t.Errorf("unexpected launch body %v", f.launchBody)
	}
}

func TestApify_ReadyCountsAsRunning(t *testing.T) {
	f := &fakeApify{
		runID:    "run-2",
		statuses: []string{"READY", "RUNNING", "SUCCEEDED"},
		dataset:  `[]`,
	}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	if _, err := a.Scrape(context.Background(), "https://instagram.com/jane"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.statusCalls != 3 {
		t.Errorf("expected 3 status fetches, got %d", f.statusCalls)
	}
}

func TestApify_JobFailed(t *testing.T) {
	for remote, want := range map[string]Status{
		"FAILED":    StatusFailed,
		"ABORTED":   StatusFailed,
		"TIMED-OUT": StatusTimeout,
	} {
		t.Run(remote, func(t *testing.T) {
			f := &fakeApify{runID: "run-3", statuses: []string{"RUNNING", remote}}
			a, stop := newTestApify(t, f, 0)
			defer stop()

			_, err := a.Scrape(context.Background(), "https://instagram.com/jane")
			var jf *JobFailedError
			if !errors.As(err, &jf) {
				t.Fatalf("expected JobFailedError, got %v", err)
			}
			if jf.Status != want || jf.Remote != remote || jf.JobID != "run-3" {
				t.Errorf("unexpected error fields %+v", jf)
			}
			if f.datasetCalls != 0 {
				t.Errorf("dataset must not be fetched for a failed run")
			}
		})
	}
}

func TestApify_ActorNotFoundSkips(t *testing.T) {
	f := &fakeApify{launchCode: http.StatusNotFound, statuses: []string{"RUNNING"}}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	res, err := a.Scrape(context.Background(), "https://instagram.com/jane")
	if err != nil {
		t.Fatalf("404 on launch should not be an error, got %v", err)
	}
	if res.Job.Status != StatusSkipped || res.Payload != nil {
		t.Errorf("expected skipped job with no payload, got %+v", res)
	}
	if f.statusCalls != 0 {
		t.Errorf("expected no polling, got %d status calls", f.statusCalls)
	}
}

func TestApify_LaunchError(t *testing.T) {
	f := &fakeApify{launchCode: http.StatusPaymentRequired, statuses: []string{"RUNNING"}}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	_, err := a.Scrape(context.Background(), "https://instagram.com/jane")
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if le.StatusCode != http.StatusPaymentRequired || le.Op != "launch" {
		t.Errorf("unexpected error fields %+v", le)
	}
}

func TestApify_DatasetError(t *testing.T) {
	f := &fakeApify{runID: "run-4", statuses: []string{"SUCCEEDED"}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/datasets/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.handler().ServeHTTP(w, r)
	}))
	defer ts.Close()
	f.t = t

	failed := metrics.ScrapeJobsTotal.WithLabelValues("apify", "FAILED")
	succeeded := metrics.ScrapeJobsTotal.WithLabelValues("apify", "SUCCEEDED")
	failedBefore, succeededBefore := testutil.ToFloat64(failed), testutil.ToFloat64(succeeded)

	a := NewApify(ApifyConfig{Token: "tok", BaseURL: ts.URL, PollInterval: time.Millisecond})
	_, err := a.Scrape(context.Background(), "https://instagram.com/jane")
	var le *LaunchError
	if !errors.As(err, &le) || le.Op != "fetch dataset" || le.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected dataset LaunchError, got %v", err)
	}

	// The run succeeded remotely but the platform is dropped.
	if got := testutil.ToFloat64(failed) - failedBefore; got != 1 {
		t.Errorf("expected one FAILED job recorded, got %v", got)
	}
	if got := testutil.ToFloat64(succeeded) - succeededBefore; got != 0 {
		t.Errorf("expected no SUCCEEDED job recorded, got %v", got)
	}
}

func TestApify_AttemptBound(t *testing.T) {
	f := &fakeApify{runID: "run-5", statuses: []string{"RUNNING"}}
	a, stop := newTestApify(t, f, 4)
	defer stop()

	_, err := a.Scrape(context.Background(), "https://instagram.com/jane")
	var pt *PollTimeoutError
	if !errors.As(err, &pt) {
		t.Fatalf("expected PollTimeoutError, got %v", err)
	}
	if !errors.Is(err, poll.ErrExhausted) {
		t.Errorf("expected error to wrap poll.ErrExhausted")
	}
	if pt.Attempts != 4 || f.statusCalls != 4 {
		t.Errorf("expected 4 attempts, got %d (calls %d)", pt.Attempts, f.statusCalls)
	}
}

func TestApify_Cancellation(t *testing.T) {
	f := &fakeApify{runID: "run-6", statuses: []string{"RUNNING"}}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := a.Scrape(ctx, "https://instagram.com/jane")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestApify_DomainMismatch(t *testing.T) {
	f := &fakeApify{statuses: []string{"RUNNING"}}
	a, stop := newTestApify(t, f, 0)
	defer stop()

	_, err := a.Scrape(context.Background(), "https://www.linkedin.com/in/jane")
	var dm *DomainMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DomainMismatchError, got %v", err)
	}
	if dm.Domain != "instagram.com" || dm.Provider != "apify" {
		t.Errorf("unexpected error fields %+v", dm)
	}
	if f.launchBody != nil {
		t.Errorf("expected no launch request")
	}
}
