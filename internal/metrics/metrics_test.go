package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(SearchRequestsTotal.WithLabelValues("serper", "error"))
	RecordSearch("serper", errors.New("boom"))
	if got := testutil.ToFloat64(SearchRequestsTotal.WithLabelValues("serper", "error")); got != before+1 {
		t.Errorf("expected error counter to increase by 1, got %v -> %v", before, got)
	}

	jobsBefore := testutil.ToFloat64(ScrapeJobsTotal.WithLabelValues("apify", "SKIPPED"))
	RecordScrapeJob("apify", "SKIPPED", 0)
	if got := testutil.ToFloat64(ScrapeJobsTotal.WithLabelValues("apify", "SKIPPED")); got != jobsBefore+1 {
		t.Errorf("expected job counter to increase by 1, got %v -> %v", jobsBefore, got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordSearch("duckduckgo", nil)
	RecordScrapeJob("phantombuster", "SUCCEEDED", 3)
	ObserveStage("search", time.Now().Add(-time.Second))
	ImagesFetchedTotal.WithLabelValues("ok").Inc()

	ts := httptest.NewServer(Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`lookout_search_requests_total{outcome="ok",provider="duckduckgo"}`,
		`lookout_scrape_jobs_total{provider="phantombuster",status="SUCCEEDED"}`,
		`lookout_poll_attempts_bucket{provider="phantombuster"`,
		`lookout_stage_duration_seconds_bucket{stage="search"`,
		`lookout_images_fetched_total{outcome="ok"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	srv := Start(18931, nil)
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:18931/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	resp.Body.Close()

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var nilSrv *Server
	if err := nilSrv.Stop(context.Background()); err != nil {
		t.Errorf("nil server stop should be a no-op, got %v", err)
	}
}
