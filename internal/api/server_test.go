package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/lookout/internal/pipeline"
	"github.com/FranksOps/lookout/internal/vision"
)

type stubRunner struct {
	out     *pipeline.Outcome
	err     error
	targets []string
}

func (s *stubRunner) RunDetailed(ctx context.Context, target string) (*pipeline.Outcome, error) {
	s.targets = append(s.targets, target)
	if strings.TrimSpace(target) == "" {
		return nil, pipeline.ErrEmptyTarget
	}
	return s.out, s.err
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyze_OK(t *testing.T) {
	runner := &stubRunner{out: &pipeline.Outcome{
		RunID:    "run-1",
		Report:   "A person.",
		Profiles: []pipeline.Profile{{Platform: "Instagram", URL: "https://instagram.com/jane"}},
		Analyzed: []string{"a.jpg"},
	}}
	srv := NewServer(runner, time.Second, nil)

	rec := post(t, srv.Router(), `{"name":"Jane Doe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-1" || resp.Report != "A person." || len(resp.Images) != 1 || len(resp.Profiles) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(runner.targets) != 1 || runner.targets[0] != "Jane Doe" {
		t.Errorf("unexpected targets %v", runner.targets)
	}
}

func TestAnalyze_SentinelReportHasEmptyLists(t *testing.T) {
	srv := NewServer(&stubRunner{out: &pipeline.Outcome{RunID: "r", Report: pipeline.NoProfilesFound}}, 0, nil)

	rec := post(t, srv.Router(), `{"name":"Nobody"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"profiles":[]`) || !strings.Contains(rec.Body.String(), `"images":[]`) {
		t.Errorf("expected empty json arrays, got %s", rec.Body.String())
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"empty name", `{"name":"  "}`, nil, http.StatusBadRequest},
		{"bad json", `{"name":`, nil, http.StatusBadRequest},
		{"analyzer", `{"name":"Jane"}`, &vision.Error{StatusCode: 500}, http.StatusBadGateway},
		{"timeout", `{"name":"Jane"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", `{"name":"Jane"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubRunner{err: tt.err}, 0, nil)
			rec := post(t, srv.Router(), tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(&stubRunner{}, 0, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("unexpected metrics response %d", rec.Code)
	}
}
