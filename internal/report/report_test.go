package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/lookout/internal/pipeline"
	"github.com/FranksOps/lookout/internal/scrape"
)

func sampleOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		RunID:     "run-1",
		Target:    "Jane Doe",
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:  42 * time.Second,
		Profiles: []pipeline.Profile{
			{Platform: "LinkedIn", URL: "https://linkedin.com/in/jane"},
			{Platform: "Instagram", URL: "https://instagram.com/jane"},
		},
		Scrapes: []pipeline.ScrapeOutcome{
			{Platform: "LinkedIn", URL: "https://linkedin.com/in/jane", Error: "poll timed out"},
			{Platform: "Instagram", URL: "https://instagram.com/jane", Status: scrape.StatusSucceeded, Cached: true, Images: 2},
		},
		Extracted: []string{"a.jpg", "b.jpg"},
		Analyzed:  []string{"a.jpg", "b.jpg"},
		Report:    "A person outdoors.",
	}
}

func TestGenerateSummary(t *testing.T) {
	s := GenerateSummary(sampleOutcome())

	if s.RunID != "run-1" || s.Target != "Jane Doe" {
		t.Errorf("unexpected identity %q / %q", s.RunID, s.Target)
	}
	if s.JobStatuses["ERROR"] != 1 || s.JobStatuses["SUCCEEDED"] != 1 {
		t.Errorf("unexpected job statuses %v", s.JobStatuses)
	}
	if s.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", s.CacheHits)
	}
	if s.Extracted != 2 || len(s.Analyzed) != 2 {
		t.Errorf("unexpected image counts %d / %d", s.Extracted, len(s.Analyzed))
	}
}

func TestGenerateSummary_Nil(t *testing.T) {
	s := GenerateSummary(nil)
	if s.JobStatuses == nil || s.Report != "" {
		t.Errorf("expected empty summary, got %+v", s)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, GenerateSummary(sampleOutcome())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["run_id"] != "run-1" || decoded["report"] != "A person outdoors." {
		t.Errorf("unexpected json %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, GenerateSummary(sampleOutcome())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Lookout Run run-1",
		"LinkedIn: https://linkedin.com/in/jane",
		"LinkedIn: failed (poll timed out)",
		"Instagram: SUCCEEDED (cached), 2 images",
		"Images:        2 extracted, 2 analyzed",
		"A person outdoors.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected text to contain %q\n%s", want, out)
		}
	}
}

func TestWriteText_NoProfiles(t *testing.T) {
	var buf bytes.Buffer
	out := &pipeline.Outcome{RunID: "r", Target: "Nobody", Report: pipeline.NoProfilesFound}
	if err := WriteText(&buf, GenerateSummary(out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "None") || !strings.Contains(buf.String(), pipeline.NoProfilesFound) {
		t.Errorf("unexpected text:\n%s", buf.String())
	}
}
