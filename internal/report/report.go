package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/lookout/internal/pipeline"
)

// Summary condenses a pipeline run for display.
type Summary struct {
	RunID     string                   `json:"run_id"`
	Target    string                   `json:"target"`
	StartTime time.Time                `json:"start_time"`
	Duration  time.Duration            `json:"duration"`
	Profiles  []pipeline.Profile       `json:"profiles"`
	Scrapes   []pipeline.ScrapeOutcome `json:"scrapes"`
	// JobStatuses counts scrapes per final job status; failures count as "ERROR".
	JobStatuses map[string]int `json:"job_statuses"`
	CacheHits   int            `json:"cache_hits"`
	Extracted   int            `json:"extracted"`
	Analyzed    []string       `json:"analyzed"`
	Report      string         `json:"report"`
}

// GenerateSummary builds a Summary from a run outcome.
func GenerateSummary(out *pipeline.Outcome) Summary {
	s := Summary{JobStatuses: make(map[string]int)}
	if out == nil {
		return s
	}

	s.RunID = out.RunID
	s.Target = out.Target
	s.StartTime = out.StartedAt
	s.Duration = out.Duration
	s.Profiles = out.Profiles
	s.Scrapes = out.Scrapes
	s.Extracted = len(out.Extracted)
	s.Analyzed = out.Analyzed
	s.Report = out.Report

	for _, sc := range out.Scrapes {
		switch {
		case sc.Error != "":
			s.JobStatuses["ERROR"]++
		case sc.Status != "":
			s.JobStatuses[string(sc.Status)]++
		}
		if sc.Cached {
			s.CacheHits++
		}
	}
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

const textTmpl = `Lookout Run {{.RunID}}
------------------
Target:        {{.Target}}
Started:       {{.StartTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}

Profiles:
{{- range .Profiles}}
  {{.Platform}}: {{.URL}}
{{- else}}
  None
{{- end}}

Scrapes:
{{- range .Scrapes}}
  {{.Platform}}: {{if .Error}}failed ({{.Error}}){{else}}{{.Status}}{{if .Cached}} (cached){{end}}, {{.Images}} images{{end}}
{{- else}}
  None
{{- end}}

Images:        {{.Extracted}} extracted, {{len .Analyzed}} analyzed
{{- range .Analyzed}}
  {{.}}
{{- end}}

Report:
{{.Report}}
`

var textTemplate = template.Must(template.New("textReport").Parse(textTmpl))

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	if err := textTemplate.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
