// Package vision submits batches of profile images to a multimodal model and
// returns its description.
package vision

import (
	"context"
	"fmt"

	"github.com/FranksOps/lookout/internal/fetch"
)

// Sentinel reports returned instead of an error when there is nothing for the
// model to look at, or the model said nothing.
const (
	NoImages        = "No images to analyze."
	NoImagesFetched = "Failed to retrieve any images for analysis."
	NoAnalysis      = "No analysis generated."
)

// DefaultPrompt is the instruction sent ahead of the images.
const DefaultPrompt = "Analyze these profile images. Describe the person, the context, and any notable details."

// Analyzer turns image URLs into a text report.
type Analyzer interface {
	AnalyzeImages(ctx context.Context, urls []string) (string, error)
}

// ImageSource downloads images. *fetch.Fetcher satisfies it.
type ImageSource interface {
	FetchAll(ctx context.Context, urls []string) ([]*fetch.Image, []error)
}

var _ ImageSource = (*fetch.Fetcher)(nil)

// Error is returned when the analysis request itself fails. It is the only
// stage failure that reaches the caller of a pipeline run.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("analyzer: status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("analyzer: status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("analyzer: %v", e.Err)
	default:
		return "analyzer: request failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }
