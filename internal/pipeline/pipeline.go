// Package pipeline orchestrates a lookout run: search each platform for the
// target, scrape the chosen profiles, harvest image references from the
// payloads and have them analysed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/internal/scrape"
	"github.com/FranksOps/lookout/internal/serp"
	"github.com/FranksOps/lookout/internal/vision"
)

// Reports returned when a stage comes up empty. Both are successful runs.
const (
	NoProfilesFound = "No profiles found."
	NoImagesFound   = "No images found to analyze."
)

// DefaultImageCap bounds how many images are sent for analysis.
const DefaultImageCap = 5

// ErrEmptyTarget is returned for a blank target name.
var ErrEmptyTarget = errors.New("pipeline: empty target name")

// DirectoryPolicy decides what happens when the first on-domain search hit is
// an excluded, non-profile URL.
type DirectoryPolicy string

const (
	// DirectoryStop gives up on the platform at the first excluded hit.
	DirectoryStop DirectoryPolicy = "stop"
	// DirectoryContinue skips excluded hits and keeps scanning.
	DirectoryContinue DirectoryPolicy = "continue"
)

// ParseDirectoryPolicy parses "stop" or "continue". Empty means stop.
func ParseDirectoryPolicy(s string) (DirectoryPolicy, error) {
	switch DirectoryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DirectoryStop:
		return DirectoryStop, nil
	case DirectoryContinue:
		return DirectoryContinue, nil
	}
	return "", fmt.Errorf("pipeline: unknown directory policy %q", s)
}

// Platform is a social network the pipeline looks for profiles on.
type Platform struct {
	Name        string
	QuerySuffix string
	Domain      string
	// Exclude lists link substrings that mark a hit as a non-profile page.
	Exclude []string
}

// DefaultPlatforms returns LinkedIn then Instagram.
func DefaultPlatforms() []Platform {
	return []Platform{
		{Name: "LinkedIn", QuerySuffix: "LinkedIn", Domain: "linkedin.com", Exclude: []string{"/pub/dir/"}},
		{Name: "Instagram", QuerySuffix: "Instagram", Domain: "instagram.com"},
	}
}

// Scraper runs a scrape for a profile URL. *scrape.Router satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, profileURL string) (*scrape.Result, error)
}

var _ Scraper = (*scrape.Router)(nil)

// Config wires a Pipeline. Search, Scraper and Analyzer are required.
type Config struct {
	Search    serp.Provider
	Scraper   Scraper
	Analyzer  vision.Analyzer
	Extractor *payload.Extractor

	Platforms       []Platform
	ImageCap        int
	DirectoryPolicy DirectoryPolicy
	Logger          *slog.Logger
}

// Pipeline is safe for concurrent runs; it holds only configuration.
type Pipeline struct {
	search    serp.Provider
	scraper   Scraper
	analyzer  vision.Analyzer
	extractor *payload.Extractor
	platforms []Platform
	imageCap  int
	policy    DirectoryPolicy
	logger    *slog.Logger
}

// New validates cfg and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Search == nil {
		return nil, errors.New("pipeline: search provider is nil")
	}
	if cfg.Scraper == nil {
		return nil, errors.New("pipeline: scraper is nil")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("pipeline: analyzer is nil")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = payload.NewExtractor()
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = DefaultPlatforms()
	}
	if cfg.ImageCap <= 0 {
		cfg.ImageCap = DefaultImageCap
	}
	if cfg.DirectoryPolicy == "" {
		cfg.DirectoryPolicy = DirectoryStop
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		search:    cfg.Search,
		scraper:   cfg.Scraper,
		analyzer:  cfg.Analyzer,
		extractor: cfg.Extractor,
		platforms: cfg.Platforms,
		imageCap:  cfg.ImageCap,
		policy:    cfg.DirectoryPolicy,
		logger:    cfg.Logger,
	}, nil
}

// Profile is the URL accepted for one platform.
type Profile struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// ScrapeOutcome records what happened to one profile's scrape.
type ScrapeOutcome struct {
	Platform string        `json:"platform"`
	URL      string        `json:"url"`
	Provider string        `json:"provider,omitempty"`
	JobID    string        `json:"job_id,omitempty"`
	Status   scrape.Status `json:"status,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
	Images   int           `json:"images"`
	Error    string        `json:"error,omitempty"`
}

// Outcome is the full record of a run.
type Outcome struct {
	RunID     string          `json:"run_id"`
	Target    string          `json:"target"`
	Profiles  []Profile       `json:"profiles"`
	Scrapes   []ScrapeOutcome `json:"scrapes,omitempty"`
	Extracted []string        `json:"extracted,omitempty"`
	Analyzed  []string        `json:"analyzed,omitempty"`
	Report    string          `json:"report"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}
