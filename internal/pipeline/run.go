package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/scrape"
	"github.com/FranksOps/lookout/internal/serp"
)

// Run returns the analysis report for target, or one of the NoProfilesFound
// and NoImagesFound sentinels. Only analyzer failures and cancellation are
// returned as errors; failing searches and scrapes just drop their platform.
func (p *Pipeline) Run(ctx context.Context, target string) (string, error) {
	out, err := p.RunDetailed(ctx, target)
	if err != nil {
		return "", err
	}
	return out.Report, nil
}

// RunDetailed is Run with the intermediate results attached. On error the
// returned Outcome holds whatever was gathered before the failure.
func (p *Pipeline) RunDetailed(ctx context.Context, target string) (*Outcome, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}

	out := &Outcome{
		RunID:     uuid.NewString(),
		Target:    target,
		StartedAt: time.Now(),
	}
	defer func() { out.Duration = time.Since(out.StartedAt) }()

	logger := p.logger.With("run_id", out.RunID, "target", target)
	logger.Info("starting pipeline")

	out.Profiles = p.discover(ctx, logger, target)
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("pipeline: %w", err)
	}
	if len(out.Profiles) == 0 {
		logger.Info("no profiles found")
		out.Report = NoProfilesFound
		return out, nil
	}

	var images []string
	out.Scrapes, images = p.scrapeAll(ctx, logger, out.Profiles)
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("pipeline: %w", err)
	}

	out.Extracted = dedupe(images)
	logger.Info("images extracted", "raw", len(images), "unique", len(out.Extracted))
	if len(out.Extracted) == 0 {
		out.Report = NoImagesFound
		return out, nil
	}

	out.Analyzed = out.Extracted
	if len(out.Analyzed) > p.imageCap {
		out.Analyzed = out.Analyzed[:p.imageCap]
	}

	start := time.Now()
	report, err := p.analyzer.AnalyzeImages(ctx, out.Analyzed)
	metrics.ObserveStage("analyze", start)
	if err != nil {
		logger.Error("analysis failed", "err", err)
		return out, fmt.Errorf("pipeline: analyze: %w", err)
	}
	out.Report = report
	logger.Info("pipeline complete", "images", len(out.Analyzed))
	return out, nil
}

// discover runs one query per platform and keeps at most one profile each.
func (p *Pipeline) discover(ctx context.Context, logger *slog.Logger, target string) []Profile {
	defer metrics.ObserveStage("search", time.Now())

	var profiles []Profile
	for _, pl := range p.platforms {
		if ctx.Err() != nil {
			return profiles
		}
		query := target + " " + pl.QuerySuffix
		log := logger.With("platform", pl.Name)

		results, err := p.search.Search(ctx, query)
		if err != nil {
			var pe *serp.ProviderError
			if errors.As(err, &pe) {
				log.Warn("search rejected", "status", pe.StatusCode, "err", err)
			} else {
				log.Warn("search failed", "err", err)
			}
			continue
		}

		link, ok := p.selectProfile(log, pl, results)
		if !ok {
			continue
		}
		log.Info("profile found", "url", link)
		profiles = append(profiles, Profile{Platform: pl.Name, URL: link})
	}
	return profiles
}

// selectProfile returns the first on-domain link for pl. An excluded link
// ends the scan under DirectoryStop and is skipped under DirectoryContinue.
func (p *Pipeline) selectProfile(log *slog.Logger, pl Platform, results []serp.Result) (string, bool) {
	for _, r := range results {
		if !scrape.MatchesDomain(r.Link, pl.Domain) {
			continue
		}
		if excluded(r.Link, pl.Exclude) {
			log.Info("skipping non-profile url", "url", r.Link, "policy", p.policy)
			if p.policy == DirectoryContinue {
				continue
			}
			return "", false
		}
		return r.Link, true
	}
	log.Info("no matching profile")
	return "", false
}

func excluded(link string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.Contains(link, pat) {
			return true
		}
	}
	return false
}

// scrapeAll scrapes every profile concurrently. A failed scrape is logged and
// recorded on its outcome; it never fails the run. Images come back in
// profile order regardless of completion order.
func (p *Pipeline) scrapeAll(ctx context.Context, logger *slog.Logger, profiles []Profile) ([]ScrapeOutcome, []string) {
	defer metrics.ObserveStage("scrape", time.Now())

	outcomes := make([]ScrapeOutcome, len(profiles))
	found := make([][]string, len(profiles))

	var g errgroup.Group
	for i, prof := range profiles {
		g.Go(func() error {
			log := logger.With("platform", prof.Platform, "url", prof.URL)
			oc := ScrapeOutcome{Platform: prof.Platform, URL: prof.URL}

			res, err := p.scraper.Scrape(ctx, prof.URL)
			switch {
			case err != nil:
				log.Warn("scrape failed", "err", err)
				oc.Error = err.Error()
			case res == nil:
				log.Warn("scrape returned nothing")
			default:
				oc.Provider = res.Job.Provider
				oc.JobID = res.Job.ID
				oc.Status = res.Job.Status
				oc.Cached = res.Cached
				found[i] = p.extractor.Extract(res.Payload)
				oc.Images = len(found[i])
				log.Info("scrape finished", "job_id", oc.JobID, "status", oc.Status, "cached", oc.Cached, "images", oc.Images)
			}
			outcomes[i] = oc
			return nil
		})
	}
	// Goroutines never return an error; each one records its own slot.
	_ = g.Wait()

	var images []string
	for _, f := range found {
		images = append(images, f...)
	}
	return outcomes, images
}

// dedupe keeps the first occurrence of each URL, preserving order.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
