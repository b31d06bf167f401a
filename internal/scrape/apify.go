package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/poll"
)

const (
	DefaultApifyURL     = "https://api.apify.com/v2"
	DefaultApifyActorID = "apify/instagram-scraper"
)

// ApifyConfig configures the actor-style provider.
type ApifyConfig struct {
	Token   string
	BaseURL string
	// ActorID may use either "user/name" or "user~name".
	ActorID string
	// Domain defaults to instagram.com.
	Domain       string
	PollInterval time.Duration
	// MaxAttempts bounds status checks. Zero or less leaves ctx as the only
	// bound.
	MaxAttempts int
	Clock       clockwork.Clock
	Client      *httpclient.Client
	Logger      *slog.Logger
}

// Apify runs an Apify actor per profile URL and returns its dataset.
type Apify struct {
	token   string
	baseURL string
	actorID string
	domain  string
	policy  poll.Policy
	client  *httpclient.Client
	logger  *slog.Logger
}

var _ Provider = (*Apify)(nil)

// NewApify creates an Apify provider.
func NewApify(cfg ApifyConfig) *Apify {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultApifyURL
	}
	if cfg.ActorID == "" {
		cfg.ActorID = DefaultApifyActorID
	}
	if cfg.Domain == "" {
		cfg.Domain = "instagram.com"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Apify{
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		actorID: strings.ReplaceAll(cfg.ActorID, "/", "~"),
		domain:  cfg.Domain,
		policy:  poll.Policy{Interval: cfg.PollInterval, MaxAttempts: cfg.MaxAttempts, Clock: cfg.Clock},
		client:  cfg.Client,
		logger:  cfg.Logger.With("provider", "apify"),
	}
}

func (a *Apify) Name() string   { return "apify" }
func (a *Apify) Domain() string { return a.domain }

type apifyRun struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

// apifyStatus maps an Apify run status onto the job lifecycle.
func apifyStatus(remote string) Status {
	switch remote {
	case "READY", "QUEUED":
		return StatusPending
	case "RUNNING":
		return StatusRunning
	case "SUCCEEDED":
		return StatusSucceeded
	case "TIMED-OUT", "TIMING-OUT":
		return StatusTimeout
	}
	return StatusFailed
}

// Scrape launches the actor for profileURL, waits for the run to finish and
// returns the dataset items. A 404 on launch means the actor is unavailable
// and yields a SKIPPED job with no payload.
func (a *Apify) Scrape(ctx context.Context, profileURL string) (res *Result, err error) {
	if err := checkDomain(a, profileURL); err != nil {
		return nil, err
	}
	job := newJob(a.Name())
	defer func() { metrics.RecordScrapeJob(a.Name(), job.outcome(err), job.Attempts) }()

	logger := a.logger.With("url", profileURL)

	runID, err := a.launch(ctx, profileURL)
	if err != nil {
		var le *LaunchError
		if errors.As(err, &le) && le.StatusCode == http.StatusNotFound {
			logger.Warn("actor not found, skipping", "actor", a.actorID)
			job.transition(StatusSkipped)
			return &Result{Job: *job}, nil
		}
		job.transition(StatusFailed)
		return nil, err
	}
	if runID == "" {
		logger.Warn("launch returned no run id, skipping")
		job.transition(StatusSkipped)
		return &Result{Job: *job}, nil
	}
	job.ID = runID
	logger = logger.With("job_id", runID)
	logger.Info("actor run started")

	var run apifyRun
	attempts, err := a.policy.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		if _, err := a.client.DoJSON(ctx, http.MethodGet, a.endpoint("actor-runs", runID), nil, nil, &run); err != nil {
			return false, launchErr(a.Name(), "poll run", err)
		}
		job.transition(apifyStatus(run.Data.Status))
		logger.Debug("run status", "status", run.Data.Status, "attempt", attempt)
		return job.Status.Terminal(), nil
	})
	job.Attempts = attempts
	switch {
	case errors.Is(err, poll.ErrExhausted):
		job.transition(StatusTimeout)
		return nil, &PollTimeoutError{Provider: a.Name(), JobID: runID, Attempts: attempts}
	case err != nil:
		job.transition(StatusFailed)
		return nil, err
	}

	if job.Status != StatusSucceeded {
		return nil, &JobFailedError{Provider: a.Name(), JobID: runID, Status: job.Status, Remote: run.Data.Status}
	}

	datasetID := run.Data.DefaultDatasetID
	job.ResultLocation = datasetID
	raw, err := getRaw(ctx, a.client, a.endpoint("datasets", datasetID, "items"), nil)
	if err != nil {
		return nil, launchErr(a.Name(), "fetch dataset", err)
	}
	doc, err := payload.Parse(raw)
	if err != nil {
		return nil, &LaunchError{Provider: a.Name(), Op: "decode dataset", Err: err}
	}

	logger.Info("actor run complete", "attempts", attempts, "dataset", datasetID, "items", doc.Len())
	return &Result{Job: *job, Payload: doc, Raw: raw}, nil
}

func (a *Apify) launch(ctx context.Context, profileURL string) (string, error) {
	input := map[string]any{
		"directUrls":  []string{profileURL},
		"resultsType": "details",
	}
	var run apifyRun
	if _, err := a.client.DoJSON(ctx, http.MethodPost, a.endpoint("acts", a.actorID, "runs"), nil, input, &run); err != nil {
		return "", launchErr(a.Name(), "launch", err)
	}
	return run.Data.ID, nil
}

func (a *Apify) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s?token=%s", a.baseURL, strings.Join(escaped, "/"), url.QueryEscape(a.token))
}
