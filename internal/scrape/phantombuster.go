package scrape

import (
	"context"
	"errors"
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
	DefaultPhantombusterURL = "https://api.phantombuster.com/api/v2"
	DefaultStorageURL       = "https://phantombuster.s3.amazonaws.com"
)

// DefaultResultFiles are tried in order when reading an agent's output.
var DefaultResultFiles = []string{"result.json", "database.json"}

// Identity is the LinkedIn session the agent scrapes as.
type Identity struct {
	ID            string `json:"identityId"`
	SessionCookie string `json:"sessionCookie"`
	UserAgent     string `json:"userAgent"`
}

// PhantombusterConfig configures the agent-style provider.
type PhantombusterConfig struct {
	APIKey  string
	BaseURL string
	AgentID string
	// Domain defaults to linkedin.com.
	Domain         string
	StorageBaseURL string
	ResultFiles    []string
	Identity       Identity
	PollInterval   time.Duration
	// MaxAttempts defaults to 60.
	MaxAttempts int
	// SettleDelay is waited after the container finishes, before asking where
	// its output went.
	SettleDelay time.Duration
	Clock       clockwork.Clock
	Client      *httpclient.Client
	Logger      *slog.Logger
}

// Phantombuster launches a Phantombuster agent per profile URL and reads its
// output back from S3.
type Phantombuster struct {
	cfg    PhantombusterConfig
	policy poll.Policy
	logger *slog.Logger
}

var _ Provider = (*Phantombuster)(nil)

// NewPhantombuster creates a Phantombuster provider.
func NewPhantombuster(cfg PhantombusterConfig) *Phantombuster {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPhantombusterURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = DefaultStorageURL
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	if len(cfg.ResultFiles) == 0 {
		cfg.ResultFiles = DefaultResultFiles
	}
	if cfg.Domain == "" {
		cfg.Domain = "linkedin.com"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Phantombuster{
		cfg:    cfg,
		policy: poll.Policy{Interval: cfg.PollInterval, MaxAttempts: cfg.MaxAttempts, Clock: cfg.Clock},
		logger: cfg.Logger.With("provider", "phantombuster"),
	}
}

func (p *Phantombuster) Name() string   { return "phantombuster" }
func (p *Phantombuster) Domain() string { return p.cfg.Domain }

type agentArgument struct {
	NumberOfProfilesPerLaunch int        `json:"numberOfProfilesPerLaunch"`
	SaveImg                   bool       `json:"saveImg"`
	TakeScreenshot            bool       `json:"takeScreenshot"`
	SpreadsheetURL            string     `json:"spreadsheetUrl"`
	Identities                []Identity `json:"identities"`
	EmailChooser              string     `json:"emailChooser"`
}

type agentLaunch struct {
	ID       string        `json:"id"`
	Argument agentArgument `json:"argument"`
}

// containerStatus maps a container status onto the job lifecycle.
func containerStatus(remote string) Status {
	switch remote {
	case "queued":
		return StatusPending
	case "running", "starting":
		return StatusRunning
	case "finished":
		return StatusSucceeded
	}
	return StatusFailed
}

func (p *Phantombuster) header() http.Header {
	h := http.Header{}
	h.Set("X-Phantombuster-Key", p.cfg.APIKey)
	return h
}

// Scrape launches the agent on profileURL and returns its result file. A run
// whose output cannot be located or downloaded yields a nil payload rather
// than an error.
func (p *Phantombuster) Scrape(ctx context.Context, profileURL string) (res *Result, err error) {
	if err := checkDomain(p, profileURL); err != nil {
		return nil, err
	}
	job := newJob(p.Name())
	defer func() { metrics.RecordScrapeJob(p.Name(), job.outcome(err), job.Attempts) }()

	logger := p.logger.With("url", profileURL)

	var launched struct {
		ContainerID string `json:"containerId"`
	}
	body := agentLaunch{
		ID: p.cfg.AgentID,
		Argument: agentArgument{
			NumberOfProfilesPerLaunch: 1,
			SpreadsheetURL:            profileURL,
			Identities:                []Identity{p.cfg.Identity},
			EmailChooser:              "none",
		},
	}
	if _, err := p.cfg.Client.DoJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/agents/launch", p.header(), body, &launched); err != nil {
		job.transition(StatusFailed)
		return nil, launchErr(p.Name(), "launch", err)
	}
	if launched.ContainerID == "" {
		logger.Warn("launch returned no container id, skipping")
		job.transition(StatusSkipped)
		return &Result{Job: *job}, nil
	}
	job.ID = launched.ContainerID
	logger = logger.With("job_id", job.ID)
	logger.Info("agent launched")

	var remote string
	attempts, err := p.policy.Do(ctx, func(ctx context.Context, attempt int) (bool, error) {
		var c struct {
			Status string `json:"status"`
		}
		u := p.cfg.BaseURL + "/containers/fetch?id=" + url.QueryEscape(job.ID)
		if _, err := p.cfg.Client.DoJSON(ctx, http.MethodGet, u, p.header(), nil, &c); err != nil {
			return false, launchErr(p.Name(), "poll container", err)
		}
		remote = c.Status
		job.transition(containerStatus(c.Status))
		logger.Debug("container status", "status", c.Status, "attempt", attempt, "max_attempts", p.policy.MaxAttempts)
		return job.Status.Terminal(), nil
	})
	job.Attempts = attempts
	switch {
	case errors.Is(err, poll.ErrExhausted):
		job.transition(StatusTimeout)
		return nil, &PollTimeoutError{Provider: p.Name(), JobID: job.ID, Attempts: attempts}
	case err != nil:
		job.transition(StatusFailed)
		return nil, err
	}
	if job.Status != StatusSucceeded {
		return nil, &JobFailedError{Provider: p.Name(), JobID: job.ID, Status: job.Status, Remote: remote}
	}

	if err := p.policy.Sleep(ctx, p.cfg.SettleDelay); err != nil {
		return nil, err
	}

	var agent struct {
		S3Folder    string `json:"s3Folder"`
		OrgS3Folder string `json:"orgS3Folder"`
	}
	u := p.cfg.BaseURL + "/agents/fetch?id=" + url.QueryEscape(p.cfg.AgentID)
	if _, err := p.cfg.Client.DoJSON(ctx, http.MethodGet, u, p.header(), nil, &agent); err != nil {
		return nil, launchErr(p.Name(), "fetch agent", err)
	}
	if agent.S3Folder == "" || agent.OrgS3Folder == "" {
		logger.Warn("agent reported no storage folder")
		return &Result{Job: *job}, nil
	}

	for _, name := range p.cfg.ResultFiles {
		loc := strings.Join([]string{p.cfg.StorageBaseURL, agent.OrgS3Folder, agent.S3Folder, name}, "/")
		raw, err := getRaw(ctx, p.cfg.Client, loc, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("result file unavailable", "location", loc, "err", err)
			continue
		}
		doc, err := payload.Parse(raw)
		if err != nil {
			logger.Warn("result file is not JSON", "location", loc, "err", err)
			continue
		}
		job.ResultLocation = loc
		logger.Info("agent run complete", "attempts", attempts, "location", loc)
		return &Result{Job: *job, Payload: doc, Raw: raw}, nil
	}

	logger.Warn("no result file found", "tried", p.cfg.ResultFiles)
	return &Result{Job: *job}, nil
}
