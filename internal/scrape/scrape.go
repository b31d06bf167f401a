// Package scrape launches remote scraping jobs against profile URLs and waits
// for their results.
//
// Two lifecycles are supported. Actor jobs (Apify) are polled through a run
// status endpoint and their output is read from a dataset. Agent jobs
// (Phantombuster) are polled through a container endpoint and their output is
// read from object storage at a path reported by a separate agent lookup.
// Both loops run on a shared poll.Policy so they are bounded, cancellable and
// testable without real sleeps.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/pkg/poll"
)

// Status is the lifecycle state of a ScrapeJob.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusSkipped   Status = "SKIPPED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimeout, StatusSkipped:
		return true
	}
	return false
}

// Job tracks one remote scrape job.
type Job struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Status   Status `json:"status"`
	// ResultLocation is the dataset id or storage URL the payload came from.
	ResultLocation string `json:"result_location,omitempty"`
	Attempts       int    `json:"attempts"`
}

func newJob(provider string) *Job {
	return &Job{Provider: provider, Status: StatusPending}
}

// transition moves the job to s. Terminal states are final; the call is
// ignored and reports false once one is reached.
func (j *Job) transition(s Status) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = s
	return true
}

// outcome is the status label recorded for a finished Scrape call. A job that
// succeeded remotely but whose output could not be retrieved counts as FAILED.
func (j *Job) outcome(err error) string {
	if err != nil && j.Status == StatusSucceeded {
		return string(StatusFailed)
	}
	return string(j.Status)
}

// Result is what a provider hands back for one profile URL. Payload is nil
// when the job was skipped or produced nothing retrievable.
type Result struct {
	Job     Job
	Payload *payload.Node
	// Raw is the undecoded payload, kept for the cache.
	Raw    []byte
	Cached bool
}

// Provider scrapes profile URLs on one platform.
type Provider interface {
	// Name identifies the backend in logs, metrics and cache keys.
	Name() string
	// Domain is the registrable domain this provider serves, e.g.
	// "instagram.com".
	Domain() string
	Scrape(ctx context.Context, profileURL string) (*Result, error)
}

// LaunchError reports a job that could not be started, or whose output could
// not be retrieved.
type LaunchError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("scrape: %s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

// JobFailedError reports a job that reached a terminal non-success state.
type JobFailedError struct {
	Provider string
	JobID    string
	Status   Status
	// Remote is the provider's own status string.
	Remote string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("scrape: %s job %s ended %s (%s)", e.Provider, e.JobID, e.Status, e.Remote)
}

// PollTimeoutError reports a job still running when the attempt bound ran out.
type PollTimeoutError struct {
	Provider string
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("scrape: %s job %s still running after %d checks", e.Provider, e.JobID, e.Attempts)
}

func (e *PollTimeoutError) Unwrap() error { return poll.ErrExhausted }

// DomainMismatchError is returned when a provider is handed a URL outside the
// platform it serves.
type DomainMismatchError struct {
	Provider string
	Domain   string
	URL      string
}

func (e *DomainMismatchError) Error() string {
	return fmt.Sprintf("scrape: %s only serves %s, got %s", e.Provider, e.Domain, e.URL)
}

// MatchesDomain reports whether rawURL's host belongs to domain, including
// any subdomain of it.
func MatchesDomain(rawURL, domain string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	if host == "" || domain == "" {
		return false
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && etld1 == domain {
		return true
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func checkDomain(p Provider, profileURL string) error {
	if !MatchesDomain(profileURL, p.Domain()) {
		return &DomainMismatchError{Provider: p.Name(), Domain: p.Domain(), URL: profileURL}
	}
	return nil
}
