package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/internal/storage"
)

// Cached wraps a Provider with a storage-backed payload cache. A fresh entry
// for the same provider and profile URL short-circuits the remote job.
type Cached struct {
	next    Provider
	backend storage.Backend
	ttl     time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
}

var _ Provider = (*Cached)(nil)

// NewCached wraps next. A non-positive ttl disables expiry.
func NewCached(next Provider, backend storage.Backend, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		next:    next,
		backend: backend,
		ttl:     ttl,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("provider", next.Name()),
	}
}

func (c *Cached) Name() string   { return c.next.Name() }
func (c *Cached) Domain() string { return c.next.Domain() }

func (c *Cached) Scrape(ctx context.Context, profileURL string) (*Result, error) {
	if res, ok := c.lookup(ctx, profileURL); ok {
		return res, nil
	}

	res, err := c.next.Scrape(ctx, profileURL)
	if err != nil || res == nil || res.Payload == nil || len(res.Raw) == 0 {
		return res, err
	}

	entry := &storage.Entry{
		ID:             uuid.NewString(),
		ProfileURL:     profileURL,
		Provider:       c.next.Name(),
		JobID:          res.Job.ID,
		ResultLocation: res.Job.ResultLocation,
		Payload:        res.Raw,
		CreatedAt:      c.clock.Now().UTC(),
	}
	if err := c.backend.Save(ctx, entry); err != nil {
		c.logger.Warn("cache save failed", "url", profileURL, "err", err)
	}
	return res, nil
}

func (c *Cached) lookup(ctx context.Context, profileURL string) (*Result, bool) {
	filter := storage.Filter{ProfileURL: profileURL, Provider: c.next.Name(), Limit: 1}
	if c.ttl > 0 {
		since := c.clock.Now().Add(-c.ttl)
		filter.Since = &since
	}

	entries, err := c.backend.Query(ctx, filter)
	if err != nil {
		c.logger.Warn("cache lookup failed", "url", profileURL, "err", err)
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	if len(entries) == 0 {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	e := entries[0]
	doc, err := payload.Parse(e.Payload)
	if err != nil {
		c.logger.Warn("cached payload unreadable", "url", profileURL, "id", e.ID, "err", err)
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	c.logger.Info("cache hit", "url", profileURL, "job_id", e.JobID, "age", c.clock.Since(e.CreatedAt).Round(time.Second))
	return &Result{
		Job: Job{
			ID:             e.JobID,
			Provider:       e.Provider,
			Status:         StatusSucceeded,
			ResultLocation: e.ResultLocation,
		},
		Payload: doc,
		Raw:     e.Payload,
		Cached:  true,
	}, true
}
