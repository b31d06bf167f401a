package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_search_requests_total",
			Help: "Search queries issued, by backend and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ScrapeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_scrape_jobs_total",
			Help: "Remote scrape jobs by provider and final status",
		},
		[]string{"provider", "status"},
	)

	PollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookout_poll_attempts",
			Help:    "Status checks performed per remote scrape job",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 40, 60, 120},
		},
		[]string{"provider"},
	)

	ImagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_images_fetched_total",
			Help: "Image downloads by outcome",
		},
		[]string{"outcome"},
	)

	AnalyzerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_analyzer_requests_total",
			Help: "Multimodal analysis calls by outcome",
		},
		[]string{"outcome"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_cache_lookups_total",
			Help: "Scrape cache lookups by result",
		},
		[]string{"result"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookout_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)
)

// RecordSearch counts one search call. err decides the outcome label.
func RecordSearch(provider string, err error) {
	SearchRequestsTotal.WithLabelValues(provider, outcome(err)).Inc()
}

// RecordScrapeJob counts a job that reached status after attempts checks.
// attempts of zero (launch skipped, cache hit) is not observed.
func RecordScrapeJob(provider, status string, attempts int) {
	ScrapeJobsTotal.WithLabelValues(provider, status).Inc()
	if attempts > 0 {
		PollAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

// ObserveStage records how long a pipeline stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
