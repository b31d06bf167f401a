// Package api serves lookout runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/pipeline"
	"github.com/FranksOps/lookout/internal/vision"
)

// Runner executes one pipeline run. *pipeline.Pipeline satisfies it.
type Runner interface {
	RunDetailed(ctx context.Context, target string) (*pipeline.Outcome, error)
}

var _ Runner = (*pipeline.Pipeline)(nil)

type Server struct {
	router *chi.Mux
	runner Runner
	logger *slog.Logger
	// timeout bounds a single analyze request; zero means none.
	timeout time.Duration
}

// NewServer builds the router. runTimeout caps each analyze request.
func NewServer(runner Runner, runTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		runner:  runner,
		logger:  logger,
		timeout: runTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router.Post("/v1/analyze", s.handleAnalyze)
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type analyzeRequest struct {
	Name string `json:"name"`
}

type analyzeResponse struct {
	RunID    string             `json:"run_id"`
	Report   string             `json:"report"`
	Profiles []pipeline.Profile `json:"profiles"`
	Images   []string           `json:"images"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.runner.RunDetailed(ctx, req.Name)
	if err != nil {
		var ve *vision.Error
		switch {
		case errors.Is(err, pipeline.ErrEmptyTarget):
			respondError(w, http.StatusBadRequest, "name is required")
		case errors.As(err, &ve):
			respondError(w, http.StatusBadGateway, "Analysis failed: "+err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			respondError(w, http.StatusGatewayTimeout, "Run timed out")
		default:
			s.logger.Error("run failed", "err", err)
			respondError(w, http.StatusInternalServerError, "Run failed")
		}
		return
	}

	resp := analyzeResponse{
		RunID:    out.RunID,
		Report:   out.Report,
		Profiles: out.Profiles,
		Images:   out.Analyzed,
	}
	if resp.Profiles == nil {
		resp.Profiles = []pipeline.Profile{}
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
