package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/ratelimit"
)

// DefaultSerperURL is the Serper Google search endpoint.
const DefaultSerperURL = "https://google.serper.dev/search"

// SerperConfig configures the Serper backend.
type SerperConfig struct {
	APIKey  string
	BaseURL string
	Client  *httpclient.Client
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// Serper searches Google through serper.dev.
type Serper struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ Provider = (*Serper)(nil)

// NewSerper creates a Serper backend.
func NewSerper(cfg SerperConfig) *Serper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSerperURL
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Serper{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  cfg.Client,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

func (s *Serper) Name() string { return "serper" }

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search posts {q: query} and returns the organic results.
func (s *Serper) Search(ctx context.Context, query string) (results []Result, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	defer func() { metrics.RecordSearch(s.Name(), err) }()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	header := http.Header{}
	header.Set("X-API-KEY", s.apiKey)

	var out serperResponse
	status, err := s.client.DoJSON(ctx, http.MethodPost, s.baseURL, header, map[string]string{"q": query}, &out)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, &ProviderError{Provider: s.Name(), StatusCode: se.StatusCode, Body: se.Body}
		}
		return nil, fmt.Errorf("serper search (status %d): %w", status, err)
	}

	results = make([]Result, 0, len(out.Organic))
	for _, o := range out.Organic {
		results = append(results, Result{Title: o.Title, Link: o.Link, Snippet: o.Snippet})
	}
	s.logger.Debug("search completed", "provider", s.Name(), "query", query, "results", len(results))
	return classify(results), nil
}
