package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/lookout/internal/config"
	"github.com/FranksOps/lookout/internal/fetch"
	"github.com/FranksOps/lookout/internal/fingerprint"
	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/internal/payload"
	"github.com/FranksOps/lookout/internal/pipeline"
	"github.com/FranksOps/lookout/internal/scrape"
	"github.com/FranksOps/lookout/internal/serp"
	"github.com/FranksOps/lookout/internal/storage"
	"github.com/FranksOps/lookout/internal/storage/jsonbackend"
	"github.com/FranksOps/lookout/internal/storage/postgres"
	"github.com/FranksOps/lookout/internal/storage/sqlite"
	"github.com/FranksOps/lookout/internal/vision"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/proxy"
	"github.com/FranksOps/lookout/pkg/ratelimit"
	"github.com/FranksOps/lookout/pkg/useragent"
)

// app holds the long-lived pieces built from config for one command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	uaPool   *useragent.Pool
	proxies  *proxy.Pool
	limiter  *ratelimit.Limiter
	backend  storage.Backend
	metrics  *metrics.Server
	pipeline *pipeline.Pipeline
	search   serp.Provider
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		uaPool:  useragent.NewPool(cfg.Fetch.UserAgents),
		limiter: ratelimit.NewLimiter(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Jitter),
	}
	if cfg.Fetch.ProxyFile != "" {
		a.proxies = proxy.NewPool(proxy.Config{})
		if err := a.proxies.LoadFile(cfg.Fetch.ProxyFile); err != nil {
			return nil, fmt.Errorf("load proxies: %w", err)
		}
		logger.Info("proxy pool loaded", "count", a.proxies.Len())
	}

	search, err := a.newSearch()
	if err != nil {
		return nil, err
	}
	a.search = search
	return a, nil
}

// apiClient is shared by the search and scrape backends: browser UA, optional
// proxy rotation, plain TLS.
func (a *app) apiClient(timeout time.Duration) (*httpclient.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if a.proxies != nil && a.proxies.Len() > 0 {
		base.Proxy = a.proxies.ProxyFunc()
	}
	return httpclient.New(httpclient.Config{
		Timeout:   timeout,
		Transport: &useragent.Transport{Base: base, Pool: a.uaPool},
	})
}

func (a *app) newSearch() (serp.Provider, error) {
	client, err := a.apiClient(30 * time.Second)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter(a.cfg.Search.RequestsPerSecond, 0)
	switch a.cfg.SearchProvider() {
	case "serper":
		if a.cfg.Serper.APIKey == "" {
			return nil, errors.New("search.provider is serper but serper.api_key is not set")
		}
		return serp.NewSerper(serp.SerperConfig{
			APIKey:  a.cfg.Serper.APIKey,
			BaseURL: a.cfg.Serper.BaseURL,
			Client:  client,
			Limiter: limiter,
			Logger:  a.logger,
		}), nil
	default:
		a.logger.Info("using duckduckgo search")
		return serp.NewDuckDuckGo(serp.DuckDuckGoConfig{
			BaseURL: a.cfg.DuckDuckGo.BaseURL,
			Client:  client,
			Limiter: limiter,
			Logger:  a.logger,
		}), nil
	}
}

// openBackend opens the configured cache backend and drops expired entries.
func (a *app) openBackend(ctx context.Context) error {
	var (
		b   storage.Backend
		err error
	)
	switch a.cfg.Cache.Backend {
	case "", "none":
		return nil
	case "sqlite":
		b, err = sqlite.New(a.cfg.Cache.DSN)
	case "postgres":
		b, err = postgres.New(ctx, a.cfg.Cache.DSN)
	case "json":
		b, err = jsonbackend.New(a.cfg.Cache.DSN)
	default:
		return fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
	if err != nil {
		return fmt.Errorf("open %s cache: %w", a.cfg.Cache.Backend, err)
	}
	a.backend = b

	if a.cfg.Cache.TTL > 0 {
		n, err := b.Prune(ctx, time.Now().Add(-a.cfg.Cache.TTL))
		if err != nil {
			a.logger.Warn("cache prune failed", "err", err)
		} else if n > 0 {
			a.logger.Info("cache pruned", "removed", n)
		}
	}
	return nil
}

func (a *app) scrapers() (*scrape.Router, error) {
	client, err := a.apiClient(60 * time.Second)
	if err != nil {
		return nil, err
	}

	var providers []scrape.Provider
	pb := a.cfg.Phantombuster
	if pb.APIKey != "" && pb.AgentID != "" {
		providers = append(providers, scrape.NewPhantombuster(scrape.PhantombusterConfig{
			APIKey:         pb.APIKey,
			BaseURL:        pb.BaseURL,
			AgentID:        pb.AgentID,
			StorageBaseURL: pb.StorageBaseURL,
			ResultFiles:    pb.ResultFiles,
			Identity: scrape.Identity{
				ID:            pb.IdentityID,
				SessionCookie: pb.SessionCookie,
				UserAgent:     pb.UserAgent,
			},
			PollInterval: pb.PollInterval,
			MaxAttempts:  pb.MaxAttempts,
			SettleDelay:  pb.SettleDelay,
			Client:       client,
			Logger:       a.logger,
		}))
	} else {
		a.logger.Warn("phantombuster not configured, linkedin profiles will be skipped")
	}

	ap := a.cfg.Apify
	if ap.Token != "" {
		providers = append(providers, scrape.NewApify(scrape.ApifyConfig{
			Token:        ap.Token,
			BaseURL:      ap.BaseURL,
			ActorID:      ap.ActorID,
			PollInterval: ap.PollInterval,
			MaxAttempts:  ap.MaxAttempts,
			Client:       client,
			Logger:       a.logger,
		}))
	} else {
		a.logger.Warn("apify not configured, instagram profiles will be skipped")
	}

	if a.backend != nil {
		for i, p := range providers {
			providers[i] = scrape.NewCached(p, a.backend, a.cfg.Cache.TTL, a.logger)
		}
	}
	return scrape.NewRouter(providers...), nil
}

func (a *app) analyzer() (vision.Analyzer, error) {
	if a.cfg.Gemini.APIKey == "" {
		return nil, errors.New("gemini.api_key is required for analysis")
	}
	profile, err := fingerprint.ParseProfile(a.cfg.Fetch.Fingerprint)
	if err != nil {
		return nil, err
	}

	fetcher, err := fetch.New(fetch.Config{
		Timeout:     a.cfg.Fetch.Timeout,
		MaxBytes:    a.cfg.Fetch.MaxBytes,
		Concurrency: a.cfg.Fetch.Concurrency,
		UAPool:      a.uaPool,
		ProxyPool:   a.proxies,
		Fingerprint: profile,
		Limiter:     a.limiter,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("image fetcher: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{Timeout: 2 * time.Minute})
	if err != nil {
		return nil, err
	}
	return vision.NewGemini(vision.GeminiConfig{
		APIKey:  a.cfg.Gemini.APIKey,
		BaseURL: a.cfg.Gemini.BaseURL,
		Model:   a.cfg.Gemini.Model,
		Prompt:  a.cfg.Gemini.Prompt,
		Images:  fetcher,
		Client:  client,
		Logger:  a.logger,
	})
}

// buildPipeline wires every stage. It opens the cache, so callers must
// close the app afterwards.
func (a *app) buildPipeline(ctx context.Context) error {
	if err := a.openBackend(ctx); err != nil {
		return err
	}
	router, err := a.scrapers()
	if err != nil {
		return err
	}
	analyzer, err := a.analyzer()
	if err != nil {
		return err
	}
	policy, err := pipeline.ParseDirectoryPolicy(a.cfg.Pipeline.DirectoryPolicy)
	if err != nil {
		return err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Search:          a.search,
		Scraper:         router,
		Analyzer:        analyzer,
		Extractor:       payload.NewExtractor(a.cfg.Pipeline.ExtraImageFields...),
		ImageCap:        a.cfg.Pipeline.ImageCap,
		DirectoryPolicy: policy,
		Logger:          a.logger,
	})
	return err
}

func (a *app) startMetrics() {
	if a.cfg.Metrics.Port > 0 {
		a.metrics = metrics.Start(a.cfg.Metrics.Port, a.logger)
		a.logger.Info("metrics listening", "port", a.cfg.Metrics.Port)
	}
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metrics.Stop(ctx); err != nil {
		a.logger.Warn("metrics shutdown failed", "err", err)
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("cache close failed", "err", err)
		}
	}
}
