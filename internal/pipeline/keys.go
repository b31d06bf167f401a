package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/lookout/internal/fetch"
	"github.com/FranksOps/lookout/internal/scrape"
	"github.com/FranksOps/lookout/internal/serp"
	"github.com/FranksOps/lookout/internal/vision"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/useragent"
)

// Keys are the provider credentials for a run against the public endpoints.
// Serper falls back to DuckDuckGo when empty. A scraper without credentials is
// not registered and its platform yields no images. Gemini is required.
type Keys struct {
	Serper               string
	Apify                string
	Phantombuster        string
	PhantombusterAgentID string
	Gemini               string
}

// NewFromKeys builds a Pipeline with default settings for every stage.
func NewFromKeys(keys Keys, logger *slog.Logger) (*Pipeline, error) {
	if keys.Gemini == "" {
		return nil, errors.New("pipeline: gemini key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:   60 * time.Second,
		Transport: &useragent.Transport{Base: http.DefaultTransport, Pool: useragent.NewPool(nil)},
	})
	if err != nil {
		return nil, err
	}

	var search serp.Provider
	if keys.Serper != "" {
		search = serp.NewSerper(serp.SerperConfig{APIKey: keys.Serper, Client: client, Logger: logger})
	} else {
		search = serp.NewDuckDuckGo(serp.DuckDuckGoConfig{Client: client, Logger: logger})
	}

	var providers []scrape.Provider
	if keys.Phantombuster != "" && keys.PhantombusterAgentID != "" {
		providers = append(providers, scrape.NewPhantombuster(scrape.PhantombusterConfig{
			APIKey:  keys.Phantombuster,
			AgentID: keys.PhantombusterAgentID,
			Client:  client,
			Logger:  logger,
		}))
	} else {
		logger.Warn("phantombuster not configured, linkedin profiles will be skipped")
	}
	if keys.Apify != "" {
		providers = append(providers, scrape.NewApify(scrape.ApifyConfig{
			Token:  keys.Apify,
			Client: client,
			Logger: logger,
		}))
	} else {
		logger.Warn("apify not configured, instagram profiles will be skipped")
	}

	fetcher, err := fetch.New(fetch.Config{UAPool: useragent.NewPool(nil), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("pipeline: image fetcher: %w", err)
	}
	analyzer, err := vision.NewGemini(vision.GeminiConfig{APIKey: keys.Gemini, Images: fetcher, Logger: logger})
	if err != nil {
		return nil, err
	}

	return New(Config{
		Search:   search,
		Scraper:  scrape.NewRouter(providers...),
		Analyzer: analyzer,
		Logger:   logger,
	})
}

// RunWithKeys runs target once through a pipeline built by NewFromKeys.
func RunWithKeys(ctx context.Context, target string, keys Keys) (string, error) {
	p, err := NewFromKeys(keys, nil)
	if err != nil {
		return "", err
	}
	return p.Run(ctx, target)
}
