package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/ratelimit"
)

// DefaultDuckDuckGoURL is the JavaScript-free DuckDuckGo results page.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGoConfig configures the DuckDuckGo HTML backend.
type DuckDuckGoConfig struct {
	BaseURL string
	// Client should carry a browser User-Agent; DuckDuckGo serves an empty
	// page to Go's default one.
	Client  *httpclient.Client
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// DuckDuckGo scrapes the DuckDuckGo HTML endpoint. It needs no API key and
// serves as the fallback when Serper is not configured.
type DuckDuckGo struct {
	baseURL string
	client  *httpclient.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ Provider = (*DuckDuckGo)(nil)

// NewDuckDuckGo creates a DuckDuckGo backend.
func NewDuckDuckGo(cfg DuckDuckGoConfig) *DuckDuckGo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDuckDuckGoURL
	}
	if cfg.Client == nil {
		cfg.Client = httpclient.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DuckDuckGo{
		baseURL: cfg.BaseURL,
		client:  cfg.Client,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search fetches one results page for query.
func (d *DuckDuckGo) Search(ctx context.Context, query string) (results []Result, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	defer func() { metrics.RecordSearch(d.Name(), err) }()

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	resp, err := d.client.Get(ctx, d.baseURL+"?q="+url.QueryEscape(query), http.Header{"Accept": {"text/html"}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp); err != nil {
		var se *httpclient.StatusError
		if !errors.As(err, &se) {
			return nil, err
		}
		return nil, &ProviderError{Provider: d.Name(), StatusCode: se.StatusCode, Body: se.Body}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("context: parse results page: %w", err)
	}

	results = []Result{}
	seen := make(map[string]bool)
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		a := s.Find("a.result__a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := decodeDDGLink(href)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		results = append(results, Result{
			Title:   strings.TrimSpace(a.Text()),
			Link:    link,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
	})

	d.logger.Debug("search completed", "provider", d.Name(), "query", query, "results", len(results))
	return classify(results), nil
}

// decodeDDGLink unwraps DuckDuckGo's /l/?uddg=<target> redirect links and
// drops anything that does not resolve to an absolute off-site URL.
func decodeDDGLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		href = target
		if u, err = url.Parse(target); err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		return ""
	}
	return href
}
