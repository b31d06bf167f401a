// Package serp runs keyword searches and labels each hit with the social
// platform it points at.
package serp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Source is the platform a search result links to.
type Source string

const (
	SourceLinkedIn  Source = "linkedin"
	SourceInstagram Source = "instagram"
	SourceTwitter   Source = "twitter"
	SourceOther     Source = "other"
)

// ErrEmptyQuery is returned for blank queries without touching the network.
var ErrEmptyQuery = errors.New("serp: empty query")

// Result is a single organic search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  Source `json:"source"`
}

// Provider abstracts a search backend. Implementations issue exactly one
// outbound request per call and never retry. No organic results is an empty
// slice, not an error.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// ProviderError reports a non-2xx answer from a search backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("serp: %s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("serp: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

var sourceDomains = map[string]Source{
	"linkedin.com":  SourceLinkedIn,
	"instagram.com": SourceInstagram,
	"twitter.com":   SourceTwitter,
	"x.com":         SourceTwitter,
}

// ClassifySource derives the platform of link from its registrable domain.
// Hosts the public suffix list cannot resolve fall back to a substring match.
func ClassifySource(link string) Source {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Hostname() == "" {
		return SourceOther
	}
	host := strings.ToLower(u.Hostname())

	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		if src, ok := sourceDomains[etld1]; ok {
			return src
		}
		return SourceOther
	}
	for domain, src := range sourceDomains {
		if strings.Contains(host, domain) {
			return src
		}
	}
	return SourceOther
}

func classify(results []Result) []Result {
	for i := range results {
		results[i].Source = ClassifySource(results[i].Link)
	}
	return results
}
