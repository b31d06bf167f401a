package scrape

import (
	"context"
	"fmt"
)

// Router dispatches profile URLs to the provider that owns their domain.
type Router struct {
	providers []Provider
}

// NewRouter creates a Router. Earlier providers win when domains overlap.
func NewRouter(providers ...Provider) *Router {
	var ps []Provider
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Router{providers: ps}
}

// Route returns the provider serving profileURL.
func (r *Router) Route(profileURL string) (Provider, bool) {
	for _, p := range r.providers {
		if MatchesDomain(profileURL, p.Domain()) {
			return p, true
		}
	}
	return nil, false
}

// Domains lists the domains with a registered provider, in registration order.
func (r *Router) Domains() []string {
	out := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Domain())
	}
	return out
}

// Scrape routes profileURL and runs it on the owning provider.
func (r *Router) Scrape(ctx context.Context, profileURL string) (*Result, error) {
	p, ok := r.Route(profileURL)
	if !ok {
		return nil, fmt.Errorf("scrape: no provider for %s", profileURL)
	}
	return p.Scrape(ctx, profileURL)
}
