package pipeline

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/FranksOps/lookout/internal/scrape"
)

func TestNewFromKeys(t *testing.T) {
	tests := []struct {
		name        string
		keys        Keys
		wantErr     bool
		wantSearch  string
		wantDomains []string
	}{
		{
			name:    "missing gemini key",
			keys:    Keys{Serper: "s", Apify: "a"},
			wantErr: true,
		},
		{
			name:        "all keys",
			keys:        Keys{Serper: "s", Apify: "a", Phantombuster: "p", PhantombusterAgentID: "1", Gemini: "g"},
			wantSearch:  "serper",
			wantDomains: []string{"linkedin.com", "instagram.com"},
		},
		{
			name:        "keyless search and agent without id",
			keys:        Keys{Apify: "a", Phantombuster: "p", Gemini: "g"},
			wantSearch:  "duckduckgo",
			wantDomains: []string{"instagram.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFromKeys(tt.keys, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFromKeys error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.search.Name() != tt.wantSearch {
				t.Errorf("expected %s search, got %s", tt.wantSearch, p.search.Name())
			}
			router, ok := p.scraper.(*scrape.Router)
			if !ok {
				t.Fatalf("expected *scrape.Router, got %T", p.scraper)
			}
			if got := router.Domains(); !slices.Equal(got, tt.wantDomains) {
				t.Errorf("expected domains %v, got %v", tt.wantDomains, got)
			}
			if p.imageCap != DefaultImageCap {
				t.Errorf("expected default image cap, got %d", p.imageCap)
			}
		})
	}
}

func TestRunWithKeys_EmptyTarget(t *testing.T) {
	_, err := RunWithKeys(context.Background(), "  ", Keys{Gemini: "g"})
	if !errors.Is(err, ErrEmptyTarget) {
		t.Fatalf("expected ErrEmptyTarget, got %v", err)
	}
}
