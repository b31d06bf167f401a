package serp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/lookout/pkg/ratelimit"
)

func TestClassifySource(t *testing.T) {
	tests := map[string]Source{
		"https://www.linkedin.com/in/jane-doe":  SourceLinkedIn,
		"https://uk.linkedin.com/in/jane-doe":   SourceLinkedIn,
		"https://instagram.com/janedoe":         SourceInstagram,
		"https://www.instagram.com/p/abc/":      SourceInstagram,
		"https://twitter.com/janedoe":           SourceTwitter,
		"https://x.com/janedoe":                 SourceTwitter,
		"https://notlinkedin.com/in/jane":       SourceOther,
		"https://example.com/?ref=linkedin.com": SourceOther,
		"not a url":                             SourceOther,
		"":                                      SourceOther,
	}
	for link, want := range tests {
		if got := ClassifySource(link); got != want {
			t.Errorf("ClassifySource(%q) = %q, want %q", link, got, want)
		}
	}
}

func TestSerper_Search(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("X-API-KEY"); got != "secret" {
			t.Errorf("expected api key header, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["q"] != "Jane Doe LinkedIn" {
			t.Errorf("unexpected body %v (%v)", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Jane Doe - Engineer","link":"https://www.linkedin.com/in/jane-doe","snippet":"..."},
			{"title":"Jane on IG","link":"https://instagram.com/janedoe","snippet":""},
			{"title":"Blog","link":"https://janedoe.dev","snippet":""}
		]}`))
	}))
	defer ts.Close()

	s := NewSerper(SerperConfig{APIKey: "secret", BaseURL: ts.URL})
	results, err := s.Search(context.Background(), "Jane Doe LinkedIn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []Source{SourceLinkedIn, SourceInstagram, SourceOther}
	for i, r := range results {
		if r.Source != want[i] {
			t.Errorf("result %d: expected source %s, got %s", i, want[i], r.Source)
		}
	}
	if results[0].Title != "Jane Doe - Engineer" {
		t.Errorf("unexpected title %q", results[0].Title)
	}
}

func TestSerper_NoOrganic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"searchParameters":{"q":"x"}}`))
	}))
	defer ts.Close()

	results, err := NewSerper(SerperConfig{BaseURL: ts.URL}).Search(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("missing organic should not be an error, got %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", results)
	}
}

func TestSerper_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewSerper(SerperConfig{BaseURL: ts.URL}).Search(context.Background(), "Jane Doe")
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests || pe.Provider != "serper" {
		t.Errorf("unexpected error fields: %+v", pe)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	for _, p := range []Provider{
		NewSerper(SerperConfig{BaseURL: ts.URL}),
		NewDuckDuckGo(DuckDuckGoConfig{BaseURL: ts.URL}),
	} {
		if _, err := p.Search(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("%s: expected ErrEmptyQuery, got %v", p.Name(), err)
		}
	}
	if calls != 0 {
		t.Errorf("expected no network calls, got %d", calls)
	}
}

const ddgPage = `<html><body>
<div class="result results_links web-result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.linkedin.com%2Fin%2Fjane-doe&amp;rut=abc">Jane Doe | LinkedIn</a></h2>
  <a class="result__snippet" href="#">Engineer at Example</a>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="https://www.instagram.com/janedoe/">Jane (@janedoe)</a></h2>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.linkedin.com%2Fin%2Fjane-doe&amp;rut=def">duplicate</a></h2>
</div>
<div class="result result--ad">
  <h2><a class="result__a" href="https://duckduckgo.com/y.js?ad=1">Ad</a></h2>
</div>
</body></html>`

func TestDuckDuckGo_Search(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Jane Doe Instagram" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer ts.Close()

	results, err := NewDuckDuckGo(DuckDuckGoConfig{BaseURL: ts.URL}).Search(context.Background(), "Jane Doe Instagram")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Link != "https://www.linkedin.com/in/jane-doe" || results[0].Source != SourceLinkedIn {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[0].Snippet != "Engineer at Example" {
		t.Errorf("unexpected snippet %q", results[0].Snippet)
	}
	if results[1].Source != SourceInstagram {
		t.Errorf("unexpected second result %+v", results[1])
	}
}

func TestDuckDuckGo_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := NewDuckDuckGo(DuckDuckGoConfig{BaseURL: ts.URL}).Search(context.Background(), "x")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 ProviderError, got %v", err)
	}
}

func TestSearch_PacedByLimiter(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"organic":[]}`))
			return
		}
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer ts.Close()

	for _, p := range []Provider{
		NewSerper(SerperConfig{BaseURL: ts.URL, Limiter: ratelimit.NewLimiter(10, 0)}),
		NewDuckDuckGo(DuckDuckGoConfig{BaseURL: ts.URL, Limiter: ratelimit.NewLimiter(10, 0)}),
	} {
		mu.Lock()
		times = nil
		mu.Unlock()

		for _, q := range []string{"Jane Doe LinkedIn", "Jane Doe Instagram"} {
			if _, err := p.Search(context.Background(), q); err != nil {
				t.Fatalf("%s: unexpected error: %v", p.Name(), err)
			}
		}

		mu.Lock()
		if len(times) != 2 {
			t.Fatalf("%s: expected 2 requests, got %d", p.Name(), len(times))
		}
		// 10/s leaves at least 100ms between queries; allow timer slack.
		if gap := times[1].Sub(times[0]); gap < 80*time.Millisecond {
			t.Errorf("%s: expected searches to be spaced by the limiter, gap was %v", p.Name(), gap)
		}
		mu.Unlock()
	}
}
