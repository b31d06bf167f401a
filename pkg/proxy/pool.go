// Package proxy rotates outbound image downloads across a list of upstream
// proxies and benches the ones that keep failing.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when marking a proxy the pool never handed out.
var ErrUnknownProxy = errors.New("context: proxy not found in pool")

type endpoint struct {
	url       *url.URL
	failures  int
	successes int
	benched   time.Time
}

func (e *endpoint) available(now time.Time) bool {
	return e.benched.IsZero() || now.After(e.benched)
}

// Pool hands out proxies round-robin, skipping benched ones.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	byKey       map[string]*endpoint
	next        int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures benches a proxy once reached. Defaults to 3.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out. Defaults to 5m.
	Cooldown time.Duration
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		byKey:       make(map[string]*endpoint),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile adds one proxy per line from path. Blank lines and '#' comments
// are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer f.Close()

	var raws []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return p.Add(raws...)
}

// Add parses and appends proxies. A missing scheme means http. Duplicates are
// ignored.
func (p *Pool) Add(raws ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range raws {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		key := u.String()
		if _, ok := p.byKey[key]; ok {
			continue
		}
		e := &endpoint{url: u}
		p.endpoints = append(p.endpoints, e)
		p.byKey[key] = e
	}
	return nil
}

// Len reports how many proxies are configured, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next available proxy, or nil when the pool is empty or
// every proxy is benched.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	now := p.now()
	for i := 0; i < n; i++ {
		e := p.endpoints[p.next]
		p.next = (p.next + 1) % n
		if !e.available(now) {
			continue
		}
		if !e.benched.IsZero() {
			e.benched = time.Time{}
			e.failures = 0
		}
		return e.url
	}
	return nil
}

// MarkSuccess credits a proxy and forgives one prior failure.
func (p *Pool) MarkSuccess(u *url.URL) error {
	return p.mark(u, func(e *endpoint) {
		e.successes++
		if e.failures > 0 {
			e.failures--
		}
	})
}

// MarkFailure records a failure, benching the proxy for the cooldown once
// MaxFailures is reached.
func (p *Pool) MarkFailure(u *url.URL) error {
	return p.mark(u, func(e *endpoint) {
		e.failures++
		if e.failures >= p.maxFailures {
			e.benched = p.now().Add(p.cooldown)
		}
	})
}

func (p *Pool) mark(u *url.URL, fn func(*endpoint)) error {
	if u == nil {
		return errors.New("context: proxy url cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[u.String()]
	if !ok {
		return ErrUnknownProxy
	}
	fn(e)
	return nil
}

// ProxyFunc adapts the pool to http.Transport.Proxy. An empty or fully
// benched pool dials directly.
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return p.Next(), nil
	}
}
