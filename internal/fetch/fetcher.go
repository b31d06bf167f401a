// Package fetch downloads profile images for analysis. Every URL is fetched
// independently: a slow, blocked or broken URL costs only its own slot.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/lookout/internal/bypass"
	"github.com/FranksOps/lookout/internal/fingerprint"
	"github.com/FranksOps/lookout/internal/metrics"
	"github.com/FranksOps/lookout/pkg/httpclient"
	"github.com/FranksOps/lookout/pkg/proxy"
	"github.com/FranksOps/lookout/pkg/ratelimit"
	"github.com/FranksOps/lookout/pkg/useragent"
)

var (
	// ErrTooLarge is returned for bodies over Config.MaxBytes.
	ErrTooLarge = errors.New("fetch: image exceeds size limit")
	// ErrNotImage is returned for 2xx responses that are not image data.
	ErrNotImage = errors.New("fetch: response is not an image")
)

// Error is an ImageFetchError: one URL that could not be turned into image
// bytes. It never aborts a batch.
type Error struct {
	URL        string
	StatusCode int
	// BlockedBy names the bot-protection vendor that challenged the request.
	BlockedBy string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s", e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.BlockedBy != "" {
		fmt.Fprintf(&b, ": blocked by %s", e.BlockedBy)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Image is a downloaded image.
type Image struct {
	URL      string
	MIMEType string
	Data     []byte
}

type contextKey string

const proxyKey contextKey = "proxy_url"

// Config configures a Fetcher.
type Config struct {
	Timeout time.Duration
	// MaxBytes caps a single image. Defaults to 10 MiB.
	MaxBytes int64
	// Concurrency caps in-flight downloads in FetchAll. Defaults to 5.
	Concurrency int
	UAPool      *useragent.Pool
	ProxyPool   *proxy.Pool
	Fingerprint fingerprint.Profile
	Limiter     *ratelimit.Limiter
	Logger      *slog.Logger
	// InsecureSkipVerify disables TLS verification. Tests only.
	InsecureSkipVerify bool
}

// Fetcher downloads images through a shared, fingerprinted transport.
type Fetcher struct {
	cfg    Config
	client *httpclient.Client
	logger *slog.Logger
}

// New builds a Fetcher. The transport is created once so connections are
// pooled across a batch.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy for each request travels in its context so the pool can be
	// told which one failed.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	tr, err := fingerprint.Transport(fingerprint.Options{
		Profile:            cfg.Fingerprint,
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: 5,
		Transport:    tr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Fetcher{cfg: cfg, client: client, logger: cfg.Logger}, nil
}

// FetchImage downloads one image. Failures are returned as *Error.
func (f *Fetcher) FetchImage(ctx context.Context, imageURL string) (img *Image, err error) {
	defer func() {
		outcome := "ok"
		var fe *Error
		switch {
		case errors.As(err, &fe) && fe.BlockedBy != "":
			outcome = "blocked"
		case err != nil:
			outcome = "error"
		}
		metrics.ImagesFetchedTotal.WithLabelValues(outcome).Inc()
	}()

	if err := f.cfg.Limiter.Wait(ctx); err != nil {
		return nil, &Error{URL: imageURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &Error{URL: imageURL, Err: err}
	}

	var activeProxy *url.URL
	if f.cfg.ProxyPool != nil {
		if activeProxy = f.cfg.ProxyPool.Next(); activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	req.Header.Set("User-Agent", f.cfg.UAPool.GetSequential())
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.cfg.ProxyPool.MarkFailure(activeProxy)
		}
		return nil, &Error{URL: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.cfg.ProxyPool.MarkSuccess(activeProxy)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, &Error{URL: imageURL, StatusCode: resp.StatusCode, Err: err}
	}

	if vendor, blocked := bypass.Analyze(&bypass.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, bypass.DefaultDetectors()); blocked {
		return nil, &Error{URL: imageURL, StatusCode: resp.StatusCode, BlockedBy: vendor}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{URL: imageURL, StatusCode: resp.StatusCode}
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, &Error{URL: imageURL, StatusCode: resp.StatusCode, Err: ErrTooLarge}
	}

	mimeType := contentType(resp.Header.Get("Content-Type"), body)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &Error{URL: imageURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrNotImage, mimeType)}
	}

	return &Image{URL: imageURL, MIMEType: mimeType, Data: body}, nil
}

// contentType returns the declared media type, sniffing the body when the
// header is missing or generic.
func contentType(header string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		switch mt {
		case "", "application/octet-stream", "binary/octet-stream":
		default:
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mt
}

// FetchAll downloads urls concurrently and returns the images that made it,
// in input order, along with one *Error per URL that did not.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]*Image, []error) {
	images := make([]*Image, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			img, err := f.FetchImage(ctx, u)
			if err != nil {
				f.logger.Warn("image fetch failed", "url", u, "err", err)
				errs[i] = err
				return nil
			}
			images[i] = img
			return nil
		})
	}
	// Failures land in errs; the group only bounds concurrency.
	_ = g.Wait()

	var out []*Image
	var failed []error
	for i := range urls {
		if images[i] != nil {
			out = append(out, images[i])
		} else if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return out, failed
}
