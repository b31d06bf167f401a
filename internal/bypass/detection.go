// Package bypass recognises bot-protection challenge pages served in place of
// image bytes.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	// Body may be truncated. Detectors only need the first few KB.
	Body []byte
}

// Detector reports the name of the protection vendor that challenged the
// request, or "" when the response looks genuine.
type Detector func(res *Response) string

// signature describes one vendor's challenge page.
type signature struct {
	vendor   string
	statuses []int
	server   string   // substring of the Server header, lowercase
	headers  []string // any of these headers present
	body     [][]byte // any of these in the body
	bodyAll  [][]byte // all of these in the body
}

var signatures = []signature{
	{
		vendor:   "Cloudflare",
		statuses: []int{http.StatusForbidden, http.StatusServiceUnavailable},
		server:   "cloudflare",
		body: [][]byte{
			[]byte("cf-browser-verification"),
			[]byte("cloudflare-nginx"),
			[]byte("cf-turnstile"),
			[]byte("Attention Required! | Cloudflare"),
		},
	},
	{
		vendor:   "Akamai",
		statuses: []int{http.StatusForbidden},
		server:   "akamai",
		bodyAll:  [][]byte{[]byte("Reference #"), []byte("Access Denied")},
	},
	{
		vendor:   "DataDome",
		statuses: []int{http.StatusForbidden},
		server:   "datadome",
		headers:  []string{"X-DataDome", "X-DataDome-Response"},
		body:     [][]byte{[]byte("geo.captcha-delivery.com"), []byte("datadome")},
	},
	{
		vendor:   "PerimeterX",
		statuses: []int{http.StatusForbidden},
		headers:  []string{"X-Px-Captcha"},
		body: [][]byte{
			[]byte("client.perimeterx.net"),
			[]byte("px-captcha"),
			[]byte("_pxBlock"),
		},
	},
}

func (s signature) match(res *Response) bool {
	statusHit := false
	for _, code := range s.statuses {
		if res.StatusCode == code {
			statusHit = true
			break
		}
	}
	if !statusHit {
		return false
	}

	if s.server != "" && strings.Contains(strings.ToLower(res.Header.Get("Server")), s.server) {
		return true
	}
	for _, h := range s.headers {
		if res.Header.Get(h) != "" {
			return true
		}
	}
	for _, b := range s.body {
		if bytes.Contains(res.Body, b) {
			return true
		}
	}
	if len(s.bodyAll) > 0 {
		for _, b := range s.bodyAll {
			if !bytes.Contains(res.Body, b) {
				return false
			}
		}
		return true
	}
	return false
}

func (s signature) detector() Detector {
	return func(res *Response) string {
		if s.match(res) {
			return s.vendor
		}
		return ""
	}
}

// detectLoginWall catches CDNs that answer hotlinked media with a 200 login
// page instead of an error status.
func detectLoginWall(res *Response) string {
	if res.StatusCode != http.StatusOK {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(res.Header.Get("Content-Type")), "text/html") {
		return ""
	}
	if bytes.Contains(res.Body, []byte("/accounts/login")) || bytes.Contains(res.Body, []byte("authwall")) {
		return "LoginWall"
	}
	return ""
}

// DefaultDetectors returns the vendor detectors in priority order.
func DefaultDetectors() []Detector {
	ds := make([]Detector, 0, len(signatures)+1)
	for _, s := range signatures {
		ds = append(ds, s.detector())
	}
	return append(ds, detectLoginWall)
}

// Analyze runs res through detectors and returns the first vendor that
// matched.
func Analyze(res *Response, detectors []Detector) (string, bool) {
	if res == nil {
		return "", false
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	for _, d := range detectors {
		if vendor := d(res); vendor != "" {
			return vendor, true
		}
	}
	return "", false
}
