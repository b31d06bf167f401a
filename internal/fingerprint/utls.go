// Package fingerprint builds HTTP transports whose TLS ClientHello mimics a
// real browser. Image CDNs fingerprint the handshake and serve challenge pages
// to Go's default hello.
package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names a TLS fingerprint.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // crypto/tls, no mimicry
	ProfileRandom  Profile = "random" // randomized uTLS hello
)

// ParseProfile maps a config value to a Profile. Empty means ProfileGo.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return ProfileGo, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	}
	return "", fmt.Errorf("context: unknown profile %q", s)
}

func (p Profile) helloID() (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("context: unknown profile %q", p)
}

// Options configures Transport.
type Options struct {
	Profile Profile
	// Proxy is installed as http.Transport.Proxy when set.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Transport returns a transport presenting the configured fingerprint.
// ProfileGo yields a plain cloned http.DefaultTransport.
func Transport(opts Options) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		tr.Proxy = opts.Proxy
	}

	if opts.Profile == "" || opts.Profile == ProfileGo {
		if opts.InsecureSkipVerify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return tr, nil
	}

	id, err := opts.Profile.helloID()
	if err != nil {
		return nil, err
	}

	// The uTLS conn is not a *tls.Conn, so net/http cannot upgrade it to h2.
	tr.ForceAttemptHTTP2 = false
	dial := tr.DialContext
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		conn, err := handshake(ctx, raw, host, id, opts.InsecureSkipVerify)
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("context: utls handshake failed: %w", err)
		}
		return conn, nil
	}
	return tr, nil
}

func handshake(ctx context.Context, raw net.Conn, host string, id utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host, InsecureSkipVerify: insecure}

	// Pin ALPN to http/1.1 where the preset can be expanded, keeping the rest
	// of the browser hello intact.
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		conn := utls.UClient(raw, cfg, id)
		return conn, conn.HandshakeContext(ctx)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	if id.Client == utls.HelloRandomizedALPN.Client {
		pinCurves(&spec)
	}
	conn := utls.UClient(raw, cfg, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	return conn, conn.HandshakeContext(ctx)
}

// randomCurves are the groups a randomized hello may offer. Each one can be
// answered after a HelloRetryRequest.
var randomCurves = []utls.CurveID{utls.X25519, utls.CurveP256, utls.CurveP384, utls.CurveP521}

// pinCurves restricts a randomized spec to randomCurves. Randomized specs may
// list the hybrid post-quantum group without a key share for it, and a server
// preferring that group then asks for one the client cannot build.
func pinCurves(spec *utls.ClientHelloSpec) {
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.SupportedCurvesExtension:
			e.Curves = slices.DeleteFunc(e.Curves, func(c utls.CurveID) bool {
				return !slices.Contains(randomCurves, c)
			})
			if len(e.Curves) == 0 {
				e.Curves = append(e.Curves, randomCurves...)
			}
		case *utls.KeyShareExtension:
			e.KeyShares = slices.DeleteFunc(e.KeyShares, func(ks utls.KeyShare) bool {
				return !slices.Contains(randomCurves, ks.Group)
			})
			if len(e.KeyShares) == 0 {
				e.KeyShares = []utls.KeyShare{{Group: utls.X25519}}
			}
		}
	}
}
