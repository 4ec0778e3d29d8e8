// Package httpclient builds the client used for third-party data providers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent is sent when a request does not set its own. Some
// providers (NewsAPI) reject requests without one.
const DefaultUserAgent = "urban-green-coverage/1.0"

type Option func(*options)

type options struct {
	userAgent string
	base      http.RoundTripper
}

func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithTransport replaces the pooled transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.base = rt } }

// NewOutbound returns a client whose requests time out after timeout
// (30s when timeout <= 0).
func NewOutbound(timeout time.Duration, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	o := options{userAgent: DefaultUserAgent}
	for _, fn := range opts {
		fn(&o)
	}
	if o.base == nil {
		o.base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
		}
	}
	return &http.Client{
		Transport: &uaTransport{ua: o.userAgent, next: o.base},
		Timeout:   timeout,
	}
}

type uaTransport struct {
	ua   string
	next http.RoundTripper
}

func (t *uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.ua == "" || r.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}
