package server

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/caching-proxy/caching-proxy/internal/config"
)

const defaultUpstreamTimeout = 100 * time.Second

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient returns the http.Client used for every origin request.
// A nil cfg yields the defaults: 100s timeout, redirects followed.
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	followRedirects := true
	if cfg != nil {
		if cfg.UpstreamTimeout.DurationValue() > 0 {
			timeout = cfg.UpstreamTimeout.DurationValue()
		}
		followRedirects = cfg.FollowRedirects
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// restrictedRequestHeaders are recomputed by the outbound transport and never
// forwarded verbatim.
var restrictedRequestHeaders = map[string]struct{}{
	"Host":           {},
	"Connection":     {},
	"Content-Length": {},
}

// restrictedResponseHeaders are managed by the client-facing server and never
// replayed from an origin or cached response.
var restrictedResponseHeaders = map[string]struct{}{
	"Transfer-Encoding": {},
	"Connection":        {},
}

// IsRestrictedRequestHeader reports whether key must not be forwarded to the origin.
func IsRestrictedRequestHeader(key string) bool {
	_, ok := restrictedRequestHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// IsRestrictedResponseHeader reports whether key must not be written back to the client.
func IsRestrictedResponseHeader(key string) bool {
	_, ok := restrictedResponseHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// CopyRequestHeaders copies every header of src into dst except the restricted
// request set, keeping value order.
func CopyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsRestrictedRequestHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
