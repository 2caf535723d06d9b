// Package proxy implements the Proxy Transport (§4.11): single-upstream-
// per-service forwarding built on a pooled *http.Transport per upstream,
// reusing the teacher's hop-by-hop stripping, X-Forwarded header
// construction, and pooled-header reuse pattern.
package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wudi/gateway/config"
	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/variables"
)

// Proxy forwards a request to a service's single base URL.
type Proxy struct {
	transportPool  *TransportPool
	defaultTimeout time.Duration
	flushInterval  time.Duration
}

// New creates a Proxy from the gateway's proxy configuration.
func New(cfg config.ProxyConfig) *Proxy {
	pool := NewTransportPoolWithDefault(NewTransportConfigFromProxyConfig(cfg))

	timeout := cfg.ResponseHeaderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Proxy{
		transportPool:  pool,
		defaultTimeout: timeout,
		flushInterval:  -1, // no periodic flush; stream copy flushes per chunk
	}
}

// GetTransportPool returns the transport pool.
func (p *Proxy) GetTransportPool() *TransportPool {
	return p.transportPool
}

var proxyHeaderPool = sync.Pool{
	New: func() any { return make(http.Header, 16) },
}

func acquireProxyHeader() http.Header {
	h := proxyHeaderPool.Get().(http.Header)
	clear(h)
	return h
}

func releaseProxyHeader(h http.Header) {
	if h == nil {
		return
	}
	if len(h) <= 64 {
		proxyHeaderPool.Put(h)
	}
}

// Forward sends r to the service's baseURL+targetPath, preserving the
// original query, and copies the response back onto w. targetPath is the
// request path with any route prefix already resolved by the caller
// (§4.10 stage 3/8). serviceID selects the transport from the pool so
// connections are reused per upstream (§4.1 pooling concern).
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, serviceID, baseURL, targetPath string) {
	target, err := url.Parse(baseURL)
	if err != nil {
		errors.ErrBadGateway.WithDetails("invalid upstream base url").WriteJSON(w)
		return
	}

	ctx := r.Context()
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
		defer cancel()
	}

	pooledHeader := acquireProxyHeader()
	defer releaseProxyHeader(pooledHeader)
	proxyReq := p.buildRequest(ctx, r, target, targetPath, pooledHeader)

	transport := p.transportPool.Get(serviceID)
	resp, err := transport.RoundTrip(proxyReq)
	if err != nil {
		p.handleError(w, err)
		return
	}
	defer resp.Body.Close()

	p.copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	p.copyBody(w, resp.Body)
}

// buildRequest constructs the outbound request: baseURL + targetPath +
// the original query string, with hop-by-hop headers stripped and
// X-Forwarded-* headers appended.
func (p *Proxy) buildRequest(ctx context.Context, r *http.Request, target *url.URL, targetPath string, header http.Header) *http.Request {
	targetURL := *target
	targetURL.Path = singleJoiningSlash(target.Path, targetPath)
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	proxyReq.Header = header
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}
	removeHopHeaders(proxyReq.Header)

	if clientIP := variables.ExtractClientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}

	otel.GetTextMapPropagator().Inject(proxyReq.Context(), propagation.HeaderCarrier(proxyReq.Header))

	return proxyReq
}

func (p *Proxy) handleError(w http.ResponseWriter, err error) {
	if err == context.DeadlineExceeded {
		errors.ErrGatewayTimeout.WriteJSON(w)
		return
	}
	errors.ErrBadGateway.WithDetails(err.Error()).WriteJSON(w)
}

// copyHeaders copies response headers, stripping hop-by-hop headers.
func (p *Proxy) copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// copyBody streams the response body, flushing per chunk when the
// response writer supports it; otherwise it buffers via io.Copy.
func (p *Proxy) copyBody(w http.ResponseWriter, body io.Reader) {
	if flusher, ok := w.(http.Flusher); ok {
		buf := make([]byte, 32*1024)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					return
				}
				flusher.Flush()
			}
			if readErr != nil {
				return
			}
		}
	}
	io.Copy(w, body)
}

// hopHeaders are stripped from both the outbound request and the
// returned response (RFC 7230 §6.1 plus the gateway's own hop set).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
