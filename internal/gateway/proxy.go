package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	netproxy "net/http/httputil"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// proxyTimeout is the default gateway-to-backend deadline (spec default:
// 30s for the gateway proxy path).
const proxyTimeout = 30 * time.Second

// Backends resolves a canonical service name to its reverse proxy.
type Backends struct {
	proxies map[string]*netproxy.ReverseProxy
}

// NewBackends builds a reverse proxy for each entry in urls, keyed by the
// canonical service name it is mounted at (e.g. "engine", "id").
func NewBackends(urls map[string]string) (*Backends, error) {
	proxies := make(map[string]*netproxy.ReverseProxy, len(urls))
	for name, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("gateway: parse backend url for %s: %w", name, err)
		}
		proxies[name] = newReverseProxy(target, "/"+name)
	}
	return &Backends{proxies: proxies}, nil
}

// Handler returns an http.Handler that proxies to the named backend, or
// nil if no backend is configured under that name.
func (b *Backends) Handler(name string) http.Handler {
	p, ok := b.proxies[name]
	if !ok {
		return nil
	}
	return p
}

// Names returns the configured backend names.
func (b *Backends) Names() []string {
	names := make([]string, 0, len(b.proxies))
	for name := range b.proxies {
		names = append(names, name)
	}
	return names
}

func newReverseProxy(target *url.URL, stripPrefix string) *netproxy.ReverseProxy {
	return &netproxy.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = singleJoiningSlash(target.Path, strings.TrimPrefix(req.URL.Path, stripPrefix))
			req.Host = target.Host

			// Hop-by-hop headers; the rest of the request (method, body,
			// remaining headers) is forwarded unchanged.
			req.Header.Del("Connection")
			req.Header.Del("Content-Length")
		},
		ModifyResponse: modifyBackendResponse,
		ErrorHandler:   proxyErrorHandler,
		Transport: &http.Transport{
			ResponseHeaderTimeout: proxyTimeout,
		},
	}
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	default:
		return a + b
	}
}

// modifyBackendResponse forces a structured 502 for any backend 5xx,
// instead of forwarding the backend's own (possibly sensitive) error body.
func modifyBackendResponse(resp *http.Response) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		resp.Body.Close()
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

// proxyErrorHandler distinguishes connection-refused (backend down) from
// every other transport failure (timeout, DNS, TLS, or a synthetic 5xx
// from modifyBackendResponse).
func proxyErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if isConnRefused(err) {
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "backend_unavailable", "backend connection refused", nil)
		return
	}
	httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "bad_gateway", "backend error", nil)
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED)
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
