package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ashpect/cachefirst/pkg/client"
	"github.com/ashpect/cachefirst/pkg/utils"
	"github.com/ashpect/cachefirst/pkg/worker"
)

const DefaultClientHeader = "X-Client-Id"

type proxy struct {
	reg                  *worker.Registration
	scope                *url.URL
	clientHeader         string
	preserveOriginalHost bool
}

type ProxyOption func(*proxy)

func WithPreserveOriginalHost(preserve bool) ProxyOption {
	return func(p *proxy) {
		p.preserveOriginalHost = preserve
	}
}

// WithClientHeader names the request header that identifies the page.
func WithClientHeader(name string) ProxyOption {
	return func(p *proxy) {
		p.clientHeader = name
	}
}

// New returns an http.Handler turning every incoming request into a fetch
// for the registration, addressed in the registration's scope.
func New(reg *worker.Registration, opts ...ProxyOption) *proxy {
	p := &proxy{
		reg:                  reg,
		scope:                reg.Scope(),
		clientHeader:         DefaultClientHeader,
		preserveOriginalHost: false,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientID := r.Header.Get(p.clientHeader)

	outReq, err := p.buildWorkerRequest(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		log.WithError(err).Warn("build worker request")
		return
	}
	utils.PrintRequestWithMetadata(outReq, "Worker request", p.scope, clientID)

	resp, err := p.reg.Fetch(r.Context(), clientID, outReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			utils.Debug("Client went away: %s", r.URL)
			return
		}
		http.Error(w, "upstream error", http.StatusBadGateway)
		log.WithError(err).WithField("url", outReq.URL.String()).Error("fetch failed")
		return
	}
	defer resp.Body.Close()

	client.RemoveHopByHopHeaders(resp.Header)
	p.writeResponse(w, resp)

	log.WithFields(log.Fields{
		"method": r.Method,
		"url":    outReq.URL.String(),
		"status": resp.StatusCode,
		"client": clientID,
		"took":   utils.Since(start),
	}).Info("served")
}

func (p *proxy) writeResponse(w http.ResponseWriter, resp *http.Response) {
	// Copy headers to response writer
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value) // key is case insensitive
		}
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.WithError(err).Warn("error writing response body")
	}
}

func (p *proxy) buildWorkerRequest(req *http.Request) (*http.Request, error) {
	utils.PrintRequest(req, "Initial request")

	// Clone keeps method, headers, body, context, etc.
	ctx := req.Context()
	outReq := req.Clone(ctx)

	// Rewrite URL into the scope
	outReq.URL.Scheme = p.scope.Scheme
	outReq.URL.Host = p.scope.Host
	outReq.URL.Path = singleJoiningSlash(p.scope.Path, req.URL.Path)
	outReq.URL.RawPath = ""
	outReq.RequestURI = ""

	// Set host header
	if p.preserveOriginalHost {
		outReq.Host = req.Host
	} else {
		outReq.Host = p.scope.Host
	}

	client.RemoveHopByHopHeaders(outReq.Header)
	outReq.Header.Del(p.clientHeader)

	// Add new header
	outReq.Header.Set("X-Forwarded-Host", req.Host)
	proto := "http"
	if req.TLS != nil {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)

	s, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		utils.Debug("error splitting host port %q: %v", req.RemoteAddr, err)
	} else {
		outReq.Header.Set("X-Forwarded-For", s)
	}

	return outReq, nil
}

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
