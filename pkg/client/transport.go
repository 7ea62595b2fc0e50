package client

import (
	"net/http"
	"time"
)

type TransportOption func(*http.Transport)

// IdlePool sizes the keep-alive pool towards the origin.
type IdlePool struct {
	MaxConns        int
	MaxConnsPerHost int
	Timeout         time.Duration
}

func WithIdlePool(p IdlePool) TransportOption {
	return func(t *http.Transport) {
		if p.MaxConns > 0 {
			t.MaxIdleConns = p.MaxConns
		}
		if p.MaxConnsPerHost > 0 {
			t.MaxIdleConnsPerHost = p.MaxConnsPerHost
		}
		if p.Timeout > 0 {
			t.IdleConnTimeout = p.Timeout
		}
	}
}

// WithResponseHeaderTimeout bounds the wait for the origin's status line,
// independent of how long the body takes.
func WithResponseHeaderTimeout(timeout time.Duration) TransportOption {
	return func(t *http.Transport) {
		t.ResponseHeaderTimeout = timeout
	}
}

// NewTransport starts from a clone of http.DefaultTransport so proxy
// environment settings and dial timeouts are kept. Transparent gzip is
// turned off: stored bodies must be the bytes the origin sent, along with
// the Content-Encoding that describes them.
func NewTransport(opts ...TransportOption) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	for _, opt := range opts {
		opt(transport)
	}
	return transport
}
