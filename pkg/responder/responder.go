// Package responder is the cache-first worker script: pre-cache a fixed list
// of files on install, claim open pages on activate, and answer fetches from
// the cache when possible, from the network otherwise.
package responder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/apex/log"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/worker"
)

const (
	// DefaultCacheName changes whenever the pre-cached files change; a new
	// name simply stops matching the old entries.
	DefaultCacheName = "portal-breaker-v1"
)

// DefaultFiles is the pre-cache list.
var DefaultFiles = []string{
	"./index.html",
}

type options struct {
	header     http.Header
	ignoreVary bool
}

type Option func(*options)

// WithRequestHeader sets the headers sent with every pre-cache request, the
// way a browser adds its defaults. An origin answering with Vary records
// these values, and page requests must repeat them to hit.
func WithRequestHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h.Clone()
	}
}

// WithIgnoreVary makes fetches match pre-cached entries by URL alone.
func WithIgnoreVary(ignore bool) Option {
	return func(o *options) {
		o.ignoreVary = ignore
	}
}

// CacheFirst returns the worker script. Network responses are never written
// back, so only the pre-cached files are ever served from the cache.
func CacheFirst(cacheName string, files []string, opts ...Option) worker.Script {
	files = append([]string(nil), files...)
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var matchOpts []cache.MatchOption
	if o.ignoreVary {
		matchOpts = append(matchOpts, cache.IgnoreVary())
	}

	return func(self worker.Global, on *worker.Listeners) {
		on.OnInstall(func(evt *worker.ExtendableEvent) {
			evt.WaitUntil(func(ctx context.Context) error {
				c, err := self.Caches().Open(ctx, cacheName)
				if err != nil {
					return fmt.Errorf("open cache %s: %w", cacheName, err)
				}
				reqs, err := precacheRequests(ctx, self, files, o.header)
				if err != nil {
					return err
				}
				if err := cache.AddAll(ctx, c, self, reqs); err != nil {
					return fmt.Errorf("pre-cache %s: %w", cacheName, err)
				}
				return self.SkipWaiting(ctx)
			})
		})

		on.OnActivate(func(evt *worker.ExtendableEvent) {
			evt.WaitUntil(func(ctx context.Context) error {
				return self.Clients().Claim(ctx)
			})
		})

		on.OnFetch(func(evt *worker.FetchEvent) {
			err := evt.RespondWith(func(ctx context.Context) (*http.Response, error) {
				cached, ok, err := self.Caches().Match(ctx, evt.Request, matchOpts...)
				if err != nil {
					return nil, fmt.Errorf("cache match %s: %w", evt.Request.URL, err)
				}
				if ok {
					log.WithField("url", evt.Request.URL.String()).Debug("cache hit")
					return cached.HTTPResponse(evt.Request), nil
				}
				return self.Fetch(ctx, evt.Request)
			})
			if err != nil {
				log.WithError(err).Warn("respond")
			}
		})
	}
}

// precacheRequests resolves files against the worker scope.
func precacheRequests(ctx context.Context, self worker.Global, files []string, header http.Header) ([]*http.Request, error) {
	scope := self.Scope()
	reqs := make([]*http.Request, 0, len(files))
	for _, f := range files {
		u, err := scope.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("resolve %q against %s: %w", f, scope, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", u, err)
		}
		if header != nil {
			req.Header = header.Clone()
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
