package cache

import (
	"context"
	"net/http"
)

// Cache is a single named store of request -> response entries.
type Cache interface {
	// Match returns the stored response for req and true if present.
	// Only GET requests can match.
	Match(ctx context.Context, req *http.Request, opts ...MatchOption) (*Response, bool, error)

	// Put stores resp under req, replacing any entry for the same URL.
	Put(ctx context.Context, req *http.Request, resp *Response) error

	// Keys returns the request URLs of all entries, in backend order.
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds every named cache of a worker origin.
type Storage interface {
	// Open returns the cache called name, creating it if absent.
	Open(ctx context.Context, name string) (Cache, error)

	// Has reports whether a cache called name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys returns the cache names in creation order.
	Keys(ctx context.Context) ([]string, error)

	// Match looks req up in every cache, in creation order, and returns the first hit.
	Match(ctx context.Context, req *http.Request, opts ...MatchOption) (*Response, bool, error)
}

// MatchOptions tune a lookup.
type MatchOptions struct {
	// IgnoreVary matches on the URL alone, whatever the stored Vary values.
	IgnoreVary bool
}

type MatchOption func(*MatchOptions)

// IgnoreVary makes a lookup skip the Vary comparison.
func IgnoreVary() MatchOption {
	return func(o *MatchOptions) {
		o.IgnoreVary = true
	}
}

// NewMatchOptions folds opts into a MatchOptions value.
func NewMatchOptions(opts ...MatchOption) MatchOptions {
	var o MatchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Fetcher performs a network request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}
