package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ashpect/cachefirst/pkg/utils"
)

// ErrBadResponse is returned by AddAll when a fetched response cannot be stored.
var ErrBadResponse = errors.New("cache: bad response")

// AddAll fetches every request and stores all responses in c.
// Any transport error, non-2xx status or "Vary: *" response fails the whole
// batch and nothing is written.
func AddAll(ctx context.Context, c Cache, fetcher Fetcher, reqs []*http.Request) error {
	for _, req := range reqs {
		if err := CheckCacheable(req); err != nil {
			return err
		}
	}

	responses := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			utils.Debug("Pre-fetching %s", req.URL)
			resp, err := fetcher.Fetch(gctx, req.Clone(gctx))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			stored, err := NewResponse(resp)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", req.URL, err)
			}
			if !stored.OK() {
				return fmt.Errorf("%w: %s returned %d", ErrBadResponse, req.URL, stored.Status)
			}
			for _, f := range varyFields(stored.Header) {
				if f == "*" {
					return fmt.Errorf("%w: %s has Vary: *", ErrBadResponse, req.URL)
				}
			}
			if stored.URL == "" {
				stored.URL = req.URL.String()
			}
			responses[i] = stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, req := range reqs {
		if err := c.Put(ctx, req, responses[i]); err != nil {
			return fmt.Errorf("put %s: %w", req.URL, err)
		}
	}
	return nil
}
