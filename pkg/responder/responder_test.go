package responder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/client"
	"github.com/ashpect/cachefirst/pkg/worker"
)

const indexBody = "<!doctype html><h1>portal breaker</h1>\x00\xff"

type origin struct {
	srv     *httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	paths   []string
	offline atomic.Bool
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.calls.Add(1)
		o.mu.Lock()
		o.paths = append(o.paths, r.URL.Path)
		o.mu.Unlock()
		switch r.URL.Path {
		case "/index.html":
			w.Header().Set("Content-Type", "text/html")
			w.Header().Set("X-Origin", "yes")
			io.WriteString(w, indexBody)
		case "/vary.html":
			w.Header().Set("Vary", "Accept-Encoding")
			io.WriteString(w, "encoding "+r.Header.Get("Accept-Encoding"))
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			io.WriteString(w, "network "+r.URL.Path)
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

// network fails every request while the origin is offline.
func (o *origin) network() cache.Fetcher {
	n := client.NewNetwork(client.NewClient())
	return cache.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if o.offline.Load() {
			return nil, fmt.Errorf("dial %s: network is unreachable", req.URL.Host)
		}
		return n.Fetch(ctx, req)
	})
}

type fixture struct {
	origin  *origin
	storage *cache.MemoryStorage
	reg     *worker.Registration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	o := newOrigin(t)
	scope, err := url.Parse(o.srv.URL + "/")
	require.NoError(t, err)
	storage := cache.NewMemoryStorage()
	return &fixture{
		origin:  o,
		storage: storage,
		reg:     worker.NewRegistration(scope, storage, o.network()),
	}
}

func (f *fixture) get(t *testing.T, path string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.origin.srv.URL+path, nil)
	require.NoError(t, err)
	return req
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestInstall_PrecachesExactlyTheResourceList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)
	assert.Equal(t, worker.StateActivated, v.State())

	names, err := f.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"portal-breaker-v1"}, names)

	c, err := f.storage.Open(ctx, DefaultCacheName)
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.origin.srv.URL + "/index.html"}, keys)

	got, ok, err := c.Match(ctx, f.get(t, "/index.html"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(indexBody), got.Body)
	assert.Equal(t, "yes", got.Header.Get("X-Origin"))
}

func TestInstall_FailsWhenOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)
	f.reg.OpenClient("page")

	f.origin.offline.Store(true)
	_, err = f.reg.Register(ctx, CacheFirst("portal-breaker-v2", DefaultFiles))
	require.Error(t, err)

	assert.Same(t, v1, f.reg.Active())
	assert.Equal(t, v1.ID(), f.reg.Clients()[0].Controller)

	// the new cache was opened but holds nothing
	c, err := f.storage.Open(ctx, "portal-breaker-v2")
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInstall_FailsOnErrorStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Register(context.Background(), CacheFirst(DefaultCacheName, []string{"./index.html", "./missing"}))
	assert.ErrorIs(t, err, cache.ErrBadResponse)
	assert.Nil(t, f.reg.Active())
}

func TestActivate_ClaimsOpenPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.OpenClient("tab-1")
	f.reg.OpenClient("tab-2")

	before := f.reg.Clients()
	require.Len(t, before, 2)
	for _, c := range before {
		assert.Empty(t, c.Controller)
	}

	v, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)

	for _, c := range f.reg.Clients() {
		assert.Equal(t, v.ID(), c.Controller)
	}
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)
	calls := f.origin.calls.Load()

	resp, err := f.reg.Fetch(ctx, "page", f.get(t, "/index.html"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	assert.Equal(t, indexBody, readAll(t, resp))
	assert.Equal(t, calls, f.origin.calls.Load())

	// served even with the origin gone
	f.origin.offline.Store(true)
	resp, err = f.reg.Fetch(ctx, "page", f.get(t, "/index.html"))
	require.NoError(t, err)
	assert.Equal(t, indexBody, readAll(t, resp))
}

func TestFetch_CacheMissGoesToNetworkOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)
	calls := f.origin.calls.Load()

	resp, err := f.reg.Fetch(ctx, "page", f.get(t, "/other"))
	require.NoError(t, err)
	assert.Equal(t, "network /other", readAll(t, resp))
	assert.Equal(t, calls+1, f.origin.calls.Load())

	// error statuses come back as they are
	resp, err = f.reg.Fetch(ctx, "page", f.get(t, "/missing"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	readAll(t, resp)

	c, err := f.storage.Open(ctx, DefaultCacheName)
	require.NoError(t, err)
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.origin.srv.URL + "/index.html"}, keys)

	// never written back, so a second request goes out again
	resp, err = f.reg.Fetch(ctx, "page", f.get(t, "/other"))
	require.NoError(t, err)
	readAll(t, resp)
	assert.Equal(t, calls+3, f.origin.calls.Load())
}

func TestFetch_NetworkFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)

	f.origin.offline.Store(true)
	_, err = f.reg.Fetch(ctx, "page", f.get(t, "/other"))
	assert.ErrorContains(t, err, "network is unreachable")
}

func TestFetch_PostIsNeverServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)
	calls := f.origin.calls.Load()

	req, err := http.NewRequest(http.MethodPost, f.origin.srv.URL+"/index.html", nil)
	require.NoError(t, err)
	resp, err := f.reg.Fetch(ctx, "page", req)
	require.NoError(t, err)
	readAll(t, resp)
	assert.Equal(t, calls+1, f.origin.calls.Load())
}

func TestFetch_ConcurrentMissesDoNotCrossTalk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, DefaultFiles))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	bodies := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/item/%d", f.origin.srv.URL, i), nil)
			if err != nil {
				errs[i] = err
				return
			}
			resp, err := f.reg.Fetch(ctx, fmt.Sprintf("tab-%d", i%3), req)
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			errs[i] = err
			bodies[i] = string(b)
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("network /item/%d", i), bodies[i])
	}
}

func TestCacheFirst_ResolvesFilesAgainstScope(t *testing.T) {
	o := newOrigin(t)
	scope, err := url.Parse(o.srv.URL + "/")
	require.NoError(t, err)
	storage := cache.NewMemoryStorage()
	reg := worker.NewRegistration(scope, storage, o.network())

	_, err = reg.Register(context.Background(), CacheFirst("custom", []string{"index.html"}))
	require.NoError(t, err)

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Equal(t, []string{"/index.html"}, o.paths)
}

func TestCacheFirst_RequestHeaderIsRecordedForVary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, []string{"./vary.html"},
		WithRequestHeader(http.Header{"Accept-Encoding": {"gzip"}})))
	require.NoError(t, err)
	calls := f.origin.calls.Load()

	req := f.get(t, "/vary.html")
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := f.reg.Fetch(ctx, "page", req)
	require.NoError(t, err)
	assert.Equal(t, "encoding gzip", readAll(t, resp))
	assert.Equal(t, calls, f.origin.calls.Load())

	req = f.get(t, "/vary.html")
	req.Header.Set("Accept-Encoding", "br")
	resp, err = f.reg.Fetch(ctx, "page", req)
	require.NoError(t, err)
	assert.Equal(t, "encoding br", readAll(t, resp))
	assert.Equal(t, calls+1, f.origin.calls.Load())
}

func TestCacheFirst_IgnoreVaryServesAnyEncoding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reg.Register(ctx, CacheFirst(DefaultCacheName, []string{"./vary.html"}, WithIgnoreVary(true)))
	require.NoError(t, err)
	calls := f.origin.calls.Load()

	for _, enc := range []string{"gzip, deflate, br", "gzip, deflate, br, zstd", ""} {
		req := f.get(t, "/vary.html")
		if enc != "" {
			req.Header.Set("Accept-Encoding", enc)
		}
		resp, err := f.reg.Fetch(ctx, "page", req)
		require.NoError(t, err)
		assert.Equal(t, "encoding ", readAll(t, resp), enc)
	}
	assert.Equal(t, calls, f.origin.calls.Load())
}
