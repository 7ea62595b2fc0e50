package cache

import (
	"context"
	"net/http"
	"sync"

	"github.com/ashpect/cachefirst/pkg/utils"
)

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithEntryCapacity bounds every cache to n entries (0 = unbounded).
func WithEntryCapacity(n int) MemoryOption {
	return func(s *MemoryStorage) {
		s.capacity = n
	}
}

// MemoryStorage keeps caches in process memory. It is safe for concurrent use.
type MemoryStorage struct {
	mu       sync.RWMutex
	names    []string
	caches   map[string]*memoryCache
	capacity int
}

func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{caches: make(map[string]*memoryCache)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{
		name:    name,
		entries: NewLRU(WithCapacity[string, *Entry](s.capacity)),
	}
	s.caches[name] = c
	s.names = append(s.names, name)
	utils.Debug("Created cache %s", name)
	return c, nil
}

func (s *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...), nil
}

func (s *MemoryStorage) Match(ctx context.Context, req *http.Request, opts ...MatchOption) (*Response, bool, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.names))
	for _, name := range s.names {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		resp, ok, err := c.Match(ctx, req, opts...)
		if err != nil || ok {
			return resp, ok, err
		}
	}
	return nil, false, nil
}

type memoryCache struct {
	name    string
	entries *LRU[string, *Entry]
}

func (c *memoryCache) Match(ctx context.Context, req *http.Request, opts ...MatchOption) (*Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !Matchable(req) {
		return nil, false, nil
	}
	e, ok := c.entries.Get(RequestKey(req))
	if !ok || !e.Matches(req, NewMatchOptions(opts...)) {
		return nil, false, nil
	}
	return e.Response.Clone(), true, nil
}

func (c *memoryCache) Put(ctx context.Context, req *http.Request, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckCacheable(req); err != nil {
		return err
	}
	e := NewEntry(req, resp.Clone())
	if evicted, ok := c.entries.Set(e.Key, e); ok {
		utils.Debug("Evicted %s from cache %s", evicted, c.name)
	}
	return nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.entries.Keys(), nil
}
