package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/utils"
)

// ErrInvalidState is returned when an operation is not allowed in the current lifecycle state.
var ErrInvalidState = errors.New("worker: invalid state")

// DefaultMaxClients bounds the pages a registration remembers.
const DefaultMaxClients = 1024

// Registration hosts the versions of one worker script for one scope and
// routes client fetches to the version controlling each client.
type Registration struct {
	scope   *url.URL
	caches  cache.Storage
	network cache.Fetcher

	jobs       sync.Mutex // serializes Register
	activation sync.Mutex // serializes tryActivate

	mu         sync.Mutex
	installing *Version
	waiting    *Version
	active     *Version
	maxClients int
	clients    *cache.LRU[string, *client]
}

type client struct {
	id         string
	openedAt   time.Time
	controller *Version
}

type RegistrationOption func(*Registration)

// WithMaxClients bounds the remembered pages. Past n, the page with the
// oldest request is forgotten. 0 means unbounded.
func WithMaxClients(n int) RegistrationOption {
	return func(r *Registration) {
		r.maxClients = n
	}
}

func NewRegistration(scope *url.URL, caches cache.Storage, network cache.Fetcher, opts ...RegistrationOption) *Registration {
	u := *scope
	r := &Registration{
		scope:      &u,
		caches:     caches,
		network:    network,
		maxClients: DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clients = cache.NewLRU(cache.WithCapacity[string, *client](r.maxClients))
	return r
}

func (r *Registration) Scope() *url.URL {
	u := *r.scope
	return &u
}

func (r *Registration) Installing() *Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

func (r *Registration) Waiting() *Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *Registration) Active() *Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Register evaluates script as a new version and installs it. A failed
// install leaves the registration as it was. On success the version either
// activates right away or waits, see tryActivate.
func (r *Registration) Register(ctx context.Context, script Script) (*Version, error) {
	r.jobs.Lock()
	defer r.jobs.Unlock()

	v := newVersion(r)
	script(v, &v.on)

	r.mu.Lock()
	r.installing = v
	r.mu.Unlock()
	v.setState(StateInstalling)

	if err := v.dispatch(ctx, "install", v.on.install); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		v.setState(StateRedundant)
		log.WithError(err).WithField("version", v.id).Error("install failed")
		return nil, fmt.Errorf("install %s: %w", v.id, err)
	}

	r.mu.Lock()
	r.installing = nil
	replaced := r.waiting
	r.waiting = v
	r.mu.Unlock()
	if replaced != nil {
		replaced.setState(StateRedundant)
	}
	v.setState(StateInstalled)
	utils.Log("Installed worker version %s", v.id)

	if err := r.tryActivate(ctx); err != nil {
		return v, err
	}
	return v, nil
}

// tryActivate promotes the waiting version when there is no active version,
// when it asked to skip waiting, or when the active version controls no clients.
func (r *Registration) tryActivate(ctx context.Context) error {
	r.activation.Lock()
	defer r.activation.Unlock()

	r.mu.Lock()
	v := r.waiting
	if v == nil {
		r.mu.Unlock()
		return nil
	}
	old := r.active
	if old != nil && !v.skipsWaiting() && r.controlledLocked(old) > 0 {
		r.mu.Unlock()
		utils.Debug("Version %s waiting for %s to release its clients", v.id, old.id)
		return nil
	}
	r.waiting = nil
	r.active = v
	if old != nil {
		r.eachClientLocked(func(c *client) {
			if c.controller == old {
				c.controller = v
			}
		})
	}
	r.mu.Unlock()

	if old != nil {
		old.setState(StateRedundant)
	}
	v.setState(StateActivating)

	// Activation failures are reported but the version still takes over.
	if err := v.dispatch(ctx, "activate", v.on.activate); err != nil {
		log.WithError(err).WithField("version", v.id).Warn("activate handler failed")
	}
	v.setState(StateActivated)
	utils.Log("Activated worker version %s", v.id)
	return nil
}

func (r *Registration) controlledLocked(v *Version) int {
	n := 0
	r.eachClientLocked(func(c *client) {
		if c.controller == v {
			n++
		}
	})
	return n
}

// eachClientLocked visits clients from the least to the most recently active.
func (r *Registration) eachClientLocked(fn func(*client)) {
	for _, id := range r.clients.Keys() {
		if c, ok := r.clients.Peek(id); ok {
			fn(c)
		}
	}
}

// Fetch handles a request from the page identified by clientID. A client seen
// for the first time is controlled by the active version, if any. An empty
// clientID is a one-off navigation that is not remembered.
func (r *Registration) Fetch(ctx context.Context, clientID string, req *http.Request) (*http.Response, error) {
	v := r.controllerFor(clientID)
	if v == nil {
		utils.Debug("Client %q is not controlled, fetching %s from network", clientID, req.URL)
		return r.network.Fetch(ctx, req)
	}
	return v.handleFetch(ctx, clientID, req)
}

func (r *Registration) controllerFor(clientID string) *Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clientID == "" {
		return r.active
	}
	c, ok := r.clients.Get(clientID)
	if !ok {
		c = &client{id: clientID, openedAt: time.Now(), controller: r.active}
		if evicted, ok := r.clients.Set(clientID, c); ok {
			utils.Debug("Forgot idle client %q", evicted)
		}
	}
	return c.controller
}

// OpenClient records a page without sending a request through it.
func (r *Registration) OpenClient(clientID string) {
	r.controllerFor(clientID)
}

// CloseClient forgets a page. A waiting version may activate as a result.
func (r *Registration) CloseClient(ctx context.Context, clientID string) error {
	r.mu.Lock()
	if _, ok := r.clients.Peek(clientID); !ok {
		r.mu.Unlock()
		return nil
	}
	r.clients.Delete(clientID)
	r.mu.Unlock()
	return r.tryActivate(ctx)
}

// Clients returns every remembered page, least recently active first.
func (r *Registration) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientsLocked(nil)
}

func (r *Registration) clientsLocked(keep func(*client) bool) []ClientInfo {
	out := make([]ClientInfo, 0, r.clients.Len())
	r.eachClientLocked(func(c *client) {
		if keep != nil && !keep(c) {
			return
		}
		info := ClientInfo{ID: c.id, OpenedAt: c.openedAt}
		if c.controller != nil {
			info.Controller = c.controller.id
		}
		out = append(out, info)
	})
	return out
}
