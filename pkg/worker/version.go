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
	"github.com/google/uuid"

	"github.com/ashpect/cachefirst/pkg/cache"
	"github.com/ashpect/cachefirst/pkg/utils"
)

// State of a worker version.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Global is what a script sees as its global scope.
type Global interface {
	// ID identifies this version.
	ID() string
	// Scope is the base URL relative resources resolve against.
	Scope() *url.URL
	Caches() cache.Storage
	// Fetch goes to the network, bypassing every worker.
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
	// SkipWaiting lets this version activate without waiting for the
	// current one to lose its clients.
	SkipWaiting(ctx context.Context) error
	Clients() *Clients
}

// Listeners is where a script registers its event handlers.
type Listeners struct {
	install  []func(*ExtendableEvent)
	activate []func(*ExtendableEvent)
	fetch    []func(*FetchEvent)
}

func (l *Listeners) OnInstall(fn func(*ExtendableEvent)) {
	l.install = append(l.install, fn)
}

func (l *Listeners) OnActivate(fn func(*ExtendableEvent)) {
	l.activate = append(l.activate, fn)
}

func (l *Listeners) OnFetch(fn func(*FetchEvent)) {
	l.fetch = append(l.fetch, fn)
}

// Script is evaluated once per version and registers its listeners.
type Script func(self Global, on *Listeners)

// Version is one evaluation of a Script inside a Registration.
type Version struct {
	id  string
	reg *Registration
	on  Listeners

	mu          sync.Mutex
	state       State
	skipWaiting bool

	ready     chan struct{} // closed once activated or redundant
	readyOnce sync.Once
}

func newVersion(reg *Registration) *Version {
	return &Version{
		id:    uuid.NewString(),
		reg:   reg,
		ready: make(chan struct{}),
	}
}

func (v *Version) ID() string {
	return v.id
}

func (v *Version) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Version) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
	log.WithFields(log.Fields{"version": v.id, "state": s}).Debug("worker state changed")
	if s == StateActivated || s == StateRedundant {
		v.readyOnce.Do(func() { close(v.ready) })
	}
}

func (v *Version) skipsWaiting() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.skipWaiting
}

func (v *Version) Scope() *url.URL {
	u := *v.reg.scope
	return &u
}

func (v *Version) Caches() cache.Storage {
	return v.reg.caches
}

func (v *Version) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return v.reg.network.Fetch(ctx, req)
}

func (v *Version) SkipWaiting(ctx context.Context) error {
	v.mu.Lock()
	v.skipWaiting = true
	state := v.state
	v.mu.Unlock()

	if state == StateInstalled {
		return v.reg.tryActivate(ctx)
	}
	return nil
}

func (v *Version) Clients() *Clients {
	return &Clients{v: v}
}

// dispatch fires a lifecycle event and waits for every extension.
func (v *Version) dispatch(ctx context.Context, typ string, listeners []func(*ExtendableEvent)) error {
	start := time.Now()
	evt := newExtendableEvent(ctx, typ)
	evt.dispatch(func() {
		for _, fn := range listeners {
			fn(evt)
		}
	})
	err := evt.wait()
	log.WithFields(log.Fields{"version": v.id, "event": typ, "took": utils.Since(start)}).Debug("event settled")
	return err
}

// handleFetch runs the fetch listeners once this version is activated.
func (v *Version) handleFetch(ctx context.Context, clientID string, req *http.Request) (*http.Response, error) {
	select {
	case <-v.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if v.State() == StateRedundant {
		utils.Debug("Version %s is redundant, fetching %s from network", v.id, req.URL)
		return v.reg.network.Fetch(ctx, req)
	}

	evt := &FetchEvent{
		ExtendableEvent: newExtendableEvent(context.WithoutCancel(ctx), "fetch"),
		Request:         req,
		ClientID:        clientID,
	}
	evt.dispatch(func() {
		for _, fn := range v.on.fetch {
			fn(evt)
		}
	})
	go func() {
		if err := evt.wait(); err != nil {
			log.WithError(err).WithField("url", req.URL.String()).Warn("fetch event extension failed")
		}
	}()

	if evt.respond == nil {
		return v.reg.network.Fetch(ctx, req)
	}
	resp, err := evt.respond(ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("fetch handler responded without a response")
	}
	return resp, nil
}
