package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// ExtendableEvent is handed to install and activate listeners. The event is
// not finished until every function passed to WaitUntil has returned.
type ExtendableEvent struct {
	Type string

	ctx   context.Context
	group *errgroup.Group

	mu          sync.Mutex
	dispatching bool
	pending     int
}

func newExtendableEvent(ctx context.Context, typ string) *ExtendableEvent {
	g, gctx := errgroup.WithContext(ctx)
	return &ExtendableEvent{Type: typ, ctx: gctx, group: g}
}

// Context is cancelled as soon as one extension fails.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil extends the event until fn returns. The event fails with the
// first non-nil error. It may be called while listeners run or while an
// earlier extension is still pending.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dispatching && e.pending == 0 {
		log.WithField("event", e.Type).Warn("WaitUntil called on a settled event, ignored")
		return
	}
	e.pending++
	e.group.Go(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%s extension panicked: %v", e.Type, p)
			}
			e.mu.Lock()
			e.pending--
			e.mu.Unlock()
		}()
		return fn(e.ctx)
	})
}

// dispatch runs listeners synchronously. A panicking listener fails the event.
func (e *ExtendableEvent) dispatch(listeners func()) {
	e.mu.Lock()
	e.dispatching = true
	e.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			e.group.Go(func() error {
				return fmt.Errorf("%s listener panicked: %v", e.Type, p)
			})
		}
		e.mu.Lock()
		e.dispatching = false
		e.mu.Unlock()
	}()
	listeners()
}

func (e *ExtendableEvent) wait() error {
	return e.group.Wait()
}

// FetchEvent is handed to fetch listeners for every request of a controlled client.
type FetchEvent struct {
	*ExtendableEvent

	Request  *http.Request
	ClientID string

	respond func(ctx context.Context) (*http.Response, error)
}

// RespondWith takes over the response. It can be called once, and only
// while the listeners are running.
func (e *FetchEvent) RespondWith(fn func(ctx context.Context) (*http.Response, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dispatching {
		return fmt.Errorf("%w: RespondWith outside of fetch dispatch", ErrInvalidState)
	}
	if e.respond != nil {
		return fmt.Errorf("%w: RespondWith already called", ErrInvalidState)
	}
	e.respond = fn
	return nil
}
