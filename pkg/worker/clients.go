package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ashpect/cachefirst/pkg/utils"
)

// ClientInfo is a snapshot of one open page.
type ClientInfo struct {
	ID string
	// Controller is the ID of the controlling version, empty when uncontrolled.
	Controller string
	OpenedAt   time.Time
}

// Clients is the view a version has on the pages of its registration.
type Clients struct {
	v *Version
}

// Claim makes the version control every open page at once. Only the active
// version can claim.
func (c *Clients) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch st := c.v.State(); st {
	case StateActivating, StateActivated:
	default:
		return fmt.Errorf("%w: claim from %s version", ErrInvalidState, st)
	}

	r := c.v.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != c.v {
		return fmt.Errorf("%w: claim from a version that is not active", ErrInvalidState)
	}
	claimed := 0
	r.eachClientLocked(func(cl *client) {
		if cl.controller != c.v {
			cl.controller = c.v
			claimed++
		}
	})
	utils.Debug("Version %s claimed %d clients", c.v.id, claimed)
	return nil
}

// List returns the pages controlled by this version.
func (c *Clients) List() []ClientInfo {
	r := c.v.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientsLocked(func(cl *client) bool { return cl.controller == c.v })
}
