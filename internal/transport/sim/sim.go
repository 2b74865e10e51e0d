// Package sim is an in-memory link.Transport. It keeps a registry of open
// connections, records every parameter update request and can be told to fail
// requests for individual connections.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/splitlink/pkg/connparams"
	"github.com/srg/splitlink/pkg/link"
)

var (
	ErrNotConnected = errors.New("connection not open")
	ErrRejected     = errors.New("peer rejected parameter request")
)

// Call is one recorded UpdateConnectionParameters request.
type Call struct {
	Conn   string
	Params connparams.Set
	Err    error
}

type connection struct {
	info    link.Info
	applied *connparams.Set

	failNext   error
	failAlways error
	delay      time.Duration
}

// Transport implements link.Transport in memory.
type Transport struct {
	conns  *hashmap.Map[string, *connection]
	logger *logrus.Logger

	mu    sync.Mutex // guards order, calls and per-connection fault settings
	order []string
	calls []Call
}

func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		conns:  hashmap.New[string, *connection](),
		logger: logger,
	}
}

// Add opens a connection. addr may be empty.
func (t *Transport) Add(id, addr string, role link.Role) link.Info {
	info := link.Info{ID: id, Role: role}
	if addr != "" {
		info.Addr = ble.NewAddr(addr)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.conns.Get(id); !exists {
		t.order = append(t.order, id)
	}
	t.conns.Set(id, &connection{info: info})

	t.logger.WithFields(logrus.Fields{
		"conn": id,
		"role": role.String(),
	}).Debug("Connection opened")

	return info
}

// Remove closes a connection. Further updates for it fail with ErrNotConnected.
func (t *Transport) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conns.Del(id) {
		t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == id })
		t.logger.WithField("conn", id).Debug("Connection closed")
	}
}

// FailNext makes the next update for id fail with err.
func (t *Transport) FailNext(id string, err error) error {
	return t.configure(id, func(c *connection) { c.failNext = err })
}

// FailAlways makes every update for id fail with err; nil clears it.
func (t *Transport) FailAlways(id string, err error) error {
	return t.configure(id, func(c *connection) { c.failAlways = err })
}

// SetDelay makes every update for id take d (bounded by the caller's context).
func (t *Transport) SetDelay(id string, d time.Duration) error {
	return t.configure(id, func(c *connection) { c.delay = d })
}

func (t *Transport) configure(id string, fn func(*connection)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	fn(c)
	return nil
}

// ForEachActiveConnection implements link.Transport. Connections are visited in
// the order they were opened.
func (t *Transport) ForEachActiveConnection(fn func(link.Info) bool) {
	t.mu.Lock()
	infos := make([]link.Info, 0, len(t.order))
	for _, id := range t.order {
		if c, ok := t.conns.Get(id); ok {
			infos = append(infos, c.info)
		}
	}
	t.mu.Unlock()

	for _, info := range infos {
		if !fn(info) {
			return
		}
	}
}

// UpdateConnectionParameters implements link.Transport.
func (t *Transport) UpdateConnectionParameters(ctx context.Context, conn link.Info, params connparams.Set) error {
	t.mu.Lock()
	c, ok := t.conns.Get(conn.ID)
	var delay time.Duration
	if ok {
		delay = c.delay
	}
	t.mu.Unlock()

	err := t.apply(ctx, c, ok, delay, params)

	t.mu.Lock()
	t.calls = append(t.calls, Call{Conn: conn.ID, Params: params, Err: err})
	t.mu.Unlock()

	return err
}

func (t *Transport) apply(ctx context.Context, c *connection, ok bool, delay time.Duration, params connparams.Set) error {
	if !ok {
		return ErrNotConnected
	}
	if err := params.Validate(); err != nil {
		return err
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	if c.failAlways != nil {
		return c.failAlways
	}

	p := params
	c.applied = &p
	return nil
}

// Applied returns the parameters last accepted for id.
func (t *Transport) Applied(id string) (connparams.Set, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns.Get(id)
	if !ok || c.applied == nil {
		return connparams.Set{}, false
	}
	return *c.applied, true
}

// Calls returns every update request received so far.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

// CallsFor returns the update requests received for id.
func (t *Transport) CallsFor(id string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Call
	for _, c := range t.calls {
		if c.Conn == id {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the recorded requests.
func (t *Transport) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// Len returns the number of open connections.
func (t *Transport) Len() int {
	return t.conns.Len()
}
