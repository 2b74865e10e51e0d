package activity

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/srg/splitlink/internal/workqueue"
)

const (
	DefaultInactivityTimeout = 10 * time.Second
	DefaultUpdateTimeout     = 2 * time.Second
	DefaultQueueCapacity     = 8
)

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the time source of the inactivity timer.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithWorkQueue runs timer expiries on q. The caller keeps ownership of q and
// must close it after closing the Manager.
func WithWorkQueue(q *workqueue.Queue) Option {
	return func(m *Manager) { m.queue = q }
}

func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Manager) { m.inactivity = d }
}

// WithUpdateTimeout bounds each parameter update request.
func WithUpdateTimeout(d time.Duration) Option {
	return func(m *Manager) { m.updateTimeout = d }
}

// WithSkipUnchanged skips connections whose last accepted update already
// carried the target parameters. Connection IDs must not be reused across
// reconnects when this is enabled; see Forget.
func WithSkipUnchanged(skip bool) Option {
	return func(m *Manager) { m.skipUnchanged = skip }
}

// WithObserver registers fn to receive a Report after every transition. fn is
// called without the manager lock held, on the goroutine that made the transition.
func WithObserver(fn func(Report)) Option {
	return func(m *Manager) { m.observer = fn }
}
