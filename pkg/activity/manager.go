package activity

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/splitlink/internal/timer"
	"github.com/srg/splitlink/internal/workqueue"
	"github.com/srg/splitlink/pkg/connparams"
	"github.com/srg/splitlink/pkg/event"
	"github.com/srg/splitlink/pkg/link"
)

const listenerName = "split_central"

// Manager drives connection parameters from input activity.
type Manager struct {
	transport     link.Transport
	logger        *logrus.Logger
	clock         clock.Clock
	queue         *workqueue.Queue
	ownsQueue     bool
	timer         *timer.Restartable
	inactivity    time.Duration
	updateTimeout time.Duration
	skipUnchanged bool
	observer      func(Report)

	// last mode accepted per connection ID, used by skipUnchanged
	lastApplied *hashmap.Map[string, connparams.Mode]

	mu      sync.Mutex
	baseCtx context.Context
	mode    connparams.Mode
	stats   Stats
	closed  bool
}

// New creates a Manager in the active mode. The inactivity timer is not armed
// until Start or the first activity event.
func New(transport link.Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:     transport,
		inactivity:    DefaultInactivityTimeout,
		updateTimeout: DefaultUpdateTimeout,
		lastApplied:   hashmap.New[string, connparams.Mode](),
		baseCtx:       context.Background(),
		mode:          connparams.ModeActive,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logrus.New()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.inactivity <= 0 {
		m.inactivity = DefaultInactivityTimeout
	}
	if m.updateTimeout <= 0 {
		m.updateTimeout = DefaultUpdateTimeout
	}
	if m.queue == nil {
		m.queue = workqueue.New(nil, "activity-expiry", DefaultQueueCapacity, m.logger)
		m.ownsQueue = true
	}
	m.timer = timer.New(m.clock, m.queue, m.onExpiry)

	return m
}

// Start arms the inactivity timer. Parameter update requests issued afterwards
// derive their deadline from ctx.
func (m *Manager) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.baseCtx = ctx
	m.timer.Reset(m.inactivity)

	m.logger.WithFields(logrus.Fields{
		"mode":    m.mode.String(),
		"timeout": m.inactivity,
	}).Debug("Activity manager started")
}

// Subscribe registers the manager on bus for key position events and, when
// the keymap has sensors, for sensor events.
func (m *Manager) Subscribe(bus *event.Bus, sensors bool) {
	bus.Subscribe(listenerName, event.ClassPositionStateChanged, m.HandleActivity)
	if sensors {
		bus.Subscribe(listenerName, event.ClassSensor, m.HandleActivity)
	}
}

// HandleActivity wakes the link if it is idle and restarts the inactivity
// countdown. The event is always captured.
func (m *Manager) HandleActivity(ev event.Event) event.Disposition {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return event.Captured
	}

	m.stats.Events++

	var report *Report
	if m.mode == connparams.ModeIdle {
		m.logger.WithField("event", ev.Class()).Debug("Waking split connections")
		r := m.applyLocked(connparams.ModeActive)
		m.mode = connparams.ModeActive
		m.stats.Transitions++
		report = &r
	}

	m.timer.Reset(m.inactivity)
	m.mu.Unlock()

	if report != nil {
		m.notify(*report)
	}
	return event.Captured
}

// onExpiry runs on the work queue.
func (m *Manager) onExpiry(gen uint64) {
	m.mu.Lock()

	if m.closed || !m.timer.IsCurrent(gen) {
		m.stats.StaleExpiries++
		m.mu.Unlock()
		m.logger.WithField("generation", gen).Debug("Discarding stale inactivity expiry")
		return
	}

	m.logger.WithField("idle_after", m.inactivity).Debug("Sleeping split connections")
	report := m.applyLocked(connparams.ModeIdle)
	m.mode = connparams.ModeIdle
	m.stats.Transitions++
	m.mu.Unlock()

	m.notify(report)
}

// applyLocked pushes the parameters for mode to every central-role connection.
// The caller sets the mode afterwards regardless of the outcome.
func (m *Manager) applyLocked(mode connparams.Mode) Report {
	report := newReport(mode)

	for conn := range link.Connections(m.transport, link.RoleCentral) {
		if m.skipUnchanged {
			if last, ok := m.lastApplied.Get(conn.ID); ok && last == mode {
				report.Skipped++
				continue
			}
		}

		ctx, cancel := context.WithTimeout(m.baseCtx, m.updateTimeout)
		err := m.transport.UpdateConnectionParameters(ctx, conn, report.Params)
		cancel()
		m.stats.Updates++

		if err != nil {
			m.stats.Failures++
			failed := &link.ParameterUpdateFailedError{Conn: conn, Params: report.Params, Err: err}
			report.Results.Set(conn.ID, failed)

			fields := logrus.Fields{
				"conn":  conn.ID,
				"mode":  mode.String(),
				"error": err,
			}
			if conn.Addr != nil {
				fields["addr"] = conn.Addr.String()
			}
			m.logger.WithFields(fields).Warn("Failed to update split connection parameters")
			continue
		}

		m.lastApplied.Set(conn.ID, mode)
		report.Results.Set(conn.ID, nil)
	}

	m.logger.WithFields(logrus.Fields{
		"mode":    mode.String(),
		"applied": len(report.Applied()),
		"failed":  len(report.Failed()),
		"skipped": report.Skipped,
	}).Debug("Connection parameters pushed")

	return report
}

func (m *Manager) notify(r Report) {
	if m.observer != nil {
		m.observer(r)
	}
}

// Mode returns the current link mode.
func (m *Manager) Mode() connparams.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Forget drops the remembered parameters of a closed connection.
func (m *Manager) Forget(connID string) {
	m.lastApplied.Del(connID)
}

// Close stops the timer and, if the manager created it, the work queue.
// Pending expiries are discarded. Close must not be called from an observer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.timer.Stop()
	m.mu.Unlock()

	if m.ownsQueue {
		m.queue.Close()
	}
}
