// Package timer implements a restartable one-shot timer whose expiry handler
// runs on a work queue rather than on the clock's callback goroutine.
package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/srg/splitlink/internal/workqueue"
)

// ExpiryFunc handles a timer expiry. gen is the generation that was armed when
// the timer fired; it no longer equals Generation() if the timer was reset or
// stopped in the meantime.
type ExpiryFunc func(gen uint64)

// Restartable is a single countdown. Every Reset or Stop atomically supersedes
// any pending firing by bumping the generation.
type Restartable struct {
	clock  clock.Clock
	queue  *workqueue.Queue
	expiry ExpiryFunc

	mu      sync.Mutex
	pending *clock.Timer
	gen     uint64
}

// New creates a stopped timer. If clk is nil the wall clock is used.
func New(clk clock.Clock, queue *workqueue.Queue, expiry ExpiryFunc) *Restartable {
	if clk == nil {
		clk = clock.New()
	}
	return &Restartable{
		clock:  clk,
		queue:  queue,
		expiry: expiry,
	}
}

// Reset cancels any pending firing and schedules a new one d from now.
// It returns the generation of the new countdown.
func (t *Restartable) Reset(d time.Duration) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() {
		// only hand off; the expiry handler runs on the queue
		t.queue.Submit(func() { t.expiry(gen) })
	})
	return gen
}

// Stop cancels any pending firing.
func (t *Restartable) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Restartable) stopLocked() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Generation returns the generation of the current countdown.
func (t *Restartable) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// IsCurrent reports whether gen is the generation of the current countdown.
func (t *Restartable) IsCurrent(gen uint64) bool {
	return t.Generation() == gen
}
