package workqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/splitlink/internal/groutine"
)

// Queue runs submitted work items one at a time on a single named goroutine.
//
// Producers never block: when the buffer is full the oldest pending item is
// discarded. Callers that submit superseding work (timer expiries, for example)
// rely on this, since only the newest item carries meaning.
//
// Close must not be called from a work item.
type Queue struct {
	name    string
	ch      chan func()
	logger  *logrus.Logger
	metrics Metrics

	mu     sync.Mutex // serializes producers against each other and Close
	closed bool
	done   chan struct{}
}

// New creates a queue with the given buffer capacity and starts its worker.
// If parentCtx is nil, context.Background() is used for the worker labels.
func New(parentCtx context.Context, name string, capacity int, logger *logrus.Logger) *Queue {
	if capacity <= 0 {
		panic("workqueue: capacity must be > 0")
	}
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}

	q := &Queue{
		name:   name,
		ch:     make(chan func(), capacity),
		logger: logger,
		done:   make(chan struct{}),
	}

	groutine.Go(parentCtx, name, q.run)

	return q
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for fn := range q.ch {
		q.exec(fn)
	}
	q.logger.WithField("queue", groutine.Name(ctx)).Debug("Work queue drained")
}

func (q *Queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&q.metrics.Errors, 1)
			q.logger.WithFields(logrus.Fields{
				"queue": q.name,
				"panic": r,
			}).Error("Work item panicked")
		}
	}()
	fn()
	atomic.AddInt64(&q.metrics.Processed, 1)
}

// Submit enqueues fn. It reports whether an older pending item was discarded
// to make room. Submitting to a closed queue is a no-op and returns false.
func (q *Queue) Submit(fn func()) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.WithField("queue", q.name).Debug("Submit on closed work queue ignored")
		return false
	}

	select {
	case q.ch <- fn:
	default:
		select {
		case <-q.ch: // drop oldest
			atomic.AddInt64(&q.metrics.Overwritten, 1)
			dropped = true
		default:
		}
		q.ch <- fn
	}
	atomic.AddInt64(&q.metrics.Written, 1)

	return dropped
}

// Close stops accepting work, waits for pending items to run and for the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	<-q.done
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Name returns the worker goroutine label.
func (q *Queue) Name() string {
	return q.name
}

// GetMetrics returns a snapshot of the queue counters.
func (q *Queue) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&q.metrics.Processed),
		Written:     atomic.LoadInt64(&q.metrics.Written),
		Overwritten: atomic.LoadInt64(&q.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&q.metrics.Errors),
	}
}

// Metrics counts queue activity. All fields are updated atomically.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Errors      int64
}
