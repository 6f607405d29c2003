package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
)

// dispatcher runs queued handler calls one at a time in FIFO order.
// The queue is unbounded so producers holding the session lock never block
// and no event is ever dropped.
type dispatcher struct {
	logger *logrus.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newDispatcher(logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		done:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	groutine.Go(context.Background(), "session-dispatcher", d.run)
	return d
}

// post enqueues fn. Returns false once the dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return true
}

func (d *dispatcher) run(context.Context) {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.invoke(fn)
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Session handler panicked")
		}
	}()
	fn()
}

// flush blocks until every event posted before the call has been handled.
// Must not be called from a handler.
func (d *dispatcher) flush() {
	reached := make(chan struct{})
	if !d.post(func() { close(reached) }) {
		<-d.done
		return
	}
	<-reached
}

// close stops accepting events and waits for the queue to drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
}
