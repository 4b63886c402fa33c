package goep

import (
	"sync"

	"github.com/eapache/queue"
)

// dispatcher runs posted work one item at a time, in posting order.
//
// It has two modes. After start, a background goroutine drains the queue.
// Without start, nothing runs until process is called, which lets tests
// step the state machine deterministically.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	work     *queue.Queue
	started  bool
	closed   bool
	draining bool
	done     chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		work: queue.New(),
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// post queues fn. Work posted after stop is dropped.
func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.work.Add(fn)
	d.cond.Signal()
}

// pending returns the number of queued items.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.work.Length()
}

func (d *dispatcher) start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return false
	}
	d.started = true
	go d.run()
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for d.work.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.work.Length() == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.work.Remove().(func())
		d.mu.Unlock()

		fn()
	}
}

// process runs queued work on the calling goroutine until the queue is
// empty, and returns how many items ran. It does nothing when the
// background loop is running or when called from inside a work item.
func (d *dispatcher) process() int {
	d.mu.Lock()
	if d.started || d.draining {
		d.mu.Unlock()
		return 0
	}
	d.draining = true
	d.mu.Unlock()

	n := 0
	for {
		d.mu.Lock()
		if d.work.Length() == 0 {
			d.draining = false
			d.mu.Unlock()
			return n
		}
		fn := d.work.Remove().(func())
		d.mu.Unlock()

		fn()
		n++
	}
}

// stop ends the dispatcher. A running loop finishes the queued work first.
// It must not be called from a work item.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	d.cond.Broadcast()
	d.mu.Unlock()

	if started {
		<-d.done
	}
}
