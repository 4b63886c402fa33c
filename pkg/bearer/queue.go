package bearer

import (
	"sync"

	"github.com/eapache/queue"
)

// eventQueue serializes event delivery onto a single goroutine.
// push never blocks; the queue grows as needed.
type eventQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	events  *queue.Queue
	handler EventHandler
	closed  bool
	done    chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		events: queue.New(),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *eventQueue) setHandler(h EventHandler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.events.Add(ev)
	q.cond.Signal()
}

func (q *eventQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.events.Length() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.events.Length() == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.events.Remove().(Event)
		h := q.handler
		q.mu.Unlock()

		if h != nil {
			h(ev)
		}
	}
}

// stop delivers what is already queued, then ends the loop.
// It must not be called from an event handler.
func (q *eventQueue) stop() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
