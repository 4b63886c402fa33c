package bearer

import (
	"testing"
	"time"

	"github.com/backkem/goep/pkg/obex"
)

const eventTimeout = 2 * time.Second

type eventRecorder struct {
	ch chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 64)}
}

func (r *eventRecorder) handle(ev Event) {
	r.ch <- ev
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for bearer event")
		return Event{}
	}
}

func (r *eventRecorder) expect(t *testing.T, typ EventType) Event {
	t.Helper()
	ev := r.next(t)
	if ev.Type != typ {
		t.Fatalf("event = %s (err %v), want %s", ev.Type, ev.Err, typ)
	}
	return ev
}

func (r *eventRecorder) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(d):
	}
}

var testPeer = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

// writePacket builds a Get request with a Name header into buf.
func writePacket(t *testing.T, buf *Buffer, name string) int {
	t.Helper()
	b, err := obex.NewBuilder(buf.Bytes(), obex.OpcodeGet.Final(), 0)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if err := b.AddTextHeader(obex.HeaderName, name); err != nil {
		t.Fatalf("AddTextHeader() error = %v", err)
	}
	return b.Len()
}
