package goep

import (
	"context"
	"sync"
	"testing"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
)

var testPeer = bearer.Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

type openCall struct {
	kind     bearer.Kind
	peer     bearer.Address
	endpoint uint16
}

// fakeBearers is a scripted bearer selector. Tests inject bearer events
// with emit and step the client with Process.
type fakeBearers struct {
	mu      sync.Mutex
	handler bearer.EventHandler
	slot    *bearer.SendSlot
	nextCh  bearer.ChannelID
	opens   []openCall
	closes  []bearer.ChannelID
	sent    [][]byte
	ready   int
	openErr error
	sendErr error
}

func newFakeBearers(bufSize int) *fakeBearers {
	return &fakeBearers{slot: bearer.NewSendSlot(bufSize), nextCh: 0x40}
}

func (f *fakeBearers) SetEventHandler(h bearer.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeBearers) Open(kind bearer.Kind, peer bearer.Address, endpoint uint16) (bearer.ChannelID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return 0, f.openErr
	}
	f.opens = append(f.opens, openCall{kind, peer, endpoint})
	ch := f.nextCh
	f.nextCh++
	return ch, nil
}

func (f *fakeBearers) Close(kind bearer.Kind, ch bearer.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, ch)
	return nil
}

func (f *fakeBearers) Reserve(kind bearer.Kind) (*bearer.Buffer, error) {
	return f.slot.Reserve()
}

func (f *fakeBearers) SendPrepared(kind bearer.Kind, ch bearer.ChannelID, buf *bearer.Buffer, n int) error {
	if err := f.slot.Check(buf); err != nil {
		return err
	}
	f.mu.Lock()
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, append([]byte(nil), buf.Bytes()[:n]...))
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	buf.Release()
	return nil
}

func (f *fakeBearers) RequestSendReady(kind bearer.Kind, ch bearer.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready++
	return nil
}

func (f *fakeBearers) emit(ev bearer.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if ev.Kind == bearer.KindUnknown {
		ev.Kind = bearer.KindStream
	}
	h(ev)
}

func (f *fakeBearers) lastOpen(t *testing.T) openCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opens) == 0 {
		t.Fatal("no channel was opened")
	}
	return f.opens[len(f.opens)-1]
}

type fakeQuery struct {
	peer    bearer.Address
	service discovery.ServiceID
	done    func(discovery.Result, error)
}

// fakeResolver records queries; tests complete them explicitly.
type fakeResolver struct {
	mu      sync.Mutex
	queries []fakeQuery
	err     error
}

func (r *fakeResolver) Query(ctx context.Context, peer bearer.Address, service discovery.ServiceID, done func(discovery.Result, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.queries = append(r.queries, fakeQuery{peer, service, done})
	return nil
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func (r *fakeResolver) complete(t *testing.T, res discovery.Result, err error) {
	t.Helper()
	r.mu.Lock()
	if len(r.queries) == 0 {
		r.mu.Unlock()
		t.Fatal("no discovery query pending")
	}
	q := r.queries[len(r.queries)-1]
	r.mu.Unlock()
	q.done(res, err)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// only asserts that exactly one event was logged and returns it.
func (l *eventLog) only(t *testing.T) Event {
	t.Helper()
	events := l.all()
	if len(events) != 1 {
		t.Fatalf("got %d events %v, want 1", len(events), events)
	}
	return events[0]
}

type fixture struct {
	client   *Client
	bearers  *fakeBearers
	resolver *fakeResolver
	log      *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bearers:  newFakeBearers(2048),
		resolver: &fakeResolver{},
		log:      &eventLog{},
	}
	c, err := NewClient(ClientConfig{Bearers: f.bearers, Resolver: f.resolver})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	f.client = c
	t.Cleanup(func() { c.Close() })
	return f
}

// connect drives a session to Connected with the given MTU and clears the
// event log.
func (f *fixture) connect(t *testing.T, mtu int) Handle {
	t.Helper()
	h, err := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServicePhonebookAccess)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.resolver.complete(t, discovery.Result{Endpoint: 5}, nil)
	f.client.Process()

	f.bearers.emit(bearer.Event{
		Type:    bearer.EventChannelOpened,
		Channel: f.channel(),
		MTU:     mtu,
		Link:    7,
	})
	f.client.Process()

	if ev := f.log.only(t); ev.Type != EventOpened || ev.Status != StatusSuccess {
		t.Fatalf("event = %+v, want successful Opened", ev)
	}
	f.log.mu.Lock()
	f.log.events = nil
	f.log.mu.Unlock()
	return h
}

// channel returns the channel id handed out by the last Open.
func (f *fixture) channel() bearer.ChannelID {
	f.bearers.mu.Lock()
	defer f.bearers.mu.Unlock()
	return f.bearers.nextCh - 1
}
