package goep

import (
	"context"
	"errors"
	"testing"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
)

func TestNewClient(t *testing.T) {
	t.Run("no bearers", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err != ErrNoBearers {
			t.Errorf("NewClient() error = %v, want %v", err, ErrNoBearers)
		}
	})

	t.Run("invalid kind", func(t *testing.T) {
		_, err := NewClient(ClientConfig{Bearers: newFakeBearers(64), BearerKind: bearer.Kind(9)})
		if !errors.Is(err, bearer.ErrInvalidKind) {
			t.Errorf("NewClient() error = %v, want %v", err, bearer.ErrInvalidKind)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		fb := newFakeBearers(64)
		c, err := NewClient(ClientConfig{Bearers: fb})
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		defer c.Close()
		if c.kind != bearer.KindStream {
			t.Errorf("kind = %s, want Stream", c.kind)
		}
		if c.sessions.maxSessions != DefaultMaxSessions {
			t.Errorf("maxSessions = %d, want %d", c.sessions.maxSessions, DefaultMaxSessions)
		}
		if fb.handler == nil {
			t.Error("bearer event handler not installed")
		}
	})
}

func TestClient_OpenSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.client.Open(ctx, f.log.handle, testPeer, discovery.ServicePhonebookAccess)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if h != 1 {
		t.Errorf("handle = %d, want 1", h)
	}
	if got := f.client.State(h); got != StateAwaitingDiscovery {
		t.Errorf("State() = %s, want AwaitingDiscovery", got)
	}
	if q := f.resolver.queries[0]; q.peer != testPeer || q.service != discovery.ServicePhonebookAccess {
		t.Errorf("query = (%s, %s), want (%s, PhonebookAccess)", q.peer, q.service, testPeer)
	}

	f.resolver.complete(t, discovery.Result{Endpoint: 5}, nil)
	if len(f.log.all()) != 0 {
		t.Fatal("events delivered before Process")
	}
	if n := f.client.Process(); n != 1 {
		t.Errorf("Process() = %d, want 1", n)
	}
	if got := f.client.State(h); got != StateAwaitingChannelOpen {
		t.Errorf("State() = %s, want AwaitingChannelOpen", got)
	}
	open := f.bearers.lastOpen(t)
	if open.endpoint != 5 || open.peer != testPeer || open.kind != bearer.KindStream {
		t.Errorf("bearer Open = %+v, want stream endpoint 5 to %s", open, testPeer)
	}
	if len(f.log.all()) != 0 {
		t.Fatal("event delivered before the channel opened")
	}

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: f.channel(), MTU: 990, Link: 7})
	f.client.Process()

	ev := f.log.only(t)
	if ev.Type != EventOpened || ev.Status != StatusSuccess {
		t.Fatalf("event = %s status %s, want Opened Success", ev.Type, ev.Status)
	}
	if ev.Session != h || ev.Peer != testPeer || ev.Link != 7 || ev.Incoming {
		t.Errorf("event = %+v, want session %d peer %s link 7 outgoing", ev, h, testPeer)
	}
	if got := f.client.MTU(h); got != 990 {
		t.Errorf("MTU() = %d, want 990", got)
	}
	if got := f.client.State(h); got != StateConnected {
		t.Errorf("State() = %s, want Connected", got)
	}
}

func TestClient_OpenWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.client.Open(ctx, f.log.handle, testPeer, discovery.ServiceObjectPush); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for _, state := range []string{"awaiting discovery", "awaiting channel", "connected"} {
		_, err := f.client.Open(ctx, f.log.handle, testPeer, discovery.ServiceObjectPush)
		if err != ErrAlreadyOpen {
			t.Errorf("%s: Open() error = %v, want %v", state, err, ErrAlreadyOpen)
		}
		if _, err := f.client.OpenEndpoint(f.log.handle, testPeer, 3); err != ErrAlreadyOpen {
			t.Errorf("%s: OpenEndpoint() error = %v, want %v", state, err, ErrAlreadyOpen)
		}

		switch state {
		case "awaiting discovery":
			f.resolver.complete(t, discovery.Result{Endpoint: 5}, nil)
		case "awaiting channel":
			f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: f.channel(), MTU: 990})
		}
		f.client.Process()
	}

	if n := f.resolver.count(); n != 1 {
		t.Errorf("queries = %d, want 1", n)
	}
	if n := len(f.log.all()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestClient_DiscoveryFailure(t *testing.T) {
	tests := []struct {
		name string
		res  discovery.Result
		err  error
		want Status
	}{
		{"not found", discovery.Result{}, discovery.ErrServiceNotFound, StatusUnsupportedFeature},
		{"no endpoint", discovery.Result{}, nil, StatusUnsupportedFeature},
		{"timeout", discovery.Result{}, discovery.ErrTimeout, StatusConnectionTimeout},
		{"query status", discovery.Result{}, &discovery.QueryError{Code: 0x23}, Status(0x23)},
		{"other", discovery.Result{Endpoint: 5}, errors.New("sdp link lost"), StatusDiscoveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h, err := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceFileTransfer)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			f.resolver.complete(t, tt.res, tt.err)
			f.client.Process()

			ev := f.log.only(t)
			if ev.Type != EventOpened || ev.Status != tt.want {
				t.Errorf("event = %s status %s, want Opened %s", ev.Type, ev.Status, tt.want)
			}
			if ev.Session != h {
				t.Errorf("event session = %d, want %d", ev.Session, h)
			}
			if got := f.client.State(h); got != StateIdle {
				t.Errorf("State() = %s, want Idle", got)
			}
			if len(f.bearers.opens) != 0 {
				t.Error("bearer channel opened after failed discovery")
			}

			h2, err := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceFileTransfer)
			if err != nil {
				t.Fatalf("second Open() error = %v", err)
			}
			if h2 == h {
				t.Errorf("second handle = %d, want a fresh handle", h2)
			}
		})
	}
}

func TestClient_DiscoveryNotStarted(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = discovery.ErrInvalidService

	_, err := f.client.Open(context.Background(), f.log.handle, testPeer, 0)
	if !errors.Is(err, discovery.ErrInvalidService) {
		t.Errorf("Open() error = %v, want %v", err, discovery.ErrInvalidService)
	}
	if f.client.sessions.Count() != 0 {
		t.Error("session left in table after a rejected Open")
	}
	f.client.Process()
	if n := len(f.log.all()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestClient_ChannelOpenFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"refused", errors.New("connection refused"), StatusConnectionFailed},
		{"timeout", context.DeadlineExceeded, StatusConnectionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h, _ := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush)
			f.resolver.complete(t, discovery.Result{Endpoint: 9}, nil)
			f.client.Process()

			f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: f.channel(), Err: tt.err})
			f.client.Process()

			ev := f.log.only(t)
			if ev.Type != EventOpened || ev.Status != tt.want {
				t.Errorf("event = %s status %s, want Opened %s", ev.Type, ev.Status, tt.want)
			}
			if got := f.client.State(h); got != StateIdle {
				t.Errorf("State() = %s, want Idle", got)
			}
		})
	}

	t.Run("open rejected", func(t *testing.T) {
		f := newFixture(t)
		f.bearers.openErr = bearer.ErrNotStarted
		h, _ := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush)
		f.resolver.complete(t, discovery.Result{Endpoint: 9}, nil)
		f.client.Process()

		ev := f.log.only(t)
		if ev.Status != StatusConnectionFailed {
			t.Errorf("status = %s, want ConnectionFailed", ev.Status)
		}
		if got := f.client.State(h); got != StateIdle {
			t.Errorf("State() = %s, want Idle", got)
		}
	})
}

func TestClient_ChannelClosed(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t, 990)
	ch := f.channel()

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: ch})
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: ch})
	f.bearers.emit(bearer.Event{Type: bearer.EventData, Channel: ch, Data: []byte{0xA0, 0x00, 0x03}})
	f.client.Process()

	ev := f.log.only(t)
	if ev.Type != EventClosed || ev.Session != h {
		t.Errorf("event = %+v, want Closed for session %d", ev, h)
	}
	if got := f.client.State(h); got != StateIdle {
		t.Errorf("State() = %s, want Idle", got)
	}
	if _, err := f.client.PendingOpcode(h); err != ErrSessionNotFound {
		t.Errorf("PendingOpcode() error = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestClient_CloseRacesOpen(t *testing.T) {
	f := newFixture(t)
	h, _ := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush)
	f.resolver.complete(t, discovery.Result{Endpoint: 9}, nil)
	f.client.Process()
	ch := f.channel()

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: ch})
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: ch, MTU: 990})
	f.client.Process()

	ev := f.log.only(t)
	if ev.Type != EventClosed {
		t.Errorf("event = %s, want Closed", ev.Type)
	}
	if got := f.client.State(h); got != StateIdle {
		t.Errorf("State() = %s, want Idle", got)
	}
}

func TestClient_SpuriousEvents(t *testing.T) {
	f := newFixture(t)
	h, _ := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush)

	// Nothing is bound to a channel during discovery.
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: 0x40, MTU: 990})
	f.bearers.emit(bearer.Event{Type: bearer.EventSendReady, Channel: 0x40})
	f.client.Process()
	if n := len(f.log.all()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
	if got := f.client.State(h); got != StateAwaitingDiscovery {
		t.Errorf("State() = %s, want AwaitingDiscovery", got)
	}

	f.resolver.complete(t, discovery.Result{Endpoint: 9}, nil)
	f.client.Process()
	ch := f.channel()

	f.bearers.emit(bearer.Event{Type: bearer.EventData, Channel: ch, Data: []byte{1}})
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: ch, MTU: 990})
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: ch, MTU: 512})
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Kind: bearer.KindPacket, Channel: ch, MTU: 512})
	f.client.Process()

	ev := f.log.only(t)
	if ev.Type != EventOpened || ev.Status != StatusSuccess {
		t.Errorf("event = %s status %s, want Opened Success", ev.Type, ev.Status)
	}
	if got := f.client.MTU(h); got != 990 {
		t.Errorf("MTU() = %d, want 990", got)
	}
}

func TestClient_StaleDiscovery(t *testing.T) {
	f := newFixture(t)
	if _, err := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	first := f.resolver.queries[0]

	first.done(discovery.Result{}, discovery.ErrServiceNotFound)
	first.done(discovery.Result{Endpoint: 3}, nil)
	f.client.Process()

	if n := len(f.log.all()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
	if len(f.bearers.opens) != 0 {
		t.Error("duplicate discovery completion opened a channel")
	}
}

func TestClient_Disconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Disconnect(1); err != ErrSessionNotFound {
		t.Errorf("Disconnect(unknown) error = %v, want %v", err, ErrSessionNotFound)
	}

	h, _ := f.client.Open(ctx, f.log.handle, testPeer, discovery.ServiceObjectPush)
	if err := f.client.Disconnect(h); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Disconnect() during discovery error = %v, want %v", err, ErrInvalidState)
	}

	f.resolver.complete(t, discovery.Result{Endpoint: 9}, nil)
	f.client.Process()
	f.bearers.emit(bearer.Event{Type: bearer.EventChannelOpened, Channel: f.channel(), MTU: 990})
	f.client.Process()

	if err := f.client.Disconnect(h); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if len(f.bearers.closes) != 1 || f.bearers.closes[0] != f.channel() {
		t.Errorf("bearer closes = %v, want [%d]", f.bearers.closes, f.channel())
	}
	if got := f.client.State(h); got != StateConnected {
		t.Errorf("State() after Disconnect = %s, want Connected until confirmed", got)
	}

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: f.channel()})
	f.client.Process()
	if got := f.client.State(h); got != StateIdle {
		t.Errorf("State() = %s, want Idle", got)
	}
	events := f.log.all()
	if last := events[len(events)-1]; last.Type != EventClosed {
		t.Errorf("last event = %s, want Closed", last.Type)
	}
}

func TestClient_DisconnectWhileOpening(t *testing.T) {
	f := newFixture(t)
	h, err := f.client.OpenEndpoint(f.log.handle, testPeer, 4)
	if err != nil {
		t.Fatalf("OpenEndpoint() error = %v", err)
	}
	if err := f.client.Disconnect(h); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: f.channel()})
	f.client.Process()

	if ev := f.log.only(t); ev.Type != EventClosed {
		t.Errorf("event = %s, want Closed", ev.Type)
	}
}

func TestClient_OpenEndpoint(t *testing.T) {
	f := newFixture(t)

	if _, err := f.client.OpenEndpoint(f.log.handle, testPeer, 0); err != ErrInvalidEndpoint {
		t.Errorf("OpenEndpoint(0) error = %v, want %v", err, ErrInvalidEndpoint)
	}
	if _, err := f.client.OpenEndpoint(nil, testPeer, 4); err != ErrNoHandler {
		t.Errorf("OpenEndpoint(nil) error = %v, want %v", err, ErrNoHandler)
	}

	h, err := f.client.OpenEndpoint(f.log.handle, testPeer, 4)
	if err != nil {
		t.Fatalf("OpenEndpoint() error = %v", err)
	}
	if f.resolver.count() != 0 {
		t.Error("OpenEndpoint queried the resolver")
	}
	if got := f.client.State(h); got != StateAwaitingChannelOpen {
		t.Errorf("State() = %s, want AwaitingChannelOpen", got)
	}
	if open := f.bearers.lastOpen(t); open.endpoint != 4 {
		t.Errorf("endpoint = %d, want 4", open.endpoint)
	}

	t.Run("bearer rejects", func(t *testing.T) {
		f := newFixture(t)
		f.bearers.openErr = bearer.ErrInvalidEndpoint
		_, err := f.client.OpenEndpoint(f.log.handle, testPeer, 4)
		if !errors.Is(err, bearer.ErrInvalidEndpoint) {
			t.Errorf("OpenEndpoint() error = %v, want %v", err, bearer.ErrInvalidEndpoint)
		}
		if f.client.sessions.Count() != 0 {
			t.Error("session left in table")
		}
	})
}

func TestClient_OpenWithoutResolver(t *testing.T) {
	c, err := NewClient(ClientConfig{Bearers: newFakeBearers(64)})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	_, err = c.Open(context.Background(), func(Event) {}, testPeer, discovery.ServiceObjectPush)
	if err != ErrNoResolver {
		t.Errorf("Open() error = %v, want %v", err, ErrNoResolver)
	}
}

func TestClient_Data(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t, 990)

	f.bearers.emit(bearer.Event{Type: bearer.EventData, Channel: f.channel(), Data: []byte{0xA0, 0x00, 0x03}})
	f.bearers.emit(bearer.Event{Type: bearer.EventData, Channel: f.channel() + 1, Data: []byte{0xFF}})
	f.client.Process()

	ev := f.log.only(t)
	if ev.Type != EventData || ev.Session != h {
		t.Fatalf("event = %s session %d, want Data for %d", ev.Type, ev.Session, h)
	}
	if len(ev.Data) != 3 || ev.Data[0] != 0xA0 {
		t.Errorf("Data = % X, want A0 00 03", ev.Data)
	}
}

func TestClient_RequestSendReady(t *testing.T) {
	f := newFixture(t)

	if err := f.client.RequestSendReady(1); err != ErrSessionNotFound {
		t.Errorf("RequestSendReady(unknown) error = %v, want %v", err, ErrSessionNotFound)
	}

	h := f.connect(t, 990)
	if err := f.client.RequestSendReady(h); err != nil {
		t.Fatalf("RequestSendReady() error = %v", err)
	}
	if err := f.client.RequestSendReady(h); err != nil {
		t.Fatalf("second RequestSendReady() error = %v", err)
	}
	if f.bearers.ready != 1 {
		t.Errorf("bearer requests = %d, want 1", f.bearers.ready)
	}

	f.bearers.emit(bearer.Event{Type: bearer.EventSendReady, Channel: f.channel()})
	f.bearers.emit(bearer.Event{Type: bearer.EventSendReady, Channel: f.channel()})
	f.client.Process()

	if ev := f.log.only(t); ev.Type != EventSendReady || ev.Session != h {
		t.Errorf("event = %s session %d, want SendReady for %d", ev.Type, ev.Session, h)
	}

	if err := f.client.RequestSendReady(h); err != nil {
		t.Fatalf("RequestSendReady() after event error = %v", err)
	}
	if f.bearers.ready != 2 {
		t.Errorf("bearer requests = %d, want 2", f.bearers.ready)
	}
}

func TestClient_RequestSendReadyNotConnected(t *testing.T) {
	f := newFixture(t)
	h, _ := f.client.Open(context.Background(), f.log.handle, testPeer, discovery.ServiceObjectPush)
	if err := f.client.RequestSendReady(h); err != ErrNotConnected {
		t.Errorf("RequestSendReady() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestClient_Close(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t, 990)
	if err := f.client.CreateGetRequest(h); err != nil {
		t.Fatalf("CreateGetRequest() error = %v", err)
	}

	if err := f.client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(f.bearers.closes) != 1 {
		t.Errorf("bearer closes = %d, want 1", len(f.bearers.closes))
	}
	if _, err := f.bearers.slot.Reserve(); err != nil {
		t.Errorf("send buffer still held after Close: %v", err)
	}

	f.bearers.emit(bearer.Event{Type: bearer.EventChannelClosed, Channel: f.channel()})
	f.client.Process()
	if n := len(f.log.all()); n != 0 {
		t.Errorf("events after Close = %d, want 0", n)
	}

	if err := f.client.Close(); err != ErrClosed {
		t.Errorf("second Close() error = %v, want %v", err, ErrClosed)
	}
	if _, err := f.client.OpenEndpoint(f.log.handle, testPeer, 4); err != ErrClosed {
		t.Errorf("OpenEndpoint() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := f.client.Start(); err != ErrClosed {
		t.Errorf("Start() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestClient_HandlerReentry(t *testing.T) {
	f := newFixture(t)

	var reopened Handle
	var handler Handler
	handler = func(ev Event) {
		f.log.handle(ev)
		if ev.Type == EventOpened && ev.Status != StatusSuccess && reopened == 0 {
			// Back in Idle: opening again from the handler is allowed.
			h, err := f.client.OpenEndpoint(handler, testPeer, 4)
			if err != nil {
				t.Errorf("OpenEndpoint() from handler error = %v", err)
			}
			reopened = h
			f.client.Process()
		}
	}

	if _, err := f.client.Open(context.Background(), handler, testPeer, discovery.ServiceObjectPush); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.resolver.complete(t, discovery.Result{}, discovery.ErrServiceNotFound)
	f.client.Process()

	if reopened == 0 {
		t.Fatal("handler did not reopen")
	}
	if got := f.client.State(reopened); got != StateAwaitingChannelOpen {
		t.Errorf("State() = %s, want AwaitingChannelOpen", got)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Run("discovery", func(t *testing.T) {
		tests := []struct {
			err  error
			want Status
		}{
			{nil, StatusUnsupportedFeature},
			{discovery.ErrServiceNotFound, StatusUnsupportedFeature},
			{context.DeadlineExceeded, StatusConnectionTimeout},
			{&discovery.QueryError{Code: 0x80}, StatusDiscoveryFailed},
			{&discovery.QueryError{Code: 0}, StatusDiscoveryFailed},
			{errors.New("x"), StatusDiscoveryFailed},
		}
		for _, tt := range tests {
			if got := discoveryStatus(tt.err); got != tt.want {
				t.Errorf("discoveryStatus(%v) = %s, want %s", tt.err, got, tt.want)
			}
		}
	})

	t.Run("bearer", func(t *testing.T) {
		tests := []struct {
			err  error
			want Status
		}{
			{errors.New("refused"), StatusConnectionFailed},
			{context.DeadlineExceeded, StatusConnectionTimeout},
			{&discovery.QueryError{Code: 0x12}, Status(0x12)},
		}
		for _, tt := range tests {
			if got := bearerStatus(tt.err); got != tt.want {
				t.Errorf("bearerStatus(%v) = %s, want %s", tt.err, got, tt.want)
			}
		}
	})
}
