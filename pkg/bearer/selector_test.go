package bearer

import (
	"errors"
	"testing"
)

// fakeBearer records calls for routing tests.
type fakeBearer struct {
	kind    Kind
	calls   []string
	handler EventHandler
	started bool
	stopped bool
}

func (f *fakeBearer) Kind() Kind { return f.kind }
func (f *fakeBearer) SetEventHandler(h EventHandler) { f.handler = h }
func (f *fakeBearer) Start() error { f.started = true; return nil }
func (f *fakeBearer) Stop() error { f.stopped = true; return nil }

func (f *fakeBearer) Open(peer Address, endpoint uint16) (ChannelID, error) {
	f.calls = append(f.calls, "open")
	return ChannelID(endpoint), nil
}

func (f *fakeBearer) Close(ch ChannelID) error {
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakeBearer) Reserve() (*Buffer, error) {
	f.calls = append(f.calls, "reserve")
	return NewSendSlot(8).Reserve()
}

func (f *fakeBearer) SendPrepared(ch ChannelID, buf *Buffer, n int) error {
	f.calls = append(f.calls, "send")
	return nil
}

func (f *fakeBearer) RequestSendReady(ch ChannelID) error {
	f.calls = append(f.calls, "ready")
	return nil
}

func TestNewSelector(t *testing.T) {
	if _, err := NewSelector(SelectorConfig{}); err != ErrBearerNotConfigured {
		t.Errorf("NewSelector() error = %v, want %v", err, ErrBearerNotConfigured)
	}
}

func TestSelector_Routing(t *testing.T) {
	stream := &fakeBearer{kind: KindStream}
	packet := &fakeBearer{kind: KindPacket}
	s, err := NewSelector(SelectorConfig{Stream: stream, Packet: packet})
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !stream.started || !packet.started {
		t.Error("Start() did not start both bearers")
	}

	s.SetEventHandler(func(Event) {})
	if stream.handler == nil || packet.handler == nil {
		t.Error("SetEventHandler() did not reach both bearers")
	}

	ch, _ := s.Open(KindPacket, testPeer, 7)
	if ch != 7 {
		t.Errorf("Open() = %d, want 7", ch)
	}
	buf, _ := s.Reserve(KindPacket)
	s.SendPrepared(KindPacket, ch, buf, 3)
	s.RequestSendReady(KindPacket, ch)
	s.Close(KindPacket, ch)

	want := []string{"open", "reserve", "send", "ready", "close"}
	if len(packet.calls) != len(want) {
		t.Fatalf("packet calls = %v, want %v", packet.calls, want)
	}
	for i := range want {
		if packet.calls[i] != want[i] {
			t.Errorf("packet call %d = %s, want %s", i, packet.calls[i], want[i])
		}
	}
	if len(stream.calls) != 0 {
		t.Errorf("stream calls = %v, want none", stream.calls)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !stream.stopped || !packet.stopped {
		t.Error("Stop() did not stop both bearers")
	}
	if _, err := s.Open(KindStream, testPeer, 1); err != ErrClosed {
		t.Errorf("Open() after Stop error = %v, want %v", err, ErrClosed)
	}
}

func TestSelector_MissingBearer(t *testing.T) {
	s, _ := NewSelector(SelectorConfig{Stream: &fakeBearer{kind: KindStream}})

	if !s.Has(KindStream) || s.Has(KindPacket) {
		t.Errorf("Has() = (%v, %v), want (true, false)", s.Has(KindStream), s.Has(KindPacket))
	}
	if _, err := s.Open(KindPacket, testPeer, 1); !errors.Is(err, ErrBearerNotConfigured) {
		t.Errorf("Open(packet) error = %v, want %v", err, ErrBearerNotConfigured)
	}
	if _, err := s.Reserve(KindUnknown); !errors.Is(err, ErrNoBearer) {
		t.Errorf("Reserve(unknown) error = %v, want %v", err, ErrNoBearer)
	}
}
