package bearer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/backkem/goep/pkg/obex"
)

// pipeServer captures the server end of each dialed channel.
type pipeServer struct {
	conns chan net.Conn
}

func newPipeServer() *pipeServer {
	return &pipeServer{conns: make(chan net.Conn, 4)}
}

func (s *pipeServer) serve(peer Address, endpoint uint16, conn net.Conn) {
	s.conns <- conn
}

func (s *pipeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func newTestStream(t *testing.T, config StreamConfig) (*StreamBearer, *eventRecorder) {
	t.Helper()
	s, err := NewStreamBearer(config)
	if err != nil {
		t.Fatalf("NewStreamBearer() error = %v", err)
	}
	rec := newEventRecorder()
	s.SetEventHandler(rec.handle)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, rec
}

func TestNewStreamBearer(t *testing.T) {
	t.Run("no dialer", func(t *testing.T) {
		if _, err := NewStreamBearer(StreamConfig{}); err != ErrNoDialer {
			t.Errorf("NewStreamBearer() error = %v, want %v", err, ErrNoDialer)
		}
	})

	t.Run("mtu below minimum", func(t *testing.T) {
		_, err := NewStreamBearer(StreamConfig{Dial: PipeDialer(newPipeServer().serve), MTU: 100})
		if err != ErrInvalidMTU {
			t.Errorf("NewStreamBearer() error = %v, want %v", err, ErrInvalidMTU)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := NewStreamBearer(StreamConfig{Dial: PipeDialer(newPipeServer().serve)})
		if err != nil {
			t.Fatalf("NewStreamBearer() error = %v", err)
		}
		defer s.Stop()
		if s.MTU() != DefaultStreamMTU {
			t.Errorf("MTU() = %d, want %d", s.MTU(), DefaultStreamMTU)
		}
		if s.Kind() != KindStream {
			t.Errorf("Kind() = %s, want Stream", s.Kind())
		}
	})
}

func TestStreamBearer_OpenBeforeStart(t *testing.T) {
	s, _ := NewStreamBearer(StreamConfig{Dial: PipeDialer(newPipeServer().serve)})
	defer s.Stop()

	if _, err := s.Open(testPeer, 5); err != ErrNotStarted {
		t.Errorf("Open() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestStreamBearer_OpenSendReceive(t *testing.T) {
	server := newPipeServer()
	s, rec := newTestStream(t, StreamConfig{Dial: PipeDialer(server.serve), MTU: 990})

	if _, err := s.Open(testPeer, 0); err != ErrInvalidEndpoint {
		t.Errorf("Open(endpoint 0) error = %v, want %v", err, ErrInvalidEndpoint)
	}

	ch, err := s.Open(testPeer, 5)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	srv := server.accept(t)
	defer srv.Close()

	ev := rec.expect(t, EventChannelOpened)
	if ev.Err != nil {
		t.Fatalf("ChannelOpened error = %v", ev.Err)
	}
	if ev.Channel != ch || ev.MTU != 990 || ev.Link == 0 || ev.Kind != KindStream {
		t.Errorf("ChannelOpened = %+v, want channel %d, mtu 990, non-zero link", ev, ch)
	}

	// Outbound.
	buf, err := s.Reserve()
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if len(buf.Bytes()) != 990 {
		t.Errorf("len(Bytes()) = %d, want 990", len(buf.Bytes()))
	}
	n := writePacket(t, buf, "pb.vcf")
	want := append([]byte(nil), buf.Bytes()[:n]...)

	received := make(chan []byte, 1)
	go func() {
		p, _ := obex.NewPacketReader(srv, 0).Read()
		received <- p
	}()
	if err := s.SendPrepared(ch, buf, n); err != nil {
		t.Fatalf("SendPrepared() error = %v", err)
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, want) {
			t.Errorf("server received % X, want % X", got, want)
		}
	case <-time.After(eventTimeout):
		t.Fatal("server did not receive packet")
	}

	// Buffer was consumed by the send.
	buf2, err := s.Reserve()
	if err != nil {
		t.Fatalf("Reserve() after send error = %v", err)
	}
	buf2.Release()

	// Inbound: two packets written back to back arrive as two events.
	go srv.Write([]byte{0x90, 0x00, 0x03, 0xA0, 0x00, 0x06, 0xC0, 0x00})
	ev = rec.expect(t, EventData)
	if !bytes.Equal(ev.Data, []byte{0x90, 0x00, 0x03}) {
		t.Errorf("data 1 = % X", ev.Data)
	}
	// The second packet is incomplete; finish it.
	go srv.Write([]byte{0x01})
	ev = rec.expect(t, EventData)
	if !bytes.Equal(ev.Data, []byte{0xA0, 0x00, 0x06, 0xC0, 0x00, 0x01}) {
		t.Errorf("data 2 = % X", ev.Data)
	}
}

func TestStreamBearer_PeerClose(t *testing.T) {
	server := newPipeServer()
	s, rec := newTestStream(t, StreamConfig{Dial: PipeDialer(server.serve)})

	ch, _ := s.Open(testPeer, 5)
	srv := server.accept(t)
	rec.expect(t, EventChannelOpened)

	srv.Close()
	ev := rec.expect(t, EventChannelClosed)
	if ev.Channel != ch || ev.Err != nil {
		t.Errorf("ChannelClosed = %+v, want channel %d without error", ev, ch)
	}

	if err := s.Close(ch); err != ErrChannelNotFound {
		t.Errorf("Close() after peer close error = %v, want %v", err, ErrChannelNotFound)
	}
	rec.none(t, 50*time.Millisecond)
}

func TestStreamBearer_LocalClose(t *testing.T) {
	server := newPipeServer()
	s, rec := newTestStream(t, StreamConfig{Dial: PipeDialer(server.serve)})

	ch, _ := s.Open(testPeer, 5)
	srv := server.accept(t)
	defer srv.Close()
	rec.expect(t, EventChannelOpened)

	if err := s.Close(ch); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ev := rec.expect(t, EventChannelClosed)
	if ev.Channel != ch {
		t.Errorf("ChannelClosed channel = %d, want %d", ev.Channel, ch)
	}
	rec.none(t, 50*time.Millisecond)
}

func TestStreamBearer_DialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	s, rec := newTestStream(t, StreamConfig{
		Dial: func(ctx context.Context, peer Address, endpoint uint16) (net.Conn, error) {
			return nil, dialErr
		},
	})

	ch, err := s.Open(testPeer, 5)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ev := rec.expect(t, EventChannelOpened)
	if ev.Channel != ch || !errors.Is(ev.Err, dialErr) {
		t.Errorf("ChannelOpened = %+v, want error %v", ev, dialErr)
	}
	rec.none(t, 50*time.Millisecond)
}

func blockingDial(ctx context.Context, peer Address, endpoint uint16) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStreamBearer_DialTimeout(t *testing.T) {
	s, rec := newTestStream(t, StreamConfig{Dial: blockingDial, DialTimeout: 20 * time.Millisecond})

	s.Open(testPeer, 5)
	ev := rec.expect(t, EventChannelOpened)
	if !errors.Is(ev.Err, context.DeadlineExceeded) {
		t.Errorf("ChannelOpened error = %v, want %v", ev.Err, context.DeadlineExceeded)
	}
}

func TestStreamBearer_CloseWhileDialing(t *testing.T) {
	s, rec := newTestStream(t, StreamConfig{Dial: blockingDial})

	ch, _ := s.Open(testPeer, 5)
	if err := s.Close(ch); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ev := rec.expect(t, EventChannelClosed)
	if ev.Channel != ch {
		t.Errorf("ChannelClosed channel = %d, want %d", ev.Channel, ch)
	}
	rec.none(t, 50*time.Millisecond)
}

func TestStreamBearer_FlowControl(t *testing.T) {
	server := newPipeServer()
	s, rec := newTestStream(t, StreamConfig{Dial: PipeDialer(server.serve)})

	ch, _ := s.Open(testPeer, 5)
	srv := server.accept(t)
	defer srv.Close()
	rec.expect(t, EventChannelOpened)

	// Idle channel: send-ready fires right away, once.
	if err := s.RequestSendReady(ch); err != nil {
		t.Fatalf("RequestSendReady() error = %v", err)
	}
	rec.expect(t, EventSendReady)

	// net.Pipe writes block until read, so the first send stays in flight.
	buf, _ := s.Reserve()
	n := writePacket(t, buf, "first")
	if err := s.SendPrepared(ch, buf, n); err != nil {
		t.Fatalf("SendPrepared() error = %v", err)
	}

	buf, err := s.Reserve()
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	n = writePacket(t, buf, "second")
	if err := s.SendPrepared(ch, buf, n); err != ErrBusy {
		t.Fatalf("SendPrepared() while busy error = %v, want %v", err, ErrBusy)
	}
	if _, err := s.Reserve(); err != ErrBufferInUse {
		t.Errorf("Reserve() while held error = %v, want %v", err, ErrBufferInUse)
	}

	if err := s.RequestSendReady(ch); err != nil {
		t.Fatalf("RequestSendReady() error = %v", err)
	}
	rec.none(t, 30*time.Millisecond)

	r := obex.NewPacketReader(srv, 0)
	if _, err := r.Read(); err != nil {
		t.Fatalf("server Read() error = %v", err)
	}
	rec.expect(t, EventSendReady)
	rec.none(t, 30*time.Millisecond)

	// The held buffer can now be sent.
	go r.Read()
	if err := s.SendPrepared(ch, buf, n); err != nil {
		t.Errorf("SendPrepared() after send-ready error = %v", err)
	}
}

func TestStreamBearer_SendErrors(t *testing.T) {
	server := newPipeServer()
	s, rec := newTestStream(t, StreamConfig{Dial: PipeDialer(server.serve), MTU: 255})

	ch, _ := s.Open(testPeer, 5)
	srv := server.accept(t)
	defer srv.Close()
	rec.expect(t, EventChannelOpened)

	buf, _ := s.Reserve()
	defer buf.Release()

	tests := []struct {
		name string
		ch   ChannelID
		buf  *Buffer
		n    int
		want error
	}{
		{"unknown channel", ch + 1, buf, 3, ErrChannelNotFound},
		{"zero length", ch, buf, 0, ErrInvalidLength},
		{"above mtu", ch, buf, 256, ErrMessageTooLarge},
		{"foreign buffer", ch, &Buffer{}, 3, ErrForeignBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SendPrepared(tt.ch, tt.buf, tt.n); err != tt.want {
				t.Errorf("SendPrepared() error = %v, want %v", err, tt.want)
			}
		})
	}

	buf.Release()
	if err := s.SendPrepared(ch, buf, 3); err != ErrBufferReleased {
		t.Errorf("SendPrepared(released) error = %v, want %v", err, ErrBufferReleased)
	}
}

func TestStreamBearer_Stop(t *testing.T) {
	server := newPipeServer()
	s, err := NewStreamBearer(StreamConfig{Dial: PipeDialer(server.serve)})
	if err != nil {
		t.Fatalf("NewStreamBearer() error = %v", err)
	}
	rec := newEventRecorder()
	s.SetEventHandler(rec.handle)
	s.Start()

	ch, _ := s.Open(testPeer, 5)
	srv := server.accept(t)
	defer srv.Close()
	rec.expect(t, EventChannelOpened)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	ev := rec.expect(t, EventChannelClosed)
	if ev.Channel != ch {
		t.Errorf("ChannelClosed channel = %d, want %d", ev.Channel, ch)
	}
	if err := s.Stop(); err != ErrClosed {
		t.Errorf("second Stop() error = %v, want %v", err, ErrClosed)
	}
	if _, err := s.Open(testPeer, 5); err != ErrClosed {
		t.Errorf("Open() after Stop error = %v, want %v", err, ErrClosed)
	}
	if _, err := s.Reserve(); err != ErrClosed {
		t.Errorf("Reserve() after Stop error = %v, want %v", err, ErrClosed)
	}
}
