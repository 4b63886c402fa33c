// Package bearer carries OBEX messages over the two lower transports a
// GOEP session can run on: a reliable byte stream and a packet channel.
//
// Both bearers share one contract. Open is asynchronous and completes with
// an EventChannelOpened carrying the negotiated MTU. A message is composed
// in a Buffer obtained from Reserve and handed back with SendPrepared. At
// most one write is in flight per channel; SendPrepared returns ErrBusy
// until it completes, and RequestSendReady registers a one-shot
// EventSendReady for the moment the channel can accept the next message.
//
// Events are delivered in order on a goroutine owned by the bearer, never
// while a bearer lock is held, so handlers may call back into the bearer.
package bearer

import "sync"

// Event is a notification from a bearer to its owner.
type Event struct {
	Type    EventType
	Kind    Kind
	Channel ChannelID

	// Err is set on a failed EventChannelOpened and on an
	// EventChannelClosed caused by a transport error.
	Err error

	// MTU and Link are set on a successful EventChannelOpened.
	MTU  int
	Link LinkHandle

	// Data holds one inbound message for EventData.
	Data []byte
}

// EventHandler receives bearer events.
type EventHandler func(Event)

// Bearer is one lower transport.
type Bearer interface {
	Kind() Kind
	SetEventHandler(h EventHandler)
	Open(peer Address, endpoint uint16) (ChannelID, error)
	Close(ch ChannelID) error
	Reserve() (*Buffer, error)
	SendPrepared(ch ChannelID, buf *Buffer, n int) error
	RequestSendReady(ch ChannelID) error
	Stop() error
}

var (
	_ Bearer = (*StreamBearer)(nil)
	_ Bearer = (*PacketBearer)(nil)
)

// Buffer is the bearer's single outgoing message buffer, lent to one
// message at a time. It is consumed by a successful SendPrepared; on any
// other path the holder must call Release.
type Buffer struct {
	owner    *SendSlot
	data     []byte
	released bool
}

// Bytes returns the writable region. Its length is the bearer MTU.
// The slice must not be used after the buffer is released.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release returns the buffer to its bearer. Calling it twice is a no-op.
func (b *Buffer) Release() {
	b.owner.release(b)
}

// SendSlot owns a bearer's outgoing buffer and tracks the one outstanding
// Buffer lent from it. Bearer implementations outside this package use it
// to satisfy Reserve and to validate buffers passed to SendPrepared.
type SendSlot struct {
	mu   sync.Mutex
	data []byte
	held *Buffer
}

// NewSendSlot allocates a slot with a buffer of size bytes.
func NewSendSlot(size int) *SendSlot {
	return &SendSlot{data: make([]byte, size)}
}

// Reserve lends out the buffer. It fails with ErrBufferInUse while a
// previous Buffer is neither sent nor released.
func (s *SendSlot) Reserve() (*Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held != nil {
		return nil, ErrBufferInUse
	}
	s.held = &Buffer{owner: s, data: s.data}
	return s.held, nil
}

func (s *SendSlot) release(b *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	if s.held == b {
		s.held = nil
	}
}

// Check verifies that b is the live buffer of this slot.
func (s *SendSlot) Check(b *Buffer) error {
	if b == nil || b.owner != s {
		return ErrForeignBuffer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.released {
		return ErrBufferReleased
	}
	return nil
}
