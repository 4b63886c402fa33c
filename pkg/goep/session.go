package goep

import (
	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
	"github.com/backkem/goep/pkg/obex"
)

// Session is the context of one GOEP session. Its fields are guarded by
// the owning Client's lock; use the Client accessors to read them.
type Session struct {
	handle  Handle
	state   State
	handler Handler

	peer    bearer.Address
	link    bearer.LinkHandle
	service discovery.ServiceID

	// Bearer binding. kind is fixed at creation.
	kind     bearer.Kind
	endpoint uint16
	channel  bearer.ChannelID
	mtu      int

	// OBEX request state.
	pendingOpcode obex.Opcode
	connID        uint32
	hasConnID     bool

	// peerMax is the server's maximum packet length from the Connect
	// response, 0 until one is parsed.
	peerMax int

	// The request under construction, if any. buf is lent by the bearer
	// until Execute succeeds or the request is discarded.
	buf         *bearer.Buffer
	builder     *obex.Builder
	connIDAdded bool
	prevOpcode  obex.Opcode

	sendReadyPending bool
}

func newSession(h Handle, handler Handler, peer bearer.Address, kind bearer.Kind) *Session {
	return &Session{
		handle:  h,
		state:   StateIdle,
		handler: handler,
		peer:    peer,
		kind:    kind,
	}
}

// releaseRequest drops the unsent request under construction, returns its
// buffer to the bearer and restores the opcode of the last sent request.
func (s *Session) releaseRequest() {
	if s.builder != nil {
		s.pendingOpcode = s.prevOpcode
	}
	if s.buf != nil {
		s.buf.Release()
	}
	s.buf = nil
	s.builder = nil
	s.connIDAdded = false
}

// reset clears per-connection state when the session returns to idle.
func (s *Session) reset() {
	s.releaseRequest()
	s.state = StateIdle
	s.sendReadyPending = false
	s.hasConnID = false
	s.connID = 0
	s.pendingOpcode = 0
	s.mtu = 0
	s.peerMax = 0
}

// limit returns the largest packet a request may grow to: the bearer MTU,
// lowered to the server's maximum once the Connect response is parsed.
func (s *Session) limit() int {
	if s.peerMax > 0 && s.peerMax < s.mtu {
		return s.peerMax
	}
	return s.mtu
}
