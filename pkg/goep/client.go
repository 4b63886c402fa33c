package goep

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
	"github.com/backkem/goep/pkg/obex"
	"github.com/pion/logging"
)

// Bearers is the bearer routing contract the client drives.
// *bearer.Selector implements it.
type Bearers interface {
	SetEventHandler(h bearer.EventHandler)
	Open(kind bearer.Kind, peer bearer.Address, endpoint uint16) (bearer.ChannelID, error)
	Close(kind bearer.Kind, ch bearer.ChannelID) error
	Reserve(kind bearer.Kind) (*bearer.Buffer, error)
	SendPrepared(kind bearer.Kind, ch bearer.ChannelID, buf *bearer.Buffer, n int) error
	RequestSendReady(kind bearer.Kind, ch bearer.ChannelID) error
}

var _ Bearers = (*bearer.Selector)(nil)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Bearers carries the sessions. Required.
	Bearers Bearers

	// Resolver maps (peer, service) to a bearer endpoint. Required for
	// Open; OpenEndpoint works without it.
	Resolver discovery.Resolver

	// BearerKind selects the bearer new sessions use (default: KindStream).
	BearerKind bearer.Kind

	// MaxSessions limits concurrently active sessions
	// (default: DefaultMaxSessions).
	MaxSessions int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *ClientConfig) applyDefaults() {
	if c.BearerKind == bearer.KindUnknown {
		c.BearerKind = bearer.KindStream
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.Bearers == nil {
		return ErrNoBearers
	}
	if !c.BearerKind.IsValid() {
		return fmt.Errorf("goep: %w: %s", bearer.ErrInvalidKind, c.BearerKind)
	}
	return nil
}

// Client is a GOEP client. It owns the session table and the connection
// state machine of every session.
//
// Collaborator completions are queued and run one at a time. Call Start to
// run them on a background goroutine, or Process to run them inline.
type Client struct {
	bearers  Bearers
	resolver discovery.Resolver
	kind     bearer.Kind
	log      logging.LeveledLogger
	disp     *dispatcher
	sessions *Table

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client and attaches it to the bearers' events.
func NewClient(config ClientConfig) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		bearers:  config.Bearers,
		resolver: config.Resolver,
		kind:     config.BearerKind,
		disp:     newDispatcher(),
		sessions: NewTable(config.MaxSessions),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("goep-client")
	}

	c.bearers.SetEventHandler(c.onBearerEvent)
	return c, nil
}

// Start runs queued completions on a background goroutine.
func (c *Client) Start() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.disp.start() {
		return ErrInvalidState
	}
	return nil
}

// Process runs queued completions on the calling goroutine and returns
// how many ran. It is a no-op after Start and inside a handler.
func (c *Client) Process() int {
	return c.disp.process()
}

// Pending returns the number of queued completions.
func (c *Client) Pending() int {
	return c.disp.pending()
}

// Close closes every open channel and stops the client. No events are
// delivered afterwards. It must not be called from a handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true

	var active []*Session
	c.sessions.ForEach(func(s *Session) { active = append(active, s) })
	for _, s := range active {
		if s.state == StateAwaitingChannelOpen || s.state == StateConnected {
			if err := c.bearers.Close(s.kind, s.channel); err != nil && c.log != nil {
				c.log.Debugf("session %d: closing channel %d: %v", s.handle, s.channel, err)
			}
		}
		c.retireLocked(s)
	}
	c.mu.Unlock()

	c.disp.stop()
	return nil
}

// Open starts a session to service on peer. The handle is returned at once;
// the outcome arrives as one EventOpened. While the session is active a
// further Open fails with ErrAlreadyOpen once MaxSessions is reached.
//
// ctx bounds the discovery lookup only.
func (c *Client) Open(ctx context.Context, handler Handler, peer bearer.Address, service discovery.ServiceID) (Handle, error) {
	if handler == nil {
		return 0, ErrNoHandler
	}
	if c.resolver == nil {
		return 0, ErrNoResolver
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.newSessionLocked(handler, peer)
	if err != nil {
		return 0, err
	}
	s.service = service
	s.state = StateAwaitingDiscovery

	err = c.resolver.Query(ctx, peer, service, func(res discovery.Result, err error) {
		c.disp.post(func() { c.handleDiscovery(s, res, err) })
	})
	if err != nil {
		c.retireLocked(s)
		return 0, fmt.Errorf("goep: starting discovery: %w", err)
	}

	if c.log != nil {
		c.log.Infof("session %d: resolving %s on %s", s.handle, service, peer)
	}
	return s.handle, nil
}

// OpenEndpoint starts a session on a known bearer endpoint, skipping
// discovery. The outcome arrives as one EventOpened.
func (c *Client) OpenEndpoint(handler Handler, peer bearer.Address, endpoint uint16) (Handle, error) {
	if handler == nil {
		return 0, ErrNoHandler
	}
	if endpoint == 0 {
		return 0, ErrInvalidEndpoint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.newSessionLocked(handler, peer)
	if err != nil {
		return 0, err
	}
	s.endpoint = endpoint

	if err := c.openChannelLocked(s); err != nil {
		c.retireLocked(s)
		return 0, fmt.Errorf("goep: opening channel: %w", err)
	}
	return s.handle, nil
}

// Disconnect asks the bearer to close the session's channel. The state is
// unchanged until the bearer confirms with EventClosed.
func (c *Client) Disconnect(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionLocked(h)
	if err != nil {
		return err
	}
	if s.state != StateAwaitingChannelOpen && s.state != StateConnected {
		return fmt.Errorf("%w: disconnect in %s", ErrInvalidState, s.state)
	}
	if err := c.bearers.Close(s.kind, s.channel); err != nil {
		return fmt.Errorf("goep: closing channel: %w", err)
	}
	return nil
}

// SetConnectionID stores the OBEX connection id the server assigned.
// Requests built afterwards carry it as their first header.
func (c *Client) SetConnectionID(h Handle, id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionLocked(h)
	if err != nil {
		return err
	}
	s.connID = id
	s.hasConnID = true
	return nil
}

// ClearConnectionID forgets the connection id.
func (c *Client) ClearConnectionID(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionLocked(h)
	if err != nil {
		return err
	}
	s.connID = 0
	s.hasConnID = false
	return nil
}

// ConnectionID returns the session's connection id, if set.
func (c *Client) ConnectionID(h Handle) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions.Find(h)
	if s == nil || !s.hasConnID {
		return 0, false
	}
	return s.connID, true
}

// PendingOpcode returns the opcode of the request under construction, or
// of the last request sent. The next response is interpreted against it.
func (c *Client) PendingOpcode(h Handle) (obex.Opcode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionLocked(h)
	if err != nil {
		return 0, err
	}
	return s.pendingOpcode, nil
}

// State returns the session's state. Unknown handles are idle.
func (c *Client) State(h Handle) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.sessions.Find(h); s != nil {
		return s.state
	}
	return StateIdle
}

// MTU returns the negotiated bearer payload size, or 0 before the channel
// is open.
func (c *Client) MTU(h Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.sessions.Find(h); s != nil {
		return s.mtu
	}
	return 0
}

// RequestSendReady asks for one EventSendReady when the bearer can accept
// the next request. Repeated calls before the event are coalesced.
func (c *Client) RequestSendReady(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.connectedLocked(h)
	if err != nil {
		return err
	}
	if s.sendReadyPending {
		return nil
	}
	s.sendReadyPending = true
	if err := c.bearers.RequestSendReady(s.kind, s.channel); err != nil {
		s.sendReadyPending = false
		return fmt.Errorf("goep: requesting send ready: %w", err)
	}
	return nil
}

// ParseResponse parses an inbound packet as the response to the pending
// request. A successful Connect response lowers the packet limit of later
// requests to the server's maximum packet length.
func (c *Client) ParseResponse(h Handle, data []byte) (*obex.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionLocked(h)
	if err != nil {
		return nil, err
	}
	resp, err := obex.ParseResponse(s.pendingOpcode, data)
	if err != nil {
		return nil, err
	}
	if s.pendingOpcode == obex.OpcodeConnect && resp.Code.IsSuccess() && resp.MaxPacketLength >= obex.MinPacketLength {
		s.peerMax = int(resp.MaxPacketLength)
	}
	return resp, nil
}

// MaxPacketLength returns the largest request the session can build: the
// bearer MTU, or the server's maximum if that is smaller.
func (c *Client) MaxPacketLength(h Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.sessions.Find(h); s != nil {
		return s.limit()
	}
	return 0
}

func (c *Client) newSessionLocked(handler Handler, peer bearer.Address) (*Session, error) {
	if c.closed {
		return nil, ErrClosed
	}
	h, err := c.sessions.AllocateID()
	if err != nil {
		return nil, err
	}
	s := newSession(h, handler, peer, c.kind)
	if err := c.sessions.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// retireLocked returns s to idle and drops it from the table.
func (c *Client) retireLocked(s *Session) {
	s.reset()
	c.sessions.Remove(s.handle)
}

func (c *Client) sessionLocked(h Handle) (*Session, error) {
	s := c.sessions.Find(h)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (c *Client) connectedLocked(h Handle) (*Session, error) {
	s, err := c.sessionLocked(h)
	if err != nil {
		return nil, err
	}
	if s.state != StateConnected {
		return nil, ErrNotConnected
	}
	return s, nil
}

// openChannelLocked moves s to AwaitingChannelOpen and opens its channel.
func (c *Client) openChannelLocked(s *Session) error {
	s.state = StateAwaitingChannelOpen
	ch, err := c.bearers.Open(s.kind, s.peer, s.endpoint)
	if err != nil {
		return err
	}
	s.channel = ch
	if c.log != nil {
		c.log.Debugf("session %d: opening %s channel %d to %s endpoint %d", s.handle, s.kind, ch, s.peer, s.endpoint)
	}
	return nil
}

// failOpenLocked retires s and returns the failed EventOpened.
func (c *Client) failOpenLocked(s *Session, status Status) Event {
	if c.log != nil {
		c.log.Infof("session %d: open failed: %s", s.handle, status)
	}
	ev := Event{Type: EventOpened, Session: s.handle, Status: status, Peer: s.peer}
	c.retireLocked(s)
	return ev
}

func (c *Client) handleDiscovery(s *Session, res discovery.Result, err error) {
	c.mu.Lock()
	if c.closed || c.sessions.Find(s.handle) != s || s.state != StateAwaitingDiscovery {
		c.mu.Unlock()
		return
	}

	if err != nil || res.Endpoint == 0 {
		if c.log != nil {
			c.log.Debugf("session %d: discovery of %s: endpoint %d, err %v", s.handle, s.service, res.Endpoint, err)
		}
		ev := c.failOpenLocked(s, discoveryStatus(err))
		c.mu.Unlock()
		s.handler(ev)
		return
	}

	s.endpoint = res.Endpoint
	if err := c.openChannelLocked(s); err != nil {
		ev := c.failOpenLocked(s, bearerStatus(err))
		c.mu.Unlock()
		s.handler(ev)
		return
	}
	c.mu.Unlock()
}

func (c *Client) onBearerEvent(ev bearer.Event) {
	c.disp.post(func() { c.handleBearerEvent(ev) })
}

// handleBearerEvent advances the state machine of the session bound to the
// event's channel. Events that do not fit the session's state are dropped.
func (c *Client) handleBearerEvent(ev bearer.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	s := c.sessions.FindByChannel(ev.Kind, ev.Channel)
	if s == nil {
		c.mu.Unlock()
		if c.log != nil {
			c.log.Debugf("dropping %s on %s channel %d: no session", ev.Type, ev.Kind, ev.Channel)
		}
		return
	}

	var out Event
	deliver := false
	state := s.state

	switch ev.Type {
	case bearer.EventChannelOpened:
		if s.state != StateAwaitingChannelOpen {
			break
		}
		if ev.Err != nil {
			out = c.failOpenLocked(s, bearerStatus(ev.Err))
			deliver = true
			break
		}
		s.mtu = ev.MTU
		s.link = ev.Link
		s.state = StateConnected
		out = Event{Type: EventOpened, Session: s.handle, Status: StatusSuccess, Peer: s.peer, Link: s.link}
		deliver = true
		if c.log != nil {
			c.log.Infof("session %d: connected, channel %d, mtu %d", s.handle, s.channel, s.mtu)
		}

	case bearer.EventChannelClosed:
		if c.log != nil {
			c.log.Infof("session %d: channel %d closed (%v)", s.handle, s.channel, ev.Err)
		}
		out = Event{Type: EventClosed, Session: s.handle}
		deliver = true
		c.retireLocked(s)

	case bearer.EventSendReady:
		if s.state != StateConnected || !s.sendReadyPending {
			break
		}
		s.sendReadyPending = false
		out = Event{Type: EventSendReady, Session: s.handle}
		deliver = true

	case bearer.EventData:
		if s.state != StateConnected {
			break
		}
		out = Event{Type: EventData, Session: s.handle, Data: ev.Data}
		deliver = true
	}
	c.mu.Unlock()

	if deliver {
		s.handler(out)
	} else if c.log != nil {
		c.log.Debugf("session %d: ignoring %s in %s", s.handle, ev.Type, state)
	}
}

// statusCoder is implemented by collaborator errors that carry a protocol
// status, such as *discovery.QueryError.
type statusCoder interface {
	Status() uint8
}

func discoveryStatus(err error) Status {
	if err == nil || errors.Is(err, discovery.ErrServiceNotFound) {
		return StatusUnsupportedFeature
	}
	if errors.Is(err, discovery.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return StatusConnectionTimeout
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.Status() != 0 {
		return Status(sc.Status())
	}
	return StatusDiscoveryFailed
}

func bearerStatus(err error) Status {
	var sc statusCoder
	if errors.As(err, &sc) && sc.Status() != 0 {
		return Status(sc.Status())
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return StatusConnectionTimeout
	}
	return StatusConnectionFailed
}
