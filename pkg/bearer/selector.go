package bearer

import (
	"fmt"
	"sync"
)

// Selector routes bearer operations to the stream or packet bearer by
// Kind. Nothing above the selector needs to know which transport a
// session runs on.
type Selector struct {
	stream Bearer
	packet Bearer

	mu      sync.RWMutex
	started bool
	closed  bool
}

// SelectorConfig configures the bearer selector. At least one bearer is
// required.
type SelectorConfig struct {
	// Stream is the stream bearer, or nil if not available.
	Stream Bearer

	// Packet is the packet bearer, or nil if not available.
	Packet Bearer
}

// NewSelector creates a selector over the configured bearers.
func NewSelector(config SelectorConfig) (*Selector, error) {
	if config.Stream == nil && config.Packet == nil {
		return nil, ErrBearerNotConfigured
	}
	return &Selector{
		stream: config.Stream,
		packet: config.Packet,
	}, nil
}

// Bearer returns the bearer for kind.
func (s *Selector) Bearer(kind Kind) (Bearer, error) {
	var b Bearer
	switch kind {
	case KindStream:
		b = s.stream
	case KindPacket:
		b = s.packet
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoBearer, kind)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBearerNotConfigured, kind)
	}
	return b, nil
}

// Has reports whether a bearer of kind is configured.
func (s *Selector) Has(kind Kind) bool {
	_, err := s.Bearer(kind)
	return err == nil
}

// SetEventHandler installs h on every configured bearer.
func (s *Selector) SetEventHandler(h EventHandler) {
	for _, b := range s.bearers() {
		b.SetEventHandler(h)
	}
}

// Start starts every configured bearer that has a Start method.
func (s *Selector) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	type starter interface{ Start() error }
	var started []Bearer
	for _, b := range s.bearers() {
		st, ok := b.(starter)
		if !ok {
			continue
		}
		if err := st.Start(); err != nil && err != ErrAlreadyStarted {
			for _, prev := range started {
				prev.Stop()
			}
			return fmt.Errorf("starting %s bearer: %w", b.Kind(), err)
		}
		started = append(started, b)
	}
	return nil
}

// Stop stops every configured bearer.
func (s *Selector) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, b := range s.bearers() {
		if err := b.Stop(); err != nil && err != ErrClosed {
			errs = append(errs, fmt.Errorf("stopping %s bearer: %w", b.Kind(), err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Open opens a channel on the bearer for kind.
func (s *Selector) Open(kind Kind, peer Address, endpoint uint16) (ChannelID, error) {
	b, err := s.route(kind)
	if err != nil {
		return 0, err
	}
	return b.Open(peer, endpoint)
}

// Close closes a channel on the bearer for kind.
func (s *Selector) Close(kind Kind, ch ChannelID) error {
	b, err := s.route(kind)
	if err != nil {
		return err
	}
	return b.Close(ch)
}

// Reserve reserves the send buffer of the bearer for kind.
func (s *Selector) Reserve(kind Kind) (*Buffer, error) {
	b, err := s.route(kind)
	if err != nil {
		return nil, err
	}
	return b.Reserve()
}

// SendPrepared sends n bytes of buf on a channel of the bearer for kind.
func (s *Selector) SendPrepared(kind Kind, ch ChannelID, buf *Buffer, n int) error {
	b, err := s.route(kind)
	if err != nil {
		return err
	}
	return b.SendPrepared(ch, buf, n)
}

// RequestSendReady registers a one-shot send-ready notification.
func (s *Selector) RequestSendReady(kind Kind, ch ChannelID) error {
	b, err := s.route(kind)
	if err != nil {
		return err
	}
	return b.RequestSendReady(ch)
}

func (s *Selector) route(kind Kind) (Bearer, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return s.Bearer(kind)
}

func (s *Selector) bearers() []Bearer {
	var out []Bearer
	if s.stream != nil {
		out = append(out, s.stream)
	}
	if s.packet != nil {
		out = append(out, s.packet)
	}
	return out
}
