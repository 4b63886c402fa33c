package goep

import (
	"errors"
	"fmt"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/obex"
)

// A request is composed in the bearer's send buffer. One of the Create*
// calls reserves the buffer and writes the opcode; header calls append in
// place; Execute hands the packet to the bearer. Only one request per
// session can be in progress, and the packet never grows past the
// negotiated MTU.

// CreateConnectRequest starts an OBEX Connect request. maxPacketLength is
// clamped to the bearer MTU.
func (c *Client) CreateConnectRequest(h Handle, version, flags uint8, maxPacketLength uint16) error {
	return c.createRequest(h, obex.OpcodeConnect, false, func(s *Session, b *obex.Builder) error {
		if int(maxPacketLength) > s.mtu {
			maxPacketLength = uint16(s.mtu)
		}
		return b.AppendFields(version, flags, byte(maxPacketLength>>8), byte(maxPacketLength))
	})
}

// CreateGetRequest starts a final Get request.
func (c *Client) CreateGetRequest(h Handle) error {
	return c.createRequest(h, obex.OpcodeGet.Final(), true, nil)
}

// CreatePutRequest starts a Put request. final marks the last packet of
// the object.
func (c *Client) CreatePutRequest(h Handle, final bool) error {
	op := obex.OpcodePut
	if final {
		op = op.Final()
	}
	return c.createRequest(h, op, true, nil)
}

// CreateSetPathRequest starts a SetPath request with the given flags
// (obex.SetPathBackup, obex.SetPathNoCreate).
func (c *Client) CreateSetPathRequest(h Handle, flags uint8) error {
	return c.createRequest(h, obex.OpcodeSetPath, true, func(s *Session, b *obex.Builder) error {
		return b.AppendFields(flags, 0)
	})
}

// CreateDisconnectRequest starts an OBEX Disconnect request.
func (c *Client) CreateDisconnectRequest(h Handle) error {
	return c.createRequest(h, obex.OpcodeDisconnect, true, nil)
}

// CreateAbortRequest starts an Abort request.
func (c *Client) CreateAbortRequest(h Handle) error {
	return c.createRequest(h, obex.OpcodeAbort, true, nil)
}

// AddConnectionIDIfSet appends the connection id header if one is set and
// the request does not carry it yet. It must come before any other header.
func (c *Client) AddConnectionIDIfSet(h Handle) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		return addConnectionID(s, b)
	})
}

// AddFixedHeader appends a 1-byte or 4-byte header.
func (c *Client) AddFixedHeader(h Handle, id obex.HeaderID, value []byte) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		return b.AddFixedHeader(id, value)
	})
}

// AddBytesHeader appends a length-prefixed byte sequence header.
func (c *Client) AddBytesHeader(h Handle, id obex.HeaderID, payload []byte) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		return b.AddBytesHeader(id, payload)
	})
}

// AddTextHeader appends a text header in the two-byte-per-character
// encoding.
func (c *Client) AddTextHeader(h Handle, id obex.HeaderID, text string) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		return b.AddTextHeader(id, text)
	})
}

// AddTypeHeader appends a NUL-terminated media type header.
func (c *Client) AddTypeHeader(h Handle, id obex.HeaderID, mime string) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		return b.AddTypeHeader(id, mime)
	})
}

// AddHeaderTarget appends the Target header naming the service.
func (c *Client) AddHeaderTarget(h Handle, target []byte) error {
	return c.AddBytesHeader(h, obex.HeaderTarget, target)
}

// AddHeaderApplicationParameters appends an Application Parameters header.
func (c *Client) AddHeaderApplicationParameters(h Handle, params []byte) error {
	return c.AddBytesHeader(h, obex.HeaderApplicationParameters, params)
}

// AddHeaderName appends the Name header.
func (c *Client) AddHeaderName(h Handle, name string) error {
	return c.AddTextHeader(h, obex.HeaderName, name)
}

// AddHeaderType appends the Type header.
func (c *Client) AddHeaderType(h Handle, mime string) error {
	return c.AddTypeHeader(h, obex.HeaderType, mime)
}

// AddHeaderBody appends an object chunk, as End-of-Body when end is set.
func (c *Client) AddHeaderBody(h Handle, data []byte, end bool) error {
	id := obex.HeaderBody
	if end {
		id = obex.HeaderEndOfBody
	}
	return c.AddBytesHeader(h, id, data)
}

// RequestBytes returns a copy of the request composed so far.
func (c *Client) RequestBytes(h Handle) ([]byte, error) {
	var out []byte
	err := c.withRequest(h, func(s *Session, b *obex.Builder) error {
		out = append([]byte(nil), b.Bytes()...)
		return nil
	})
	return out, err
}

// Execute sends the request and returns its length. If the bearer is still
// sending the previous packet the error wraps bearer.ErrBusy and the
// request is kept; wait for EventSendReady and call Execute again. On any
// other error the request is discarded.
func (c *Client) Execute(h Handle) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.connectedLocked(h)
	if err != nil {
		return 0, err
	}
	if s.builder == nil {
		return 0, ErrNoRequest
	}

	n := s.builder.Len()
	if err := c.bearers.SendPrepared(s.kind, s.channel, s.buf, n); err != nil {
		if !errors.Is(err, bearer.ErrBusy) {
			s.releaseRequest()
		}
		return 0, fmt.Errorf("goep: sending request: %w", err)
	}

	// The bearer consumed the buffer.
	s.buf = nil
	s.builder = nil
	s.connIDAdded = false
	if c.log != nil {
		c.log.Tracef("session %d: sent %s, %d bytes", s.handle, s.pendingOpcode, n)
	}
	return n, nil
}

// DiscardRequest drops the request in progress and returns the buffer to
// the bearer.
func (c *Client) DiscardRequest(h Handle) error {
	return c.withRequest(h, func(s *Session, b *obex.Builder) error {
		s.releaseRequest()
		return nil
	})
}

// createRequest reserves the bearer buffer, writes the opcode and runs fill
// for the opcode-specific fields. withConnID appends the connection id
// header, if set, after the fields.
func (c *Client) createRequest(h Handle, op obex.Opcode, withConnID bool, fill func(*Session, *obex.Builder) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.connectedLocked(h)
	if err != nil {
		return err
	}
	if s.builder != nil {
		return ErrRequestInProgress
	}

	buf, err := c.bearers.Reserve(s.kind)
	if err != nil {
		return fmt.Errorf("goep: reserving send buffer: %w", err)
	}
	b, err := obex.NewBuilder(buf.Bytes(), op, s.limit())
	if err != nil {
		buf.Release()
		return err
	}
	s.buf = buf
	s.builder = b
	s.prevOpcode = s.pendingOpcode

	if fill != nil {
		if err := fill(s, b); err != nil {
			s.releaseRequest()
			return err
		}
	}
	if withConnID {
		if err := addConnectionID(s, b); err != nil {
			s.releaseRequest()
			return err
		}
	}
	s.pendingOpcode = op
	return nil
}

func (c *Client) withRequest(h Handle, fn func(*Session, *obex.Builder) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.connectedLocked(h)
	if err != nil {
		return err
	}
	if s.builder == nil {
		return ErrNoRequest
	}
	return fn(s, s.builder)
}

func addConnectionID(s *Session, b *obex.Builder) error {
	if !s.hasConnID || s.connIDAdded {
		return nil
	}
	if err := b.AddConnectionID(s.connID); err != nil {
		return err
	}
	s.connIDAdded = true
	return nil
}
