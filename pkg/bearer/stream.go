package bearer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/backkem/goep/pkg/obex"
	"github.com/pion/logging"
)

const (
	// DefaultStreamMTU is the full OBEX packet length space.
	DefaultStreamMTU = obex.MaxPacketLength

	// DefaultDialTimeout bounds a single channel connect.
	DefaultDialTimeout = 10 * time.Second

	// readBufferSize holds at least one maximum-size packet.
	readBufferSize = 64 * 1024
)

// DialFunc connects to endpoint on peer. It must honor ctx cancellation.
type DialFunc func(ctx context.Context, peer Address, endpoint uint16) (net.Conn, error)

// TCPDialer returns a DialFunc that maps a peer address to a host with
// lookup and uses the endpoint as the TCP port.
func TCPDialer(lookup func(peer Address) (string, error)) DialFunc {
	return func(ctx context.Context, peer Address, endpoint uint16) (net.Conn, error) {
		host, err := lookup(peer)
		if err != nil {
			return nil, err
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(endpoint))))
	}
}

// StreamConfig configures a StreamBearer.
type StreamConfig struct {
	// Dial opens the underlying connection for a channel.
	// Required.
	Dial DialFunc

	// MTU is the largest message this side sends (default: DefaultStreamMTU).
	MTU int

	// DialTimeout bounds each connect attempt (default: DefaultDialTimeout).
	DialTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// StreamBearer runs each channel on its own net.Conn. OBEX packets are
// self-delimiting, so the byte stream carries them back to back.
type StreamBearer struct {
	core
	dial        DialFunc
	dialTimeout time.Duration
}

// NewStreamBearer creates a stream bearer. Call Start before Open.
func NewStreamBearer(config StreamConfig) (*StreamBearer, error) {
	if config.Dial == nil {
		return nil, ErrNoDialer
	}
	if config.MTU <= 0 || config.MTU > obex.MaxPacketLength {
		config.MTU = DefaultStreamMTU
	}
	if config.MTU < obex.MinPacketLength {
		return nil, ErrInvalidMTU
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}

	s := &StreamBearer{
		dial:        config.Dial,
		dialTimeout: config.DialTimeout,
	}

	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("bearer-stream")
	}
	s.init(KindStream, config.MTU, log)

	return s, nil
}

// Open starts connecting a channel to endpoint on peer. Completion is
// reported with EventChannelOpened.
func (s *StreamBearer) Open(peer Address, endpoint uint16) (ChannelID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	id, err := s.newChannel(peer, endpoint, cancel, func(c *channel) {
		defer cancel()
		s.connect(ctx, c)
	})
	if err != nil {
		cancel()
		return 0, err
	}
	return id, nil
}

// Stop closes all channels and waits for the bearer goroutines.
// It must not be called from an event handler.
func (s *StreamBearer) Stop() error {
	return s.stop(nil)
}

func (s *StreamBearer) connect(ctx context.Context, c *channel) {
	conn, err := s.dial(ctx, c.peer, c.endpoint)
	if err != nil {
		s.failOpen(c, err)
		return
	}

	write := func(p []byte) error {
		_, err := conn.Write(p)
		return err
	}
	closer := func() { conn.Close() }
	if !s.establish(c, s.mtu, write, closer, nil) {
		conn.Close()
		return
	}

	s.readLoop(c, conn)
}

func (s *StreamBearer) readLoop(c *channel, conn net.Conn) {
	r := obex.NewPacketReader(bufio.NewReaderSize(conn, readBufferSize), 0)
	for {
		packet, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				err = nil
			}
			s.closeChannel(c, err)
			return
		}

		if s.log != nil {
			s.log.Tracef("channel 0x%04X received %d bytes", c.id, len(packet))
		}
		s.deliver(c, packet)
	}
}
