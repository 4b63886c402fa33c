package bearer

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/backkem/goep/pkg/obex"
	"github.com/pion/logging"
)

// DefaultPacketMTU is the default datagram payload limit.
const DefaultPacketMTU = 1024

// ResolveFunc maps a peer and endpoint to a remote datagram address.
type ResolveFunc func(peer Address, endpoint uint16) (net.Addr, error)

// UDPResolver returns a ResolveFunc that maps a peer address to a host with
// lookup and uses the endpoint as the UDP port.
func UDPResolver(lookup func(peer Address) (string, error)) ResolveFunc {
	return func(peer Address, endpoint uint16) (net.Addr, error) {
		host, err := lookup(peer)
		if err != nil {
			return nil, err
		}
		return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(endpoint))))
	}
}

// PacketConfig configures a PacketBearer.
type PacketConfig struct {
	// Conn is the shared datagram socket.
	// Required.
	Conn net.PacketConn

	// Resolve maps (peer, endpoint) to the remote address of a channel.
	// Required.
	Resolve ResolveFunc

	// MTU is the largest datagram sent or accepted (default: DefaultPacketMTU).
	MTU int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// PacketBearer multiplexes channels over one net.PacketConn. Each datagram
// is exactly one OBEX message and channels are told apart by remote address.
type PacketBearer struct {
	core
	conn    net.PacketConn
	resolve ResolveFunc

	// remotes is guarded by core.mu.
	remotes map[string]*channel
}

// NewPacketBearer creates a packet bearer. Call Start before Open.
func NewPacketBearer(config PacketConfig) (*PacketBearer, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	if config.Resolve == nil {
		return nil, ErrNoResolver
	}
	if config.MTU <= 0 || config.MTU > obex.MaxPacketLength {
		config.MTU = DefaultPacketMTU
	}
	if config.MTU < obex.MinPacketLength {
		return nil, ErrInvalidMTU
	}

	p := &PacketBearer{
		conn:    config.Conn,
		resolve: config.Resolve,
		remotes: make(map[string]*channel),
	}

	var log logging.LeveledLogger
	if config.LoggerFactory != nil {
		log = config.LoggerFactory.NewLogger("bearer-packet")
	}
	p.init(KindPacket, config.MTU, log)

	return p, nil
}

// Start begins the read loop and enables Open.
func (p *PacketBearer) Start() error {
	if err := p.core.Start(); err != nil {
		return err
	}
	p.spawn(p.readLoop)
	return nil
}

// Stop closes all channels and the datagram socket.
// It must not be called from an event handler.
func (p *PacketBearer) Stop() error {
	return p.stop(func() {
		// Unblock any pending ReadFrom.
		p.conn.SetReadDeadline(time.Now())
		p.conn.Close()
	})
}

// LocalAddr returns the local address of the datagram socket.
func (p *PacketBearer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Open resolves the remote address for endpoint on peer and binds a
// channel to it. Completion is reported with EventChannelOpened.
func (p *PacketBearer) Open(peer Address, endpoint uint16) (ChannelID, error) {
	return p.newChannel(peer, endpoint, nil, p.connect)
}

func (p *PacketBearer) connect(c *channel) {
	addr, err := p.resolve(c.peer, c.endpoint)
	if err != nil {
		p.failOpen(c, err)
		return
	}
	key := addr.String()

	write := func(b []byte) error {
		_, err := p.conn.WriteTo(b, addr)
		return err
	}
	register := func() (func(), error) {
		if _, used := p.remotes[key]; used {
			return nil, ErrAddressInUse
		}
		p.remotes[key] = c
		return func() { delete(p.remotes, key) }, nil
	}
	p.establish(c, p.mtu, write, nil, register)
}

func (p *PacketBearer) readLoop() {
	buf := make([]byte, obex.MaxPacketLength)

	for {
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			if p.isClosed() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if p.log != nil {
				p.log.Warnf("packet read error: %v", err)
			}
			p.closeAll(err)
			return
		}
		if n == 0 {
			continue
		}
		if n > p.mtu {
			if p.log != nil {
				p.log.Warnf("dropping %d byte datagram from %v: exceeds mtu %d", n, addr, p.mtu)
			}
			continue
		}

		p.mu.Lock()
		c := p.remotes[addr.String()]
		p.mu.Unlock()
		if c == nil {
			if p.log != nil {
				p.log.Debugf("dropping %d bytes from unknown source %v", n, addr)
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		p.deliver(c, data)
	}
}

func (p *PacketBearer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// closeAll closes every channel after the shared socket failed.
func (p *PacketBearer) closeAll(err error) {
	p.mu.Lock()
	open := make([]*channel, 0, len(p.channels))
	for _, c := range p.channels {
		open = append(open, c)
	}
	p.mu.Unlock()

	for _, c := range open {
		p.closeChannel(c, err)
	}
}
