package bearer

import (
	"sync"

	"github.com/pion/logging"
)

// firstChannelID is the first dynamically allocated channel id.
const firstChannelID ChannelID = 0x0040

// channel is one open or opening channel on a bearer.
// All fields except write are guarded by core.mu.
type channel struct {
	id       ChannelID
	peer     Address
	endpoint uint16
	link     LinkHandle
	mtu      int

	open          bool
	closed        bool
	busy          bool
	wantSendReady bool

	done chan struct{}
	out  chan []byte

	write      func([]byte) error
	closer     func()
	unregister func()
}

// core implements the parts of the Bearer contract common to both
// transports: channel bookkeeping, the send slot, flow control and
// ordered event delivery.
type core struct {
	kind   Kind
	mtu    int
	log    logging.LeveledLogger
	events *eventQueue
	buf    *SendSlot
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[ChannelID]*channel
	nextID   ChannelID
	nextLink LinkHandle
	started  bool
	closed   bool
}

func (b *core) init(kind Kind, mtu int, log logging.LeveledLogger) {
	b.kind = kind
	b.mtu = mtu
	b.log = log
	b.events = newEventQueue()
	b.buf = NewSendSlot(mtu)
	b.channels = make(map[ChannelID]*channel)
	b.nextID = firstChannelID - 1
}

// Kind returns the bearer kind.
func (b *core) Kind() Kind {
	return b.kind
}

// MTU returns the largest message the bearer will send.
func (b *core) MTU() int {
	return b.mtu
}

// SetEventHandler sets the event sink. It may be changed at any time.
func (b *core) SetEventHandler(h EventHandler) {
	b.events.setHandler(h)
}

// Start enables Open.
func (b *core) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	if b.log != nil {
		b.log.Infof("starting %s bearer (mtu %d)", b.kind, b.mtu)
	}
	return nil
}

// stop closes every channel, runs release to unblock transport reads,
// waits for the bearer goroutines and drains the event queue.
func (b *core) stop(release func()) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	open := make([]*channel, 0, len(b.channels))
	for _, c := range b.channels {
		open = append(open, c)
	}
	b.mu.Unlock()

	if b.log != nil {
		b.log.Infof("stopping %s bearer", b.kind)
	}

	for _, c := range open {
		b.closeChannel(c, nil)
	}
	if release != nil {
		release()
	}
	b.wg.Wait()
	b.events.stop()
	return nil
}

// spawnLocked runs fn on a tracked goroutine. Callers hold b.mu.
func (b *core) spawnLocked(fn func()) bool {
	if b.closed {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

func (b *core) spawn(fn func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spawnLocked(fn)
}

// newChannel registers an opening channel and starts connect on a tracked
// goroutine. closer aborts the connect attempt.
func (b *core) newChannel(peer Address, endpoint uint16, closer func(), connect func(*channel)) (ChannelID, error) {
	if endpoint == 0 {
		return 0, ErrInvalidEndpoint
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if !b.started {
		return 0, ErrNotStarted
	}

	c := &channel{
		id:       b.allocateIDLocked(),
		peer:     peer,
		endpoint: endpoint,
		done:     make(chan struct{}),
		out:      make(chan []byte, 1),
		closer:   closer,
	}
	b.channels[c.id] = c

	if b.log != nil {
		b.log.Debugf("opening channel 0x%04X to %s endpoint %d", c.id, peer, endpoint)
	}

	b.spawnLocked(func() { connect(c) })
	return c.id, nil
}

func (b *core) allocateIDLocked() ChannelID {
	for {
		b.nextID++
		if b.nextID < firstChannelID {
			b.nextID = firstChannelID
		}
		if _, used := b.channels[b.nextID]; !used {
			return b.nextID
		}
	}
}

// establish marks c open and emits EventChannelOpened. register, if set,
// runs under the bearer lock and may veto the channel. It returns false if
// the channel was closed while connecting or was vetoed.
func (b *core) establish(c *channel, mtu int, write func([]byte) error, closer func(), register func() (func(), error)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return false
	}
	if register != nil {
		unregister, err := register()
		if err != nil {
			b.failLocked(c, err)
			return false
		}
		c.unregister = unregister
	}

	if mtu <= 0 || mtu > b.mtu {
		mtu = b.mtu
	}
	b.nextLink++
	c.link = b.nextLink
	c.mtu = mtu
	c.write = write
	c.closer = closer
	c.open = true

	b.spawnLocked(func() { b.writeLoop(c) })

	if b.log != nil {
		b.log.Infof("channel 0x%04X open to %s (mtu %d)", c.id, c.peer, mtu)
	}
	b.events.push(Event{
		Type:    EventChannelOpened,
		Kind:    b.kind,
		Channel: c.id,
		MTU:     mtu,
		Link:    c.link,
	})
	return true
}

// failOpen completes a connect attempt with an error.
func (b *core) failOpen(c *channel, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return
	}
	b.failLocked(c, err)
}

func (b *core) failLocked(c *channel, err error) {
	c.closed = true
	delete(b.channels, c.id)
	close(c.done)

	if b.log != nil {
		b.log.Warnf("channel 0x%04X to %s failed: %v", c.id, c.peer, err)
	}
	b.events.push(Event{
		Type:    EventChannelOpened,
		Kind:    b.kind,
		Channel: c.id,
		Err:     err,
	})
}

// closeChannel tears c down and emits EventChannelClosed exactly once.
func (b *core) closeChannel(c *channel, err error) {
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	delete(b.channels, c.id)
	close(c.done)
	if c.unregister != nil {
		c.unregister()
	}
	closer := c.closer

	if b.log != nil {
		if err != nil {
			b.log.Warnf("channel 0x%04X closed: %v", c.id, err)
		} else {
			b.log.Debugf("channel 0x%04X closed", c.id)
		}
	}
	b.events.push(Event{
		Type:    EventChannelClosed,
		Kind:    b.kind,
		Channel: c.id,
		Err:     err,
	})
	b.mu.Unlock()

	if closer != nil {
		closer()
	}
}

// Close closes a channel. The close is confirmed by EventChannelClosed.
func (b *core) Close(ch ChannelID) error {
	b.mu.Lock()
	c, ok := b.channels[ch]
	b.mu.Unlock()
	if !ok {
		return ErrChannelNotFound
	}

	b.closeChannel(c, nil)
	return nil
}

// Reserve lends out the send buffer.
func (b *core) Reserve() (*Buffer, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return b.buf.Reserve()
}

// SendPrepared queues the first n bytes of buf on channel ch. On success
// the buffer is released; on error it stays with the caller.
func (b *core) SendPrepared(ch ChannelID, buf *Buffer, n int) error {
	if err := b.buf.Check(buf); err != nil {
		return err
	}
	if n <= 0 {
		return ErrInvalidLength
	}

	b.mu.Lock()
	c, ok := b.channels[ch]
	if !ok || !c.open {
		b.mu.Unlock()
		return ErrChannelNotFound
	}
	if n > c.mtu || n > len(buf.data) {
		b.mu.Unlock()
		return ErrMessageTooLarge
	}
	if c.busy {
		b.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.out <- append([]byte(nil), buf.data[:n]...)
	b.mu.Unlock()

	buf.Release()
	return nil
}

// RequestSendReady registers a one-shot EventSendReady for ch. If the
// channel is idle the event is queued immediately.
func (b *core) RequestSendReady(ch ChannelID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.channels[ch]
	if !ok || !c.open {
		return ErrChannelNotFound
	}
	if c.busy {
		c.wantSendReady = true
		return nil
	}
	b.events.push(Event{Type: EventSendReady, Kind: b.kind, Channel: c.id})
	return nil
}

func (b *core) writeLoop(c *channel) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			err := c.write(data)
			if err != nil {
				b.closeChannel(c, err)
				return
			}
			b.writeDone(c)
		}
	}
}

func (b *core) writeDone(c *channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.busy = false
	if c.wantSendReady && !c.closed {
		c.wantSendReady = false
		b.events.push(Event{Type: EventSendReady, Kind: b.kind, Channel: c.id})
	}
}

func (b *core) deliver(c *channel, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return
	}
	b.events.push(Event{Type: EventData, Kind: b.kind, Channel: c.id, Data: data})
}
