package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/backkem/goep/pkg/discovery"
	"github.com/backkem/goep/pkg/goep"
	"github.com/backkem/goep/pkg/obex"
	"github.com/pion/logging"
)

var (
	errNoPeer       = errors.New("no peer configured (use --peer or the peer config key)")
	errNoHost       = errors.New("no host known for peer")
	errSessionEnded = errors.New("session closed by peer")
)

// hostTable maps peers to network hosts. Entries come from the config
// and from DNS-SD results.
type hostTable struct {
	mu    sync.RWMutex
	hosts map[bearer.Address]string
}

func newHostTable(initial map[bearer.Address]string) *hostTable {
	t := &hostTable{hosts: make(map[bearer.Address]string, len(initial))}
	for k, v := range initial {
		t.hosts[k] = v
	}
	return t
}

func (t *hostTable) lookup(peer bearer.Address) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	host, ok := t.hosts[peer]
	if !ok || host == "" {
		return "", fmt.Errorf("%w %s", errNoHost, peer)
	}
	return host, nil
}

func (t *hostTable) remember(peer bearer.Address, host string) {
	if host == "" {
		return
	}
	t.mu.Lock()
	t.hosts[peer] = host
	t.mu.Unlock()
}

// hostRecorder stores the host of every successful query before
// completing it, so the dialer can reach the service it found.
type hostRecorder struct {
	discovery.Resolver
	hosts *hostTable
}

func (r hostRecorder) Query(ctx context.Context, peer bearer.Address, service discovery.ServiceID, done func(discovery.Result, error)) error {
	return r.Resolver.Query(ctx, peer, service, func(res discovery.Result, err error) {
		if err == nil {
			r.hosts.remember(peer, res.Host)
		}
		done(res, err)
	})
}

// runner owns the bearer stack and engine client of one command.
type runner struct {
	peer     bearer.Address
	log      logging.LeveledLogger
	hosts    *hostTable
	resolver discovery.Resolver
	sel      *bearer.Selector
	client   *goep.Client
	events   chan goep.Event
	cleanup  []func()
}

func newRunner(cfg Config, lf logging.LoggerFactory) (*runner, error) {
	if cfg.Peer == "" {
		return nil, errNoPeer
	}
	peer, err := bearer.ParseAddress(cfg.Peer)
	if err != nil {
		return nil, err
	}

	r := &runner{
		peer:   peer,
		hosts:  newHostTable(cfg.Hosts),
		events: make(chan goep.Event, 64),
	}
	if lf != nil {
		r.log = lf.NewLogger("goep-cli")
	}

	switch cfg.Discovery {
	case discoveryDNSSD:
		d := discovery.NewDNSSD(discovery.DNSSDConfig{
			LookupTimeout: cfg.Timeout,
			LoggerFactory: lf,
		})
		r.cleanup = append(r.cleanup, func() { d.Close() })
		r.resolver = hostRecorder{Resolver: d, hosts: r.hosts}
	default:
		static := discovery.NewStatic()
		for service, ep := range cfg.Endpoints {
			static.Add(peer, service, discovery.Result{Endpoint: ep})
		}
		r.resolver = static
	}

	if err := r.startBearers(cfg, lf); err != nil {
		r.close()
		return nil, err
	}

	kind := bearer.KindStream
	if cfg.Bearer == bearerPacket {
		kind = bearer.KindPacket
	}
	r.client, err = goep.NewClient(goep.ClientConfig{
		Bearers:       r.sel,
		Resolver:      r.resolver,
		BearerKind:    kind,
		LoggerFactory: lf,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	if err := r.client.Start(); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *runner) startBearers(cfg Config, lf logging.LoggerFactory) error {
	var selCfg bearer.SelectorConfig
	switch cfg.Bearer {
	case bearerPacket:
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		pb, err := bearer.NewPacketBearer(bearer.PacketConfig{
			Conn:          conn,
			Resolve:       bearer.UDPResolver(r.hosts.lookup),
			MTU:           cfg.MTU,
			LoggerFactory: lf,
		})
		if err != nil {
			conn.Close()
			return err
		}
		selCfg.Packet = pb
	default:
		sb, err := bearer.NewStreamBearer(bearer.StreamConfig{
			Dial:          bearer.TCPDialer(r.hosts.lookup),
			MTU:           cfg.MTU,
			DialTimeout:   cfg.Timeout,
			LoggerFactory: lf,
		})
		if err != nil {
			return err
		}
		selCfg.Stream = sb
	}

	sel, err := bearer.NewSelector(selCfg)
	if err != nil {
		return err
	}
	if err := sel.Start(); err != nil {
		return err
	}
	r.sel = sel
	return nil
}

func (r *runner) close() {
	if r.client != nil {
		r.client.Close()
	}
	if r.sel != nil {
		r.sel.Stop()
	}
	for _, fn := range r.cleanup {
		fn()
	}
}

func (r *runner) handle(ev goep.Event) {
	r.events <- ev
}

// wait returns the next event of type typ. A close of the session fails
// the wait.
func (r *runner) wait(ctx context.Context, typ goep.EventType) (goep.Event, error) {
	for {
		select {
		case ev := <-r.events:
			if ev.Type == typ {
				return ev, nil
			}
			if ev.Type == goep.EventClosed {
				return ev, errSessionEnded
			}
			if r.log != nil {
				r.log.Debugf("skipping %s event while waiting for %s", ev.Type, typ)
			}
		case <-ctx.Done():
			return goep.Event{}, fmt.Errorf("waiting for %s: %w", typ, ctx.Err())
		}
	}
}

// open resolves service on the peer and waits for the channel.
func (r *runner) open(ctx context.Context, service discovery.ServiceID) (goep.Handle, error) {
	h, err := r.client.Open(ctx, r.handle, r.peer, service)
	if err != nil {
		return 0, err
	}
	ev, err := r.wait(ctx, goep.EventOpened)
	if err != nil {
		return 0, err
	}
	if ev.Status != goep.StatusSuccess {
		return 0, fmt.Errorf("open %s on %s: %s", service, r.peer, ev.Status)
	}
	if r.log != nil {
		r.log.Infof("session %d open to %s (mtu %d)", h, r.peer, r.client.MTU(h))
	}
	return h, nil
}

// do builds a request with build, sends it and parses the response.
func (r *runner) do(ctx context.Context, h goep.Handle, build func() error) (*obex.Response, error) {
	if err := build(); err != nil {
		r.client.DiscardRequest(h)
		return nil, err
	}
	for {
		_, err := r.client.Execute(h)
		if err == nil {
			break
		}
		if !errors.Is(err, bearer.ErrBusy) {
			return nil, err
		}
		if err := r.client.RequestSendReady(h); err != nil {
			return nil, err
		}
		if _, err := r.wait(ctx, goep.EventSendReady); err != nil {
			return nil, err
		}
	}

	ev, err := r.wait(ctx, goep.EventData)
	if err != nil {
		return nil, err
	}
	return r.client.ParseResponse(h, ev.Data)
}

// connect sends an OBEX Connect and records the connection id.
func (r *runner) connect(ctx context.Context, h goep.Handle, target []byte) (*obex.Response, error) {
	resp, err := r.do(ctx, h, func() error {
		if err := r.client.CreateConnectRequest(h, obex.Version, 0, obex.MaxPacketLength); err != nil {
			return err
		}
		if len(target) > 0 {
			return r.client.AddHeaderTarget(h, target)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if !resp.Code.IsSuccess() {
		return resp, fmt.Errorf("connect: %s", resp.Code)
	}
	if id, ok := resp.ConnectionID(); ok {
		r.client.SetConnectionID(h, id)
	}
	return resp, nil
}

// disconnect ends the OBEX session and closes the channel. Errors are
// logged only.
func (r *runner) disconnect(ctx context.Context, h goep.Handle) {
	if _, err := r.do(ctx, h, func() error { return r.client.CreateDisconnectRequest(h) }); err != nil && r.log != nil {
		r.log.Debugf("obex disconnect: %v", err)
	}
	if r.client.State(h) == goep.StateIdle {
		return
	}
	if err := r.client.Disconnect(h); err != nil {
		if r.log != nil {
			r.log.Debugf("disconnect: %v", err)
		}
		return
	}
	if _, err := r.wait(ctx, goep.EventClosed); err != nil && r.log != nil {
		r.log.Debugf("waiting for close: %v", err)
	}
}
