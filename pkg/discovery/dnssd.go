package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultLookupTimeout bounds a DNS-SD lookup whose context has no deadline.
const DefaultLookupTimeout = 5 * time.Second

// MDNSResolver is the interface for mDNS instance lookup.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Lookup sends matching entries until ctx is done or the backend has
	// nothing more to report. It does not close entries.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct{}

func (zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	// A zeroconf resolver shuts its client down when the lookup context
	// ends, so each lookup gets its own.
	r, err := zeroconf.NewResolver()
	if err != nil {
		return err
	}

	found := make(chan *zeroconf.ServiceEntry)
	if err := r.Lookup(ctx, instance, service, domain, found); err != nil {
		return err
	}

	for {
		select {
		case e, ok := <-found:
			if !ok {
				return nil
			}
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DNSSDConfig configures a DNSSD resolver.
type DNSSDConfig struct {
	// MDNSResolver is the underlying mDNS implementation.
	// If nil, grandcat/zeroconf is used.
	MDNSResolver MDNSResolver

	// ServiceType is the DNS-SD service type (default: DefaultServiceType).
	ServiceType string

	// Domain is the mDNS domain (default: DefaultDomain).
	Domain string

	// LookupTimeout applies when the query context has no deadline
	// (default: DefaultLookupTimeout).
	LookupTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DNSSD resolves OBEX services announced over DNS-SD. The instance name of
// a peer is its address in hex (Address.Hex); the announced port is the
// endpoint.
type DNSSD struct {
	resolver    MDNSResolver
	serviceType string
	domain      string
	timeout     time.Duration
	log         logging.LeveledLogger

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]context.CancelFunc
}

var _ Resolver = (*DNSSD)(nil)

// NewDNSSD creates a DNS-SD resolver.
func NewDNSSD(config DNSSDConfig) *DNSSD {
	if config.MDNSResolver == nil {
		config.MDNSResolver = zeroconfResolver{}
	}
	if config.ServiceType == "" {
		config.ServiceType = DefaultServiceType
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	d := &DNSSD{
		resolver:    config.MDNSResolver,
		serviceType: config.ServiceType,
		domain:      config.Domain,
		timeout:     config.LookupTimeout,
		pending:     make(map[uint64]context.CancelFunc),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("discovery")
	}
	return d
}

// Query implements Resolver.
func (d *DNSSD) Query(ctx context.Context, peer bearer.Address, service ServiceID, done func(Result, error)) error {
	if done == nil {
		return ErrNoCallback
	}
	if !service.IsValid() {
		return ErrInvalidService
	}

	stopTimeout := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, stopTimeout = context.WithTimeout(ctx, d.timeout)
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := func() {
		cancel()
		stopTimeout()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		stop()
		return ErrClosed
	}
	d.nextID++
	id := d.nextID
	d.pending[id] = cancel
	d.mu.Unlock()

	go func() {
		res, err := d.lookup(ctx, peer, service)

		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		stop()

		done(res, err)
	}()
	return nil
}

// Close aborts pending lookups. They complete with a context error.
func (d *DNSSD) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.closed = true
	for _, cancel := range d.pending {
		cancel()
	}
	return nil
}

func (d *DNSSD) lookup(ctx context.Context, peer bearer.Address, service ServiceID) (Result, error) {
	instance := peer.Hex()
	if d.log != nil {
		d.log.Debugf("looking up %s.%s%s for %s", instance, d.serviceType, d.domain, service)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- d.resolver.Lookup(ctx, instance, d.serviceType, d.domain, entries)
	}()

	for {
		select {
		case e := <-entries:
			if e == nil || !strings.EqualFold(e.Instance, instance) {
				continue
			}
			return d.entryToResult(e, service)

		case err := <-errc:
			switch {
			case err == nil:
				return Result{}, ErrServiceNotFound
			case errors.Is(err, context.DeadlineExceeded):
				return Result{}, ErrTimeout
			case errors.Is(err, context.Canceled):
				return Result{}, err
			default:
				return Result{}, &QueryError{Code: StatusQueryFailed, Err: err}
			}

		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Result{}, ErrTimeout
			}
			return Result{}, ctx.Err()
		}
	}
}

// StatusQueryFailed is the status carried by a QueryError when the mDNS
// backend itself failed.
const StatusQueryFailed uint8 = 0x80

func (d *DNSSD) entryToResult(e *zeroconf.ServiceEntry, service ServiceID) (Result, error) {
	txt := parseTXT(e.Text)

	if list, ok := txt[TXTKeyServices]; ok && !serviceListed(list, service) {
		if d.log != nil {
			d.log.Debugf("%s does not serve %s (uuid=%s)", e.Instance, service, list)
		}
		return Result{}, ErrServiceNotFound
	}

	res := Result{
		Name: txt[TXTKeyName],
		Host: e.HostName,
	}
	if e.Port > 0 && e.Port <= 0xFFFF {
		res.Endpoint = uint16(e.Port)
	}

	var ips []net.IP
	ips = append(ips, e.AddrIPv4...)
	ips = append(ips, e.AddrIPv6...)
	if sorted := sortIPsByPreference(ips); len(sorted) > 0 {
		res.Host = sorted[0].String()
	}
	return res, nil
}

// parseTXT parses "key=value" TXT strings. Keys are lower-cased.
func parseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[strings.ToLower(record[:idx])] = record[idx+1:]
		}
	}
	return result
}

func serviceListed(list string, service ServiceID) bool {
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(item)), "0x")
		v, err := strconv.ParseUint(item, 16, 16)
		if err == nil && ServiceID(v) == service {
			return true
		}
	}
	return false
}

// sortIPsByPreference orders addresses for dialing: IPv4, global IPv6,
// unique-local IPv6, link-local, loopback last.
func sortIPsByPreference(ips []net.IP) []net.IP {
	sorted := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip.To16() != nil {
			sorted = append(sorted, ip)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

func ipPriority(ip net.IP) int {
	switch {
	case ip.IsLoopback():
		return 80
	case ip.To4() != nil:
		return 0
	case ip.IsGlobalUnicast() && !isUniqueLocal(ip):
		return 10
	case isUniqueLocal(ip):
		return 11
	case ip.IsLinkLocalUnicast():
		return 20
	default:
		return 50
	}
}

// isUniqueLocal reports fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	return ip != nil && ip.To4() == nil && (ip[0] == 0xfc || ip[0] == 0xfd)
}
