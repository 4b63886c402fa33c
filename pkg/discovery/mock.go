package discovery

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/backkem/goep/pkg/bearer"
	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver answers lookups from registered entries without network
// I/O.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
	err      error
	silent   bool
	lookups  int
}

// NewMockMDNSResolver creates an empty mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers an entry returned by Lookup for service.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered entries.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

// SetError makes subsequent lookups fail with err.
func (m *MockMDNSResolver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSilent makes subsequent lookups report nothing until their context
// ends, like a network where nobody answers.
func (m *MockMDNSResolver) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// Lookups returns the number of Lookup calls so far.
func (m *MockMDNSResolver) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.Lock()
	m.lookups++
	err, silent := m.err, m.silent
	var match *zeroconf.ServiceEntry
	for _, e := range m.services[service] {
		if strings.EqualFold(e.Instance, instance) {
			match = e
			break
		}
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if silent {
		<-ctx.Done()
		return ctx.Err()
	}
	if match == nil {
		return nil
	}

	select {
	case entries <- match:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockOBEXService builds the entry an OBEX server at peer would announce
// on port. With no services listed the entry carries no uuid record and
// matches any service.
func MockOBEXService(peer bearer.Address, port int, ip net.IP, name string, services ...ServiceID) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(peer.Hex(), DefaultServiceType, DefaultDomain)
	entry.HostName = peer.Hex() + "." + DefaultDomain
	entry.Port = port

	if ip != nil {
		if ip.To4() != nil {
			entry.AddrIPv4 = []net.IP{ip}
		} else {
			entry.AddrIPv6 = []net.IP{ip}
		}
	}

	if name != "" {
		entry.Text = append(entry.Text, TXTKeyName+"="+name)
	}
	if len(services) > 0 {
		ids := make([]string, len(services))
		for i, s := range services {
			ids[i] = s.Hex()
		}
		entry.Text = append(entry.Text, TXTKeyServices+"="+strings.Join(ids, ","))
	}
	return entry
}
