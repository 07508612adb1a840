package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// MemoryResolver is an in-process mDNS registry. Simulated devices publish
// their operational record into it and a Resolver configured with it finds
// them without network I/O.
type MemoryResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
	lookups  int
}

// NewMemoryResolver creates an empty registry.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService registers an entry under service, replacing any entry
// with the same instance name.
func (m *MemoryResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.services[service]
	for i, e := range list {
		if e.Instance == entry.Instance {
			list[i] = entry
			return
		}
	}
	m.services[service] = append(list, entry)
}

// RemoveService drops the instance from service.
func (m *MemoryResolver) RemoveService(service, instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.services[service]
	for i, e := range list {
		if e.Instance == instance {
			m.services[service] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// LookupCount returns how many lookups have been served.
func (m *MemoryResolver) LookupCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}

// Lookup implements MDNSResolver.
func (m *MemoryResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.Lock()
	m.lookups++
	var match *zeroconf.ServiceEntry
	for _, e := range m.services[service] {
		if e.Instance == instance {
			match = e
			break
		}
	}
	m.mu.Unlock()

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

// OperationalServiceEntry builds the _matter._tcp entry a node advertises
// once it is on the operational network.
func OperationalServiceEntry(compressedFabricID [fabric.CompressedFabricIDSize]byte, nodeID fabric.NodeID, port int, ips []net.IP, txt OperationalTXT) *zeroconf.ServiceEntry {
	instance := OperationalInstanceName(compressedFabricID, nodeID)
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  ServiceOperational,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     txt.Encode(),
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			entry.AddrIPv4 = append(entry.AddrIPv4, ip)
		} else {
			entry.AddrIPv6 = append(entry.AddrIPv6, ip)
		}
	}
	return entry
}

var _ MDNSResolver = (*MemoryResolver)(nil)
