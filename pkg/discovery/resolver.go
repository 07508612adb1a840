package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// DefaultLookupTimeout is the default timeout for a single lookup.
const DefaultLookupTimeout = 5 * time.Second

// OperationalNode is a resolved _matter._tcp instance.
type OperationalNode struct {
	InstanceName       string
	CompressedFabricID [fabric.CompressedFabricIDSize]byte
	NodeID             fabric.NodeID

	HostName string
	Port     int

	// IPs is sorted by preference.
	IPs []net.IP

	TXT OperationalTXT
}

// PreferredAddr returns the UDP address of the most preferred IP.
func (n *OperationalNode) PreferredAddr() (*net.UDPAddr, error) {
	if len(n.IPs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, n.InstanceName)
	}
	return &net.UDPAddr{IP: n.IPs[0], Port: n.Port}, nil
}

// MDNSResolver is the interface for mDNS service resolution.
//
// Lookup sends the entries matching instance on entries and returns once no
// more will be sent or ctx is done. It must not close entries.
type MDNSResolver interface {
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver()
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

// Lookup forwards zeroconf results until zeroconf closes its channel, which
// it does when ctx is done.
func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, found); err != nil {
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

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// LookupTimeout bounds a lookup when ctx carries no deadline.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver looks up operational Matter nodes via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = &logging.DefaultLoggerFactory{
			Writer:          io.Discard,
			DefaultLogLevel: logging.LogLevelDisabled,
		}
	}

	return &Resolver{
		config:   config,
		resolver: resolver,
		log:      config.LoggerFactory.NewLogger("discovery"),
	}, nil
}

// LookupOperational looks up a specific operational node by compressed fabric ID and node ID.
// A missing node yields ErrServiceNotFound, an expired deadline ErrTimeout.
// Matter Specification Section 4.3.2
func (r *Resolver) LookupOperational(ctx context.Context, compressedFabricID [fabric.CompressedFabricIDSize]byte, nodeID fabric.NodeID) (*OperationalNode, error) {
	instance := OperationalInstanceName(compressedFabricID, nodeID)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}
	// stop the underlying resolver as soon as we have an answer
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		if err := r.resolver.Lookup(ctx, instance, ServiceOperational, DefaultDomain, entries); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Debugf("lookup %s: %v", instance, err)
		}
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				if ctx.Err() != nil {
					return nil, lookupDone(ctx, instance)
				}
				return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, instance)
			}
			if entry == nil || entry.Instance != instance {
				continue
			}
			node, err := entryToOperationalNode(entry)
			if err != nil {
				r.log.Warnf("ignoring %s: %v", instance, err)
				continue
			}
			r.log.Debugf("resolved %s to %s port %d", instance, node.HostName, node.Port)
			return node, nil
		case <-ctx.Done():
			return nil, lookupDone(ctx, instance)
		}
	}
}

func lookupDone(ctx context.Context, instance string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, instance)
	}
	return ctx.Err()
}

// entryToOperationalNode converts a zeroconf.ServiceEntry to an OperationalNode.
func entryToOperationalNode(entry *zeroconf.ServiceEntry) (*OperationalNode, error) {
	cfid, nodeID, err := ParseOperationalInstanceName(entry.Instance)
	if err != nil {
		return nil, err
	}
	txt, err := ParseOperationalTXT(entry.Text)
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0, len(entry.AddrIPv6)+len(entry.AddrIPv4))
	ips = append(ips, entry.AddrIPv6...)
	ips = append(ips, entry.AddrIPv4...)

	return &OperationalNode{
		InstanceName:       entry.Instance,
		CompressedFabricID: cfid,
		NodeID:             nodeID,
		HostName:           entry.HostName,
		Port:               entry.Port,
		IPs:                SortIPsByPreference(ips),
		TXT:                *txt,
	}, nil
}
