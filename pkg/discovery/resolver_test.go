package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

var (
	testCFID   = [8]byte{0x87, 0xE1, 0xB0, 0x04, 0xE2, 0x35, 0xA1, 0x30}
	testNodeID = uint64(0x0000000000000042)
)

func newTestResolver(t *testing.T, m MDNSResolver) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  m,
		LookupTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestLookupOperational(t *testing.T) {
	mem := NewMemoryResolver()
	txt := OperationalTXT{ActiveInterval: 400 * time.Millisecond, ICDMode: ICDModeSIT, ICDSet: true}
	mem.RegisterService(ServiceOperational, OperationalServiceEntry(testCFID, 0x42, 5540,
		[]net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("fd00::20")}, txt))

	r := newTestResolver(t, mem)
	node, err := r.LookupOperational(context.Background(), testCFID, 0x42)
	if err != nil {
		t.Fatalf("LookupOperational() error = %v", err)
	}

	if node.InstanceName != "87E1B004E235A130-0000000000000042" {
		t.Errorf("InstanceName = %q", node.InstanceName)
	}
	if node.CompressedFabricID != testCFID || uint64(node.NodeID) != testNodeID {
		t.Errorf("identity = (%x, %x)", node.CompressedFabricID, node.NodeID)
	}
	if node.Port != 5540 {
		t.Errorf("Port = %d, want 5540", node.Port)
	}
	if len(node.IPs) != 2 || !node.IPs[0].Equal(net.ParseIP("fd00::20")) {
		t.Errorf("IPs = %v, want ULA first", node.IPs)
	}
	if node.TXT.RetransmitInterval() != 400*time.Millisecond {
		t.Errorf("RetransmitInterval = %v", node.TXT.RetransmitInterval())
	}
	if mem.LookupCount() != 1 {
		t.Errorf("LookupCount = %d, want 1", mem.LookupCount())
	}
}

func TestLookupOperationalNotFound(t *testing.T) {
	mem := NewMemoryResolver()
	// same fabric, different node
	mem.RegisterService(ServiceOperational, OperationalServiceEntry(testCFID, 0x43, 5540,
		[]net.IP{net.ParseIP("fd00::1")}, OperationalTXT{}))

	r := newTestResolver(t, mem)
	_, err := r.LookupOperational(context.Background(), testCFID, 0x42)
	if !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("LookupOperational() error = %v, want %v", err, ErrServiceNotFound)
	}
}

func TestLookupOperationalRemoved(t *testing.T) {
	mem := NewMemoryResolver()
	entry := OperationalServiceEntry(testCFID, 0x42, 5540, []net.IP{net.ParseIP("fd00::1")}, OperationalTXT{})
	mem.RegisterService(ServiceOperational, entry)
	mem.RemoveService(ServiceOperational, entry.Instance)

	r := newTestResolver(t, mem)
	if _, err := r.LookupOperational(context.Background(), testCFID, 0x42); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("LookupOperational() error = %v, want %v", err, ErrServiceNotFound)
	}
}

// silentResolver never answers and waits for ctx like a real mDNS query.
type silentResolver struct{}

func (silentResolver) Lookup(ctx context.Context, _, _, _ string, _ chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLookupOperationalTimeout(t *testing.T) {
	r := newTestResolver(t, silentResolver{})

	start := time.Now()
	_, err := r.LookupOperational(context.Background(), testCFID, 0x42)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("LookupOperational() error = %v, want %v", err, ErrTimeout)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("lookup took %v, want about the lookup timeout", elapsed)
	}
}

func TestLookupOperationalCancelled(t *testing.T) {
	r := newTestResolver(t, silentResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.LookupOperational(ctx, testCFID, 0x42)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("LookupOperational() error = %v, want %v", err, context.Canceled)
	}
}

func TestLookupOperationalSkipsBadTXT(t *testing.T) {
	mem := NewMemoryResolver()
	entry := OperationalServiceEntry(testCFID, 0x42, 5540, []net.IP{net.ParseIP("fd00::1")}, OperationalTXT{})
	entry.Text = []string{"ICD=7"}
	mem.RegisterService(ServiceOperational, entry)

	r := newTestResolver(t, mem)
	if _, err := r.LookupOperational(context.Background(), testCFID, 0x42); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("LookupOperational() error = %v, want %v", err, ErrServiceNotFound)
	}
}
