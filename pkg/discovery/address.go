package discovery

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// OperationalInstanceName constructs the DNS-SD instance name for operational discovery.
// Format: "<CompressedFabricID>-<NodeID>" where each is 16 uppercase hex characters.
// Matter Specification Section 4.3.2.1
func OperationalInstanceName(compressedFabricID [fabric.CompressedFabricIDSize]byte, nodeID fabric.NodeID) string {
	cfid := binary.BigEndian.Uint64(compressedFabricID[:])
	return fmt.Sprintf("%016X-%016X", cfid, uint64(nodeID))
}

// ParseOperationalInstanceName splits an instance name into compressed
// fabric ID and node ID. The name must be exactly 16 hex digits, a hyphen and
// 16 hex digits.
func ParseOperationalInstanceName(instanceName string) ([fabric.CompressedFabricIDSize]byte, fabric.NodeID, error) {
	var cfid [fabric.CompressedFabricIDSize]byte
	if len(instanceName) != 33 || instanceName[16] != '-' {
		return cfid, 0, ErrInvalidInstanceName
	}

	hi, err := parseHex64(instanceName[:16])
	if err != nil {
		return cfid, 0, err
	}
	node, err := parseHex64(instanceName[17:])
	if err != nil {
		return cfid, 0, err
	}

	binary.BigEndian.PutUint64(cfid[:], hi)
	return cfid, fabric.NodeID(node), nil
}

func parseHex64(s string) (uint64, error) {
	// ParseUint accepts a leading sign, a hex instance name never has one
	if s[0] == '+' || s[0] == '-' {
		return 0, ErrInvalidInstanceName
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInstanceName, err)
	}
	return v, nil
}

// SortIPsByPreference orders addresses for connection attempts per
// Matter 4.3.2.6: global IPv6, then ULA, then link-local, then IPv4.
// The input slice is not modified.
func SortIPsByPreference(ips []net.IP) []net.IP {
	sorted := append([]net.IP(nil), ips...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 99
	case ip.To4() != nil:
		return 50
	case isUniqueLocal(ip):
		return 1
	case ip.IsGlobalUnicast():
		return 0
	case ip.IsLinkLocalUnicast():
		return 2
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast():
		return 90
	}
	return 10
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (fc00::/7).
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil || ip.To4() != nil {
		return false
	}
	return ip[0]&0xfe == 0xfc
}
