// Package fabric holds the identifier types shared by the commissioning
// engine and its collaborators, and derives the compressed fabric
// identifier used by operational discovery.
//
// Matter Specification references:
//   - Section 2.5.1: Fabric References and Fabric Identifier
//   - Section 2.5.5: Node Identifier
//   - Section 4.3.2.2: Compressed Fabric Identifier
package fabric

import "fmt"

// FabricID is a 64-bit fabric identifier.
// The value 0 is reserved and invalid.
type FabricID uint64

// FabricIDInvalid is the reserved invalid fabric ID value.
const FabricIDInvalid FabricID = 0

// IsValid returns true if the fabric ID is valid (non-zero).
func (f FabricID) IsValid() bool {
	return f != FabricIDInvalid
}

// String returns a string representation of the fabric ID.
func (f FabricID) String() string {
	return fmt.Sprintf("FabricID(0x%016X)", uint64(f))
}

// NodeID is a 64-bit node identifier.
// Operational Node IDs are in the range [0x0000_0000_0000_0001, 0xFFFF_FFFE_FFFF_FFFD].
type NodeID uint64

const (
	// NodeIDUnspecified represents an unspecified/undefined node ID.
	NodeIDUnspecified NodeID = 0
	// NodeIDMinOperational is the minimum valid operational node ID.
	NodeIDMinOperational NodeID = 0x0000_0000_0000_0001
	// NodeIDMaxOperational is the maximum valid operational node ID.
	NodeIDMaxOperational NodeID = 0xFFFF_FFFE_FFFF_FFFD
)

// IsOperational returns true if the node ID is a valid operational node ID.
func (n NodeID) IsOperational() bool {
	return n >= NodeIDMinOperational && n <= NodeIDMaxOperational
}

// String returns a string representation of the node ID.
func (n NodeID) String() string {
	return fmt.Sprintf("NodeID(0x%016X)", uint64(n))
}

// VendorID is a 16-bit vendor identifier.
type VendorID uint16

const (
	// VendorIDUnspecified represents an unspecified vendor ID.
	VendorIDUnspecified VendorID = 0
	// VendorIDTestVendor1 is a test vendor ID for development.
	VendorIDTestVendor1 VendorID = 0xFFF1
)

// String returns a string representation of the vendor ID.
func (v VendorID) String() string {
	return fmt.Sprintf("VendorID(0x%04X)", uint16(v))
}

// EndpointID identifies an endpoint on a node.
type EndpointID uint16

const (
	// RootEndpoint is the root (administrative) endpoint.
	RootEndpoint EndpointID = 0
	// EndpointInvalid marks an absent endpoint.
	EndpointInvalid EndpointID = 0xFFFF
)

// IsValid reports whether the endpoint is present.
func (e EndpointID) IsValid() bool {
	return e != EndpointInvalid
}

// Key and identifier sizes.
const (
	// CompressedFabricIDSize is the size of the compressed fabric ID in bytes.
	CompressedFabricIDSize = 8
	// RootPublicKeySize is the uncompressed P-256 public key size (65 bytes).
	RootPublicKeySize = 65
	// IPKSize is the Identity Protection Key size (16 bytes).
	IPKSize = 16
)
