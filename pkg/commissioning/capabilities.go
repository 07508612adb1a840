package commissioning

import (
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// NetworkInterface describes one network commissioning interface of the device.
type NetworkInterface struct {
	// Supported is false when the device has no such interface.
	Supported bool
	Endpoint  fabric.EndpointID
	// MinConnectionTime is the device-declared ConnectMaxTimeSeconds.
	MinConnectionTime time.Duration
	MaxScanTime       time.Duration
}

// endpoint returns the interface endpoint, or EndpointInvalid when absent.
func (n NetworkInterface) endpoint() fabric.EndpointID {
	if !n.Supported {
		return fabric.EndpointInvalid
	}
	return n.Endpoint
}

// ICDInfo is what ReadCommissioningInfo learned from the ICD Management cluster.
type ICDInfo struct {
	IsLIT                  bool
	CheckInProtocolSupport bool
	IdleModeDuration       time.Duration
	ActiveModeDuration     time.Duration
}

// DeviceCapabilities is the snapshot read from the device during
// ReadCommissioningInfo. The flow stores it once and clears it at cleanup.
type DeviceCapabilities struct {
	VendorID  fabric.VendorID
	ProductID uint16

	// Breadcrumb is non-zero when an earlier attempt left the fail-safe armed.
	Breadcrumb                 uint64
	RecommendedFailsafeSeconds uint16

	DefaultRegulatoryLocation    RegulatoryLocation
	LocationCapability           RegulatoryLocation
	SupportsConcurrentConnection bool

	RequiresUTC               bool
	RequiresTimeZone          bool
	RequiresDSTOffsets        bool
	RequiresDefaultNTP        bool
	RequiresTrustedTimeSource bool
	MaxTimeZoneListSize       uint8
	MaxDSTOffsetListSize      uint8

	WiFi     NetworkInterface
	Thread   NetworkInterface
	Ethernet NetworkInterface

	ICD ICDInfo

	// MatchingFabricNodeID is the node id under which the device already
	// knows the commissioner's fabric, or NodeIDUnspecified.
	MatchingFabricNodeID fabric.NodeID
}
