package simdevice

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// Profile describes the simulated device. Zero values give a plain
// Ethernet device reached over UDP.
type Profile struct {
	Name      string `yaml:"name"`
	VendorID  uint16 `yaml:"vendor-id"`
	ProductID uint16 `yaml:"product-id"`

	// Transport is the commissioning transport: udp, tcp, ble, wifipaf or nfc.
	Transport string        `yaml:"transport"`
	RoundTrip time.Duration `yaml:"round-trip"`

	// StepLatency delays every step completion. Latency overrides it per
	// stage name.
	StepLatency time.Duration            `yaml:"step-latency"`
	Latency     map[string]time.Duration `yaml:"latency"`

	Breadcrumb                   uint64 `yaml:"breadcrumb"`
	RecommendedFailsafeSeconds   uint16 `yaml:"recommended-failsafe-seconds"`
	LocationCapability           string `yaml:"location-capability"`
	SupportsConcurrentConnection bool   `yaml:"supports-concurrent-connection"`

	WiFi     *NetworkProfile `yaml:"wifi"`
	Thread   *NetworkProfile `yaml:"thread"`
	Ethernet *NetworkProfile `yaml:"ethernet"`

	Time TimeProfile `yaml:"time"`
	ICD  *ICDProfile `yaml:"icd"`

	// Attestation overrides the ids placed in the DAC, to simulate
	// counterfeit or misconfigured devices.
	Attestation AttestationProfile `yaml:"attestation"`

	Operational OperationalProfile `yaml:"operational"`

	// Failures injects step failures.
	Failures []Failure `yaml:"failures"`
}

// NetworkProfile is one network commissioning interface.
type NetworkProfile struct {
	Endpoint       uint16        `yaml:"endpoint"`
	ConnectMaxTime time.Duration `yaml:"connect-max-time"`
	ScanMaxTime    time.Duration `yaml:"scan-max-time"`

	// Networks lists the Wi-Fi SSIDs in range. Empty means any.
	Networks []string `yaml:"networks"`

	// Passphrase, when set, must match the supplied credentials.
	Passphrase string `yaml:"passphrase"`
}

// TimeProfile selects the Time Synchronization features.
type TimeProfile struct {
	RequiresUTC               bool  `yaml:"requires-utc"`
	RequiresTimeZone          bool  `yaml:"requires-time-zone"`
	RequiresDSTOffsets        bool  `yaml:"requires-dst-offsets"`
	RequiresDefaultNTP        bool  `yaml:"requires-default-ntp"`
	RequiresTrustedTimeSource bool  `yaml:"requires-trusted-time-source"`
	MaxTimeZones              uint8 `yaml:"max-time-zones"`
	MaxDSTOffsets             uint8 `yaml:"max-dst-offsets"`
}

// ICDProfile makes the device an Intermittently Connected Device.
type ICDProfile struct {
	LIT                bool          `yaml:"lit"`
	CheckInProtocol    bool          `yaml:"check-in-protocol"`
	IdleModeDuration   time.Duration `yaml:"idle-mode-duration"`
	ActiveModeDuration time.Duration `yaml:"active-mode-duration"`
}

type AttestationProfile struct {
	VendorID  uint16 `yaml:"vendor-id"`
	ProductID uint16 `yaml:"product-id"`
}

// OperationalProfile controls the _matter._tcp advertisement after the
// device joins the operational network.
type OperationalProfile struct {
	Port           int           `yaml:"port"`
	Addresses      []string      `yaml:"addresses"`
	AdvertiseDelay time.Duration `yaml:"advertise-delay"`
	ActiveInterval time.Duration `yaml:"active-interval"`

	// NeverAdvertise simulates a device that fails to come up on the
	// operational network.
	NeverAdvertise bool `yaml:"never-advertise"`
}

// Failure makes a stage fail. Count of zero fails every attempt.
type Failure struct {
	Stage string `yaml:"stage"`
	// Kind is one of busy, network-auth, network-not-found, timeout or error.
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
}

// Failure kinds.
const (
	FailBusy            = "busy"
	FailNetworkAuth     = "network-auth"
	FailNetworkNotFound = "network-not-found"
	FailTimeout         = "timeout"
	FailError           = "error"
)

// Default profile values.
const (
	DefaultVendorID  = uint16(fabric.VendorIDTestVendor1)
	DefaultProductID = 0x8001
	DefaultPort      = 5540
)

// ParseProfile decodes a YAML profile and fills in defaults.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("simdevice: profile: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("simdevice: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) normalize() error {
	if p.Name == "" {
		p.Name = "simulated device"
	}
	if p.VendorID == 0 {
		p.VendorID = DefaultVendorID
	}
	if p.ProductID == 0 {
		p.ProductID = DefaultProductID
	}
	if p.Attestation.VendorID == 0 {
		p.Attestation.VendorID = p.VendorID
	}
	if p.Attestation.ProductID == 0 {
		p.Attestation.ProductID = p.ProductID
	}
	if p.Operational.Port == 0 {
		p.Operational.Port = DefaultPort
	}
	if len(p.Operational.Addresses) == 0 {
		p.Operational.Addresses = []string{"fd00::1"}
	}
	for _, a := range p.Operational.Addresses {
		if net.ParseIP(a) == nil {
			return fmt.Errorf("%w: bad operational address %q", ErrInvalidProfile, a)
		}
	}
	if p.WiFi == nil && p.Thread == nil && p.Ethernet == nil {
		p.Ethernet = &NetworkProfile{}
	}
	if _, err := p.transport(); err != nil {
		return err
	}
	if _, err := p.locationCapability(); err != nil {
		return err
	}
	for name := range p.Latency {
		if _, ok := commissioning.ParseStage(name); !ok {
			return fmt.Errorf("%w: unknown stage %q in latency", ErrInvalidProfile, name)
		}
	}
	for _, f := range p.Failures {
		if _, ok := commissioning.ParseStage(f.Stage); !ok {
			return fmt.Errorf("%w: unknown stage %q in failures", ErrInvalidProfile, f.Stage)
		}
		switch f.Kind {
		case FailBusy, FailNetworkAuth, FailNetworkNotFound, FailTimeout, FailError:
		default:
			return fmt.Errorf("%w: unknown failure kind %q", ErrInvalidProfile, f.Kind)
		}
	}
	return nil
}

func (p Profile) transport() (commissioning.TransportType, error) {
	switch strings.ToLower(p.Transport) {
	case "", "udp":
		return commissioning.TransportUDP, nil
	case "tcp":
		return commissioning.TransportTCP, nil
	case "ble":
		return commissioning.TransportBLE, nil
	case "wifipaf":
		return commissioning.TransportWiFiPAF, nil
	case "nfc":
		return commissioning.TransportNFC, nil
	}
	return 0, fmt.Errorf("%w: unknown transport %q", ErrInvalidProfile, p.Transport)
}

func (p Profile) locationCapability() (commissioning.RegulatoryLocation, error) {
	switch strings.ToLower(p.LocationCapability) {
	case "", "indoor-outdoor":
		return commissioning.RegulatoryIndoorOutdoor, nil
	case "indoor":
		return commissioning.RegulatoryIndoor, nil
	case "outdoor":
		return commissioning.RegulatoryOutdoor, nil
	}
	return 0, fmt.Errorf("%w: unknown location capability %q", ErrInvalidProfile, p.LocationCapability)
}

func (p Profile) latency(stage commissioning.Stage) time.Duration {
	if d, ok := p.Latency[stage.String()]; ok {
		return d
	}
	return p.StepLatency
}

func (n *NetworkProfile) iface() commissioning.NetworkInterface {
	if n == nil {
		return commissioning.NetworkInterface{Endpoint: fabric.EndpointInvalid}
	}
	return commissioning.NetworkInterface{
		Supported:         true,
		Endpoint:          fabric.EndpointID(n.Endpoint),
		MinConnectionTime: n.ConnectMaxTime,
		MaxScanTime:       n.ScanMaxTime,
	}
}

// capabilities is what ReadCommissioningInfo reports.
func (p Profile) capabilities() commissioning.DeviceCapabilities {
	loc, _ := p.locationCapability()
	caps := commissioning.DeviceCapabilities{
		VendorID:                     fabric.VendorID(p.VendorID),
		ProductID:                    p.ProductID,
		Breadcrumb:                   p.Breadcrumb,
		RecommendedFailsafeSeconds:   p.RecommendedFailsafeSeconds,
		DefaultRegulatoryLocation:    commissioning.RegulatoryIndoor,
		LocationCapability:           loc,
		SupportsConcurrentConnection: p.SupportsConcurrentConnection,
		RequiresUTC:                  p.Time.RequiresUTC,
		RequiresTimeZone:             p.Time.RequiresTimeZone,
		RequiresDSTOffsets:           p.Time.RequiresDSTOffsets,
		RequiresDefaultNTP:           p.Time.RequiresDefaultNTP,
		RequiresTrustedTimeSource:    p.Time.RequiresTrustedTimeSource,
		MaxTimeZoneListSize:          p.Time.MaxTimeZones,
		MaxDSTOffsetListSize:         p.Time.MaxDSTOffsets,
		WiFi:                         p.WiFi.iface(),
		Thread:                       p.Thread.iface(),
		Ethernet:                     p.Ethernet.iface(),
		MatchingFabricNodeID:         fabric.NodeIDUnspecified,
	}
	if p.ICD != nil {
		caps.ICD = commissioning.ICDInfo{
			IsLIT:                  p.ICD.LIT,
			CheckInProtocolSupport: p.ICD.CheckInProtocol,
			IdleModeDuration:       p.ICD.IdleModeDuration,
			ActiveModeDuration:     p.ICD.ActiveModeDuration,
		}
	}
	return caps
}

func (p Profile) ips() []net.IP {
	ips := make([]net.IP, 0, len(p.Operational.Addresses))
	for _, a := range p.Operational.Addresses {
		ips = append(ips, net.ParseIP(a))
	}
	return ips
}
