// Package config loads the commissioning configuration file used by the
// matter-commission CLI: the fabric the device joins and the commissioning
// parameters handed to the engine.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// LoadError describes a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// File is the YAML document.
//
//	fabric:
//	  id: 0x1
//	  node-id: 0x42
//	parameters:
//	  country-code: "XX"
//	  wifi:
//	    ssid: home
//	    passphrase: secret
type File struct {
	Fabric     Fabric     `yaml:"fabric"`
	Parameters Parameters `yaml:"parameters"`

	// Timeout bounds the whole flow. Zero uses the engine default.
	Timeout time.Duration `yaml:"timeout"`
}

// Fabric selects the fabric and node id assigned to the device.
type Fabric struct {
	ID                 uint64 `yaml:"id"`
	NodeID             uint64 `yaml:"node-id"`
	AdminSubject       uint64 `yaml:"admin-subject"`
	IntermediateCertID uint64 `yaml:"intermediate-cert-id"`
	// IPK is hex; empty generates a random key.
	IPK string `yaml:"ipk"`
}

// Parameters mirrors the caller-supplied commissioning.Parameters.
// Pointers and empty strings mean "not set".
type Parameters struct {
	FailsafeSeconds           *uint16             `yaml:"failsafe-seconds"`
	CASEFailsafeSeconds       *uint16             `yaml:"case-failsafe-seconds"`
	RegulatoryLocation        string              `yaml:"regulatory-location"`
	CountryCode               string              `yaml:"country-code"`
	TCAcknowledgements        *TCAcknowledgements `yaml:"tc-acknowledgements"`
	WiFi                      *WiFi               `yaml:"wifi"`
	ThreadDataset             string              `yaml:"thread-dataset"`
	AttemptWiFiScan           bool                `yaml:"attempt-wifi-scan"`
	AttemptThreadScan         bool                `yaml:"attempt-thread-scan"`
	TimeZones                 []TimeZone          `yaml:"time-zones"`
	DSTOffsets                []DSTOffset         `yaml:"dst-offsets"`
	DefaultNTP                string              `yaml:"default-ntp"`
	TrustedTimeSource         *TrustedTimeSource  `yaml:"trusted-time-source"`
	ICD                       *ICD                `yaml:"icd"`
	ExtraReadPaths            []AttributePath     `yaml:"extra-read-paths"`
	SkipCommissioningComplete bool                `yaml:"skip-commissioning-complete"`
	CheckForMatchingFabric    bool                `yaml:"check-for-matching-fabric"`
}

type TCAcknowledgements struct {
	Accepted uint16 `yaml:"accepted"`
	Version  uint16 `yaml:"version"`
}

type WiFi struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
}

type TimeZone struct {
	Offset  time.Duration `yaml:"offset"`
	ValidAt uint64        `yaml:"valid-at"`
	Name    string        `yaml:"name"`
}

type DSTOffset struct {
	Offset        time.Duration `yaml:"offset"`
	ValidStarting uint64        `yaml:"valid-starting"`
	ValidUntil    uint64        `yaml:"valid-until"`
}

type TrustedTimeSource struct {
	NodeID   uint64 `yaml:"node-id"`
	Endpoint uint16 `yaml:"endpoint"`
}

// ICD holds the registration inputs. Register selects the
// before-complete strategy.
type ICD struct {
	Register         bool   `yaml:"register"`
	CheckInNodeID    uint64 `yaml:"check-in-node-id"`
	MonitoredSubject uint64 `yaml:"monitored-subject"`
	// SymmetricKey is hex.
	SymmetricKey string `yaml:"symmetric-key"`
	// ClientType is "permanent" or "ephemeral".
	ClientType   string  `yaml:"client-type"`
	StayActiveMs *uint32 `yaml:"stay-active-ms"`
}

type AttributePath struct {
	Endpoint  uint16 `yaml:"endpoint"`
	Cluster   uint32 `yaml:"cluster"`
	Attribute uint32 `yaml:"attribute"`
}

// Parse decodes and checks a configuration document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if f.Fabric.ID == 0 {
		f.Fabric.ID = 1
	}
	if f.Fabric.NodeID == 0 {
		return nil, &LoadError{Message: "fabric.node-id is required"}
	}
	if !fabric.NodeID(f.Fabric.NodeID).IsOperational() {
		return nil, &LoadError{Message: fmt.Sprintf("fabric.node-id 0x%X is not an operational node id", f.Fabric.NodeID)}
	}
	if _, err := f.Parameters.Build(); err != nil {
		return nil, &LoadError{Message: "invalid parameters", Cause: err}
	}
	if _, err := f.Fabric.ipk(); err != nil {
		return nil, &LoadError{Message: "invalid fabric.ipk", Cause: err}
	}
	return &f, nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return nil, err
	}
	return f, nil
}

// IPK decodes the configured IPK; nil when unset.
func (f Fabric) ipk() ([]byte, error) {
	if f.IPK == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(f.IPK)
	if err != nil {
		return nil, err
	}
	if len(key) != fabric.IPKSize {
		return nil, fmt.Errorf("IPK is %d bytes, want %d", len(key), fabric.IPKSize)
	}
	return key, nil
}

// IPKBytes returns the configured IPK, or nil to let the issuer generate one.
func (f Fabric) IPKBytes() []byte {
	key, _ := f.ipk()
	return key
}

// Build converts the file section into engine parameters and validates them.
func (p Parameters) Build() (commissioning.Parameters, error) {
	var out commissioning.Parameters

	if p.FailsafeSeconds != nil {
		out.SetFailsafeExpirySeconds(*p.FailsafeSeconds)
	}
	if p.CASEFailsafeSeconds != nil {
		out.SetCASEFailsafeSeconds(*p.CASEFailsafeSeconds)
	}
	if p.RegulatoryLocation != "" {
		loc, err := parseRegulatoryLocation(p.RegulatoryLocation)
		if err != nil {
			return out, err
		}
		out.SetDeviceRegulatoryLocation(loc)
	}
	if p.CountryCode != "" {
		out.SetCountryCode(p.CountryCode)
	}
	if tc := p.TCAcknowledgements; tc != nil {
		out.SetTCAcknowledgements(commissioning.TCAcknowledgements{Accepted: tc.Accepted, Version: tc.Version})
	}
	if w := p.WiFi; w != nil {
		out.SetWiFiCredentials(commissioning.WiFiCredentials{
			SSID:        []byte(w.SSID),
			Credentials: []byte(w.Passphrase),
		})
	}
	if p.ThreadDataset != "" {
		ds, err := hex.DecodeString(p.ThreadDataset)
		if err != nil {
			return out, fmt.Errorf("thread-dataset: %w", err)
		}
		out.SetThreadOperationalDataset(ds)
	}
	out.SetAttemptWiFiNetworkScan(p.AttemptWiFiScan)
	out.SetAttemptThreadNetworkScan(p.AttemptThreadScan)

	if len(p.TimeZones) > 0 {
		tz := make([]commissioning.TimeZone, len(p.TimeZones))
		for i, z := range p.TimeZones {
			tz[i] = commissioning.TimeZone{Offset: int32(z.Offset / time.Second), ValidAt: z.ValidAt, Name: z.Name}
		}
		out.SetTimeZones(tz)
	}
	if len(p.DSTOffsets) > 0 {
		dst := make([]commissioning.DSTOffset, len(p.DSTOffsets))
		for i, d := range p.DSTOffsets {
			dst[i] = commissioning.DSTOffset{
				Offset:        int32(d.Offset / time.Second),
				ValidStarting: d.ValidStarting,
				ValidUntil:    d.ValidUntil,
			}
		}
		out.SetDSTOffsets(dst)
	}
	if p.DefaultNTP != "" {
		out.SetDefaultNTP(p.DefaultNTP)
	}
	if t := p.TrustedTimeSource; t != nil {
		out.SetTrustedTimeSource(commissioning.TrustedTimeSource{
			NodeID:   fabric.NodeID(t.NodeID),
			Endpoint: fabric.EndpointID(t.Endpoint),
		})
	}

	if icd := p.ICD; icd != nil {
		if err := icd.apply(&out); err != nil {
			return out, err
		}
	}

	if len(p.ExtraReadPaths) > 0 {
		paths := make([]commissioning.AttributePath, len(p.ExtraReadPaths))
		for i, ap := range p.ExtraReadPaths {
			paths[i] = commissioning.AttributePath{
				Endpoint:  fabric.EndpointID(ap.Endpoint),
				Cluster:   ap.Cluster,
				Attribute: ap.Attribute,
			}
		}
		out.SetExtraReadPaths(paths)
	}
	out.SetSkipCommissioningComplete(p.SkipCommissioningComplete)
	out.SetCheckForMatchingFabric(p.CheckForMatchingFabric)

	return out, out.Validate()
}

func (icd *ICD) apply(out *commissioning.Parameters) error {
	if icd.Register {
		out.SetICDRegistrationStrategy(commissioning.ICDRegistrationBeforeComplete)
	}
	if icd.CheckInNodeID != 0 {
		out.SetICDCheckInNodeID(fabric.NodeID(icd.CheckInNodeID))
	}
	if icd.MonitoredSubject != 0 {
		out.SetICDMonitoredSubject(icd.MonitoredSubject)
	}
	if icd.SymmetricKey != "" {
		key, err := hex.DecodeString(icd.SymmetricKey)
		if err != nil {
			return fmt.Errorf("icd.symmetric-key: %w", err)
		}
		out.SetICDSymmetricKey(key)
	}
	switch strings.ToLower(icd.ClientType) {
	case "":
	case "permanent":
		out.SetICDClientType(commissioning.ICDClientPermanent)
	case "ephemeral":
		out.SetICDClientType(commissioning.ICDClientEphemeral)
	default:
		return fmt.Errorf("icd.client-type: unknown value %q", icd.ClientType)
	}
	if icd.StayActiveMs != nil {
		out.SetICDStayActiveDurationMs(*icd.StayActiveMs)
	}
	return nil
}

func parseRegulatoryLocation(s string) (commissioning.RegulatoryLocation, error) {
	switch strings.ToLower(s) {
	case "indoor":
		return commissioning.RegulatoryIndoor, nil
	case "outdoor":
		return commissioning.RegulatoryOutdoor, nil
	case "indoor-outdoor", "indooroutdoor":
		return commissioning.RegulatoryIndoorOutdoor, nil
	}
	return 0, fmt.Errorf("regulatory-location: unknown value %q", s)
}
