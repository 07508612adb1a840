package commissioning

import (
	"fmt"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// optional holds a value that may be absent.
type optional[T any] struct {
	value T
	ok    bool
}

func some[T any](v T) optional[T] {
	return optional[T]{value: v, ok: true}
}

func (o optional[T]) get() (T, bool) {
	return o.value, o.ok
}

// WiFiCredentials are the credentials for a Wi-Fi operational network.
type WiFiCredentials struct {
	SSID        []byte
	Credentials []byte
}

// TimeZone is one entry of the Time Synchronization TimeZone list.
type TimeZone struct {
	Offset  int32  // seconds from UTC
	ValidAt uint64 // epoch-us
	Name    string
}

// DSTOffset is one entry of the Time Synchronization DSTOffset list.
type DSTOffset struct {
	Offset        int32
	ValidStarting uint64
	// ValidUntil of zero means the offset has no end.
	ValidUntil uint64
}

// TrustedTimeSource identifies the node the device should sync time with.
type TrustedTimeSource struct {
	NodeID   fabric.NodeID
	Endpoint fabric.EndpointID
}

// TCAcknowledgements is the terms-and-conditions acknowledgement sent by
// SetTCAcknowledgements.
type TCAcknowledgements struct {
	Accepted uint16
	Version  uint16
}

// AttributePath is an extra attribute to read during ReadCommissioningInfo.
type AttributePath struct {
	Endpoint  fabric.EndpointID
	Cluster   uint32
	Attribute uint32
}

// NOCChainGenerationParameters is the CSR material handed to the credentials issuer.
type NOCChainGenerationParameters struct {
	NOCSRElements []byte
	Signature     []byte
}

// Parameters carries every input and output of a commissioning flow.
//
// All fields are optional. Getters return ok == false until the value has
// been set by the application or produced by the stage that owns it.
//
// Byte slices returned by the getters of a Parameters obtained from
// AutoCommissioner.Parameters are views into buffers owned by the flow: they
// are valid until the flow overwrites or releases them.
type Parameters struct {
	// caller-supplied
	failsafeExpirySeconds   optional[uint16]
	caseFailsafeSeconds     optional[uint16]
	regulatoryLocation      optional[RegulatoryLocation]
	countryCode             optional[string]
	tcAcknowledgements      optional[TCAcknowledgements]
	attestationNonce        optional[[]byte]
	csrNonce                optional[[]byte]
	wifi                    optional[WiFiCredentials]
	threadDataset           optional[[]byte]
	timeZones               optional[[]TimeZone]
	dstOffsets              optional[[]DSTOffset]
	defaultNTP              optional[string]
	trustedTimeSource       optional[TrustedTimeSource]
	icdCheckInNodeID        optional[fabric.NodeID]
	icdMonitoredSubject     optional[uint64]
	icdSymmetricKey         optional[[]byte]
	icdClientType           optional[ICDClientType]
	icdStayActiveDurationMs optional[uint32]
	icdRegistrationStrategy ICDRegistrationStrategy
	extraReadPaths          optional[[]AttributePath]
	remoteNodeID            optional[fabric.NodeID]

	skipCommissioningComplete bool
	attemptWiFiNetworkScan    bool
	attemptThreadNetworkScan  bool
	checkForMatchingFabric    bool

	learned learnedParams
	derived derivedParams

	completionStatus optional[CompletionStatus]
}

// learnedParams is written once by ReadCommissioningInfo.
type learnedParams struct {
	remoteVendorID               optional[fabric.VendorID]
	remoteProductID              optional[uint16]
	defaultRegulatoryLocation    optional[RegulatoryLocation]
	locationCapability           optional[RegulatoryLocation]
	supportsConcurrentConnection optional[bool]
}

// derivedParams is produced by the flow from device responses and the
// credentials issuer. Byte slices are views into flow-owned buffers.
type derivedParams struct {
	pai                  optional[[]byte]
	dac                  optional[[]byte]
	attestationElements  optional[[]byte]
	attestationSignature optional[[]byte]
	nocChainParams       optional[NOCChainGenerationParameters]
	rootCert             optional[[]byte]
	icac                 optional[[]byte]
	noc                  optional[[]byte]
	ipk                  optional[[fabric.IPKSize]byte]
	adminSubject         optional[uint64]
}

// FailsafeExpirySeconds is the ArmFailSafe expiry.
func (p Parameters) FailsafeExpirySeconds() (uint16, bool) { return p.failsafeExpirySeconds.get() }

// SetFailsafeExpirySeconds sets the ArmFailSafe expiry.
func (p *Parameters) SetFailsafeExpirySeconds(s uint16) { p.failsafeExpirySeconds = some(s) }

// CASEFailsafeSeconds is the fail-safe re-armed before CASE when no network
// setup is needed.
func (p Parameters) CASEFailsafeSeconds() (uint16, bool) { return p.caseFailsafeSeconds.get() }

// SetCASEFailsafeSeconds sets the fail-safe re-armed before CASE.
func (p *Parameters) SetCASEFailsafeSeconds(s uint16) { p.caseFailsafeSeconds = some(s) }

// DeviceRegulatoryLocation is the location sent in SetRegulatoryConfig.
func (p Parameters) DeviceRegulatoryLocation() (RegulatoryLocation, bool) {
	return p.regulatoryLocation.get()
}

// SetDeviceRegulatoryLocation sets the location sent in SetRegulatoryConfig.
func (p *Parameters) SetDeviceRegulatoryLocation(l RegulatoryLocation) {
	p.regulatoryLocation = some(l)
}

// CountryCode is the two-letter ISO 3166-1 country code.
func (p Parameters) CountryCode() (string, bool) { return p.countryCode.get() }

// SetCountryCode sets the country code sent in SetRegulatoryConfig.
func (p *Parameters) SetCountryCode(code string) { p.countryCode = some(code) }

// TCAcknowledgements is the accepted terms and conditions version and mask.
func (p Parameters) TCAcknowledgements() (TCAcknowledgements, bool) {
	return p.tcAcknowledgements.get()
}

// SetTCAcknowledgements sets the terms and conditions acknowledgements.
func (p *Parameters) SetTCAcknowledgements(tc TCAcknowledgements) {
	p.tcAcknowledgements = some(tc)
}

// AttestationNonce is the 32-byte nonce sent in AttestationRequest.
func (p Parameters) AttestationNonce() ([]byte, bool) { return p.attestationNonce.get() }

// SetAttestationNonce sets the AttestationRequest nonce.
func (p *Parameters) SetAttestationNonce(nonce []byte) { p.attestationNonce = some(nonce) }

// CSRNonce is the 32-byte nonce sent in CSRRequest.
func (p Parameters) CSRNonce() ([]byte, bool) { return p.csrNonce.get() }

// SetCSRNonce sets the CSRRequest nonce. A CredentialsDelegate overrides it.
func (p *Parameters) SetCSRNonce(nonce []byte) { p.csrNonce = some(nonce) }

// WiFiCredentials is the SSID and passphrase for AddOrUpdateWiFiNetwork.
func (p Parameters) WiFiCredentials() (WiFiCredentials, bool) { return p.wifi.get() }

// SetWiFiCredentials sets the Wi-Fi network to join.
func (p *Parameters) SetWiFiCredentials(c WiFiCredentials) { p.wifi = some(c) }

// ClearWiFiCredentials removes the Wi-Fi credentials.
func (p *Parameters) ClearWiFiCredentials() { p.wifi = optional[WiFiCredentials]{} }

// ThreadOperationalDataset is the dataset for AddOrUpdateThreadNetwork.
func (p Parameters) ThreadOperationalDataset() ([]byte, bool) { return p.threadDataset.get() }

// SetThreadOperationalDataset sets the Thread network to join.
func (p *Parameters) SetThreadOperationalDataset(ds []byte) { p.threadDataset = some(ds) }

// ClearThreadOperationalDataset removes the Thread dataset.
func (p *Parameters) ClearThreadOperationalDataset() { p.threadDataset = optional[[]byte]{} }

// TimeZones is the list sent in SetTimeZone.
func (p Parameters) TimeZones() ([]TimeZone, bool) { return p.timeZones.get() }

// SetTimeZones sets the time zone list. Lists longer than MaxTimeZones are
// truncated when the parameters are applied to a flow.
func (p *Parameters) SetTimeZones(tz []TimeZone) { p.timeZones = some(tz) }

// DSTOffsets is the list sent in SetDSTOffset.
func (p Parameters) DSTOffsets() ([]DSTOffset, bool) { return p.dstOffsets.get() }

// SetDSTOffsets sets the DST offset list. Lists longer than MaxDSTOffsets
// are truncated when the parameters are applied to a flow.
func (p *Parameters) SetDSTOffsets(dst []DSTOffset) { p.dstOffsets = some(dst) }

// DefaultNTP is the host sent in SetDefaultNTP.
func (p Parameters) DefaultNTP() (string, bool) { return p.defaultNTP.get() }

// SetDefaultNTP sets the default NTP host.
func (p *Parameters) SetDefaultNTP(host string) { p.defaultNTP = some(host) }

// TrustedTimeSource is the source sent in SetTrustedTimeSource.
func (p Parameters) TrustedTimeSource() (TrustedTimeSource, bool) {
	return p.trustedTimeSource.get()
}

// SetTrustedTimeSource sets the trusted time source.
func (p *Parameters) SetTrustedTimeSource(t TrustedTimeSource) { p.trustedTimeSource = some(t) }

// ICDCheckInNodeID is the node that receives ICD check-in messages.
func (p Parameters) ICDCheckInNodeID() (fabric.NodeID, bool) { return p.icdCheckInNodeID.get() }

// SetICDCheckInNodeID sets the ICD check-in node.
func (p *Parameters) SetICDCheckInNodeID(n fabric.NodeID) { p.icdCheckInNodeID = some(n) }

// ICDMonitoredSubject is the subject the ICD registration monitors.
func (p Parameters) ICDMonitoredSubject() (uint64, bool) { return p.icdMonitoredSubject.get() }

// SetICDMonitoredSubject sets the monitored subject.
func (p *Parameters) SetICDMonitoredSubject(s uint64) { p.icdMonitoredSubject = some(s) }

// ICDSymmetricKey is the key shared with the ICD for check-in.
func (p Parameters) ICDSymmetricKey() ([]byte, bool) { return p.icdSymmetricKey.get() }

// SetICDSymmetricKey sets the check-in key. It must be ICDSymmetricKeySize bytes.
func (p *Parameters) SetICDSymmetricKey(key []byte) { p.icdSymmetricKey = some(key) }

// ICDClientType is the client type sent in RegisterClient.
func (p Parameters) ICDClientType() (ICDClientType, bool) { return p.icdClientType.get() }

// SetICDClientType sets the ICD client type.
func (p *Parameters) SetICDClientType(t ICDClientType) { p.icdClientType = some(t) }

// ICDStayActiveDurationMs is the duration requested in StayActiveRequest.
func (p Parameters) ICDStayActiveDurationMs() (uint32, bool) {
	return p.icdStayActiveDurationMs.get()
}

// SetICDStayActiveDurationMs sets the stay-active duration.
func (p *Parameters) SetICDStayActiveDurationMs(ms uint32) { p.icdStayActiveDurationMs = some(ms) }

// ClearICDStayActiveDurationMs removes the stay-active duration.
func (p *Parameters) ClearICDStayActiveDurationMs() {
	p.icdStayActiveDurationMs = optional[uint32]{}
}

// ICDRegistrationStrategy selects whether and how the ICD is registered.
func (p Parameters) ICDRegistrationStrategy() ICDRegistrationStrategy {
	return p.icdRegistrationStrategy
}

// SetICDRegistrationStrategy sets the registration strategy.
func (p *Parameters) SetICDRegistrationStrategy(s ICDRegistrationStrategy) {
	p.icdRegistrationStrategy = s
}

// hasICDRegistrationInfo reports whether the check-in node, monitored subject
// and key are all present.
func (p Parameters) hasICDRegistrationInfo() bool {
	return p.icdCheckInNodeID.ok && p.icdMonitoredSubject.ok && p.icdSymmetricKey.ok
}

// ExtraReadPaths are read along with ReadCommissioningInfo.
func (p Parameters) ExtraReadPaths() ([]AttributePath, bool) { return p.extraReadPaths.get() }

// SetExtraReadPaths sets additional attributes to read.
func (p *Parameters) SetExtraReadPaths(paths []AttributePath) { p.extraReadPaths = some(paths) }

// RemoteNodeID is the operational node id assigned to the device.
func (p Parameters) RemoteNodeID() (fabric.NodeID, bool) { return p.remoteNodeID.get() }

// SetRemoteNodeID sets the node id to assign.
func (p *Parameters) SetRemoteNodeID(n fabric.NodeID) { p.remoteNodeID = some(n) }

// SkipCommissioningComplete ends the flow after network setup, before any
// operational stage.
func (p Parameters) SkipCommissioningComplete() bool { return p.skipCommissioningComplete }

// SetSkipCommissioningComplete leaves CommissioningComplete to the caller.
func (p *Parameters) SetSkipCommissioningComplete(v bool) { p.skipCommissioningComplete = v }

// AttemptWiFiNetworkScan scans for Wi-Fi networks before asking for credentials.
func (p Parameters) AttemptWiFiNetworkScan() bool { return p.attemptWiFiNetworkScan }

// SetAttemptWiFiNetworkScan enables the Wi-Fi scan.
func (p *Parameters) SetAttemptWiFiNetworkScan(v bool) { p.attemptWiFiNetworkScan = v }

// AttemptThreadNetworkScan scans for Thread networks before asking for credentials.
func (p Parameters) AttemptThreadNetworkScan() bool { return p.attemptThreadNetworkScan }

// SetAttemptThreadNetworkScan enables the Thread scan.
func (p *Parameters) SetAttemptThreadNetworkScan(v bool) { p.attemptThreadNetworkScan = v }

// CheckForMatchingFabric asks ReadCommissioningInfo to look for the
// commissioner's fabric on the device and adopt the node id found there.
func (p Parameters) CheckForMatchingFabric() bool { return p.checkForMatchingFabric }

// SetCheckForMatchingFabric enables the matching fabric check.
func (p *Parameters) SetCheckForMatchingFabric(v bool) { p.checkForMatchingFabric = v }

// RemoteVendorID is the vendor id read from the device.
func (p Parameters) RemoteVendorID() (fabric.VendorID, bool) { return p.learned.remoteVendorID.get() }

// RemoteProductID is the product id read from the device.
func (p Parameters) RemoteProductID() (uint16, bool) { return p.learned.remoteProductID.get() }

// DefaultRegulatoryLocation is the device's current regulatory configuration.
func (p Parameters) DefaultRegulatoryLocation() (RegulatoryLocation, bool) {
	return p.learned.defaultRegulatoryLocation.get()
}

// LocationCapability is the set of locations the device accepts.
func (p Parameters) LocationCapability() (RegulatoryLocation, bool) {
	return p.learned.locationCapability.get()
}

// SupportsConcurrentConnection reports whether the device can keep the
// commissioning channel open while joining the operational network.
func (p Parameters) SupportsConcurrentConnection() (bool, bool) {
	return p.learned.supportsConcurrentConnection.get()
}

// PAI is the product attestation intermediate certificate.
func (p Parameters) PAI() ([]byte, bool) { return p.derived.pai.get() }

// DAC is the device attestation certificate.
func (p Parameters) DAC() ([]byte, bool) { return p.derived.dac.get() }

// AttestationElements is the AttestationResponse payload.
func (p Parameters) AttestationElements() ([]byte, bool) { return p.derived.attestationElements.get() }

// AttestationSignature signs AttestationElements with the DAC key.
func (p Parameters) AttestationSignature() ([]byte, bool) { return p.derived.attestationSignature.get() }

// NOCChainGenerationParameters is the CSR material for the issuer.
func (p Parameters) NOCChainGenerationParameters() (NOCChainGenerationParameters, bool) {
	return p.derived.nocChainParams.get()
}

// RootCert is the fabric root certificate. It is absent once the shared
// certificate buffer has been reused for the intermediate certificate.
func (p Parameters) RootCert() ([]byte, bool) { return p.derived.rootCert.get() }

// ICAC is the intermediate certificate of the issued chain, if any.
func (p Parameters) ICAC() ([]byte, bool) { return p.derived.icac.get() }

// NOC is the issued node operational certificate.
func (p Parameters) NOC() ([]byte, bool) { return p.derived.noc.get() }

// IPK is the identity protection key of the fabric.
func (p Parameters) IPK() ([fabric.IPKSize]byte, bool) { return p.derived.ipk.get() }

// AdminSubject is the CASE admin subject granted by AddNOC.
func (p Parameters) AdminSubject() (uint64, bool) { return p.derived.adminSubject.get() }

// CompletionStatus is set when the flow is about to clean up.
func (p Parameters) CompletionStatus() (CompletionStatus, bool) { return p.completionStatus.get() }

// Validate reports the error SetParameters would return for p.
func (p Parameters) Validate() error { return p.validate() }

// validate checks every caller-supplied field against its capacity.
func (p Parameters) validate() error {
	checkLen := func(name string, o optional[[]byte], max int) error {
		if v, ok := o.get(); ok && len(v) > max {
			return fmt.Errorf("%w: %s is %d bytes, max %d", ErrBufferTooSmall, name, len(v), max)
		}
		return nil
	}
	checkExact := func(name string, o optional[[]byte], size int) error {
		if v, ok := o.get(); ok && len(v) != size {
			return fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidArgument, name, size, len(v))
		}
		return nil
	}

	if err := checkExact("attestation nonce", p.attestationNonce, AttestationNonceSize); err != nil {
		return err
	}
	if err := checkExact("CSR nonce", p.csrNonce, CSRNonceSize); err != nil {
		return err
	}
	if err := checkLen("ICD symmetric key", p.icdSymmetricKey, ICDSymmetricKeySize); err != nil {
		return err
	}
	if err := checkExact("ICD symmetric key", p.icdSymmetricKey, ICDSymmetricKeySize); err != nil {
		return err
	}
	if err := checkLen("thread dataset", p.threadDataset, MaxThreadDatasetSize); err != nil {
		return err
	}
	if w, ok := p.wifi.get(); ok {
		if len(w.SSID) > MaxSSIDSize {
			return fmt.Errorf("%w: SSID is %d bytes, max %d", ErrBufferTooSmall, len(w.SSID), MaxSSIDSize)
		}
		if len(w.Credentials) > MaxWiFiCredentialsSize {
			return fmt.Errorf("%w: Wi-Fi credentials are %d bytes, max %d",
				ErrBufferTooSmall, len(w.Credentials), MaxWiFiCredentialsSize)
		}
	}
	if cc, ok := p.countryCode.get(); ok && len(cc) > CountryCodeSize {
		return fmt.Errorf("%w: country code %q longer than %d", ErrBufferTooSmall, cc, CountryCodeSize)
	}
	if ntp, ok := p.defaultNTP.get(); ok && len(ntp) > MaxDefaultNTPSize {
		return fmt.Errorf("%w: default NTP is %d bytes, max %d", ErrBufferTooSmall, len(ntp), MaxDefaultNTPSize)
	}
	if tzs, ok := p.timeZones.get(); ok {
		for i, tz := range tzs[:min(len(tzs), MaxTimeZones)] {
			if len(tz.Name) > MaxTimeZoneNameSize {
				return fmt.Errorf("%w: time zone %d name is %d bytes, max %d",
					ErrBufferTooSmall, i, len(tz.Name), MaxTimeZoneNameSize)
			}
		}
	}
	if paths, ok := p.extraReadPaths.get(); ok && len(paths) > MaxExtraReadPaths {
		return fmt.Errorf("%w: %d extra read paths, max %d", ErrBufferTooSmall, len(paths), MaxExtraReadPaths)
	}

	n := 0
	for _, ok := range []bool{p.icdCheckInNodeID.ok, p.icdMonitoredSubject.ok, p.icdSymmetricKey.ok} {
		if ok {
			n++
		}
	}
	if n != 0 && n != 3 {
		return ErrMissingICDFields
	}
	return nil
}
