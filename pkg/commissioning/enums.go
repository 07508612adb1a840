package commissioning

import "fmt"

// CommissionerState represents the state of the Commissioner facade.
type CommissionerState int

const (
	// CommissionerStateIdle is the initial state before commissioning starts.
	CommissionerStateIdle CommissionerState = iota

	// CommissionerStateRunning indicates a flow is dispatching stages.
	CommissionerStateRunning

	// CommissionerStateAwaitingNetworkCredentials indicates the flow is paused
	// until the application provides network credentials.
	CommissionerStateAwaitingNetworkCredentials

	// CommissionerStateAwaitingICDRegistration indicates the flow is paused
	// until the application provides ICD registration information.
	CommissionerStateAwaitingICDRegistration

	// CommissionerStateComplete indicates commissioning completed successfully.
	CommissionerStateComplete

	// CommissionerStateFailed indicates commissioning failed.
	CommissionerStateFailed
)

// String returns a human-readable representation of the commissioner state.
func (s CommissionerState) String() string {
	switch s {
	case CommissionerStateIdle:
		return "Idle"
	case CommissionerStateRunning:
		return "Running"
	case CommissionerStateAwaitingNetworkCredentials:
		return "AwaitingNetworkCredentials"
	case CommissionerStateAwaitingICDRegistration:
		return "AwaitingICDRegistration"
	case CommissionerStateComplete:
		return "Complete"
	case CommissionerStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true if this is a terminal state (Complete or Failed).
func (s CommissionerState) IsTerminal() bool {
	return s == CommissionerStateComplete || s == CommissionerStateFailed
}

// RegulatoryLocation is the regulatory location type (Matter 11.10.5.3).
type RegulatoryLocation uint8

const (
	RegulatoryIndoor        RegulatoryLocation = 0
	RegulatoryOutdoor       RegulatoryLocation = 1
	RegulatoryIndoorOutdoor RegulatoryLocation = 2
)

// String returns the name of the regulatory location type.
func (r RegulatoryLocation) String() string {
	switch r {
	case RegulatoryIndoor:
		return "Indoor"
	case RegulatoryOutdoor:
		return "Outdoor"
	case RegulatoryIndoorOutdoor:
		return "IndoorOutdoor"
	default:
		return "Unknown"
	}
}

// CommissioningError is the General Commissioning cluster error code (Matter 11.10.5.1).
type CommissioningError uint8

const (
	CommissioningOK                            CommissioningError = 0
	CommissioningValueOutsideRange             CommissioningError = 1
	CommissioningInvalidAuthentication         CommissioningError = 2
	CommissioningNoFailSafe                    CommissioningError = 3
	CommissioningBusyWithOtherAdmin            CommissioningError = 4
	CommissioningRequiredTCNotAccepted         CommissioningError = 5
	CommissioningTCAcknowledgementsNotReceived CommissioningError = 6
	CommissioningTCMinVersionNotMet            CommissioningError = 7
)

// String returns the name of the commissioning error code.
func (c CommissioningError) String() string {
	switch c {
	case CommissioningOK:
		return "OK"
	case CommissioningValueOutsideRange:
		return "ValueOutsideRange"
	case CommissioningInvalidAuthentication:
		return "InvalidAuthentication"
	case CommissioningNoFailSafe:
		return "NoFailSafe"
	case CommissioningBusyWithOtherAdmin:
		return "BusyWithOtherAdmin"
	case CommissioningRequiredTCNotAccepted:
		return "RequiredTCNotAccepted"
	case CommissioningTCAcknowledgementsNotReceived:
		return "TCAcknowledgementsNotReceived"
	case CommissioningTCMinVersionNotMet:
		return "TCMinVersionNotMet"
	default:
		return "Unknown"
	}
}

// NetworkCommissioningStatus is the Network Commissioning cluster status
// (Matter 11.9.5.1).
type NetworkCommissioningStatus uint8

const (
	NetworkStatusSuccess                NetworkCommissioningStatus = 0
	NetworkStatusOutOfRange             NetworkCommissioningStatus = 1
	NetworkStatusBoundsExceeded         NetworkCommissioningStatus = 2
	NetworkStatusNetworkIDNotFound      NetworkCommissioningStatus = 3
	NetworkStatusDuplicateNetworkID     NetworkCommissioningStatus = 4
	NetworkStatusNetworkNotFound        NetworkCommissioningStatus = 5
	NetworkStatusRegulatoryError        NetworkCommissioningStatus = 6
	NetworkStatusAuthFailure            NetworkCommissioningStatus = 7
	NetworkStatusUnsupportedSecurity    NetworkCommissioningStatus = 8
	NetworkStatusOtherConnectionFailure NetworkCommissioningStatus = 9
	NetworkStatusIPv6Failed             NetworkCommissioningStatus = 10
	NetworkStatusIPBindFailed           NetworkCommissioningStatus = 11
	NetworkStatusUnknownError           NetworkCommissioningStatus = 12
)

var networkStatusNames = map[NetworkCommissioningStatus]string{
	NetworkStatusSuccess:                "Success",
	NetworkStatusOutOfRange:             "OutOfRange",
	NetworkStatusBoundsExceeded:         "BoundsExceeded",
	NetworkStatusNetworkIDNotFound:      "NetworkIDNotFound",
	NetworkStatusDuplicateNetworkID:     "DuplicateNetworkID",
	NetworkStatusNetworkNotFound:        "NetworkNotFound",
	NetworkStatusRegulatoryError:        "RegulatoryError",
	NetworkStatusAuthFailure:            "AuthFailure",
	NetworkStatusUnsupportedSecurity:    "UnsupportedSecurity",
	NetworkStatusOtherConnectionFailure: "OtherConnectionFailure",
	NetworkStatusIPv6Failed:             "IPV6Failed",
	NetworkStatusIPBindFailed:           "IPBindFailed",
	NetworkStatusUnknownError:           "UnknownError",
}

// String returns the name of the network commissioning status.
func (s NetworkCommissioningStatus) String() string {
	if name, ok := networkStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// AttestationVerificationResult classifies the outcome of device attestation
// verification and DAC chain revocation checks.
type AttestationVerificationResult uint16

const (
	AttestationSuccess AttestationVerificationResult = 0

	AttestationPAAUntrusted        AttestationVerificationResult = 100
	AttestationPAANotFound         AttestationVerificationResult = 101
	AttestationPAAExpired          AttestationVerificationResult = 102
	AttestationPAASignatureInvalid AttestationVerificationResult = 103
	AttestationPAARevoked          AttestationVerificationResult = 104
	AttestationPAAFormatInvalid    AttestationVerificationResult = 105

	AttestationPAIExpired          AttestationVerificationResult = 200
	AttestationPAISignatureInvalid AttestationVerificationResult = 201
	AttestationPAIRevoked          AttestationVerificationResult = 202
	AttestationPAIFormatInvalid    AttestationVerificationResult = 203
	AttestationPAIVendorIDMismatch AttestationVerificationResult = 205
	AttestationPAIMissing          AttestationVerificationResult = 207

	AttestationDACExpired           AttestationVerificationResult = 300
	AttestationDACSignatureInvalid  AttestationVerificationResult = 301
	AttestationDACRevoked           AttestationVerificationResult = 302
	AttestationDACFormatInvalid     AttestationVerificationResult = 303
	AttestationDACVendorIDMismatch  AttestationVerificationResult = 305
	AttestationDACProductIDMismatch AttestationVerificationResult = 306

	AttestationSignatureInvalid     AttestationVerificationResult = 500
	AttestationElementsMalformed    AttestationVerificationResult = 501
	AttestationNonceMismatch        AttestationVerificationResult = 502
	AttestationCertDeclInvalid      AttestationVerificationResult = 600
	AttestationRevocationUnresolved AttestationVerificationResult = 700
	AttestationInternalError        AttestationVerificationResult = 900
)

var attestationResultNames = map[AttestationVerificationResult]string{
	AttestationSuccess:              "Success",
	AttestationPAAUntrusted:         "PAAUntrusted",
	AttestationPAANotFound:          "PAANotFound",
	AttestationPAAExpired:           "PAAExpired",
	AttestationPAASignatureInvalid:  "PAASignatureInvalid",
	AttestationPAARevoked:           "PAARevoked",
	AttestationPAAFormatInvalid:     "PAAFormatInvalid",
	AttestationPAIExpired:           "PAIExpired",
	AttestationPAISignatureInvalid:  "PAISignatureInvalid",
	AttestationPAIRevoked:           "PAIRevoked",
	AttestationPAIFormatInvalid:     "PAIFormatInvalid",
	AttestationPAIVendorIDMismatch:  "PAIVendorIDMismatch",
	AttestationPAIMissing:           "PAIMissing",
	AttestationDACExpired:           "DACExpired",
	AttestationDACSignatureInvalid:  "DACSignatureInvalid",
	AttestationDACRevoked:           "DACRevoked",
	AttestationDACFormatInvalid:     "DACFormatInvalid",
	AttestationDACVendorIDMismatch:  "DACVendorIDMismatch",
	AttestationDACProductIDMismatch: "DACProductIDMismatch",
	AttestationSignatureInvalid:     "AttestationSignatureInvalid",
	AttestationElementsMalformed:    "AttestationElementsMalformed",
	AttestationNonceMismatch:        "AttestationNonceMismatch",
	AttestationCertDeclInvalid:      "CertificationDeclarationInvalid",
	AttestationRevocationUnresolved: "RevocationUnresolved",
	AttestationInternalError:        "InternalError",
}

// String returns the name of the attestation result.
func (r AttestationVerificationResult) String() string {
	if name, ok := attestationResultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("AttestationResult(%d)", uint16(r))
}

// IsIDMismatch reports whether the DAC vendor or product ID did not match the
// identity the device reported.
func (r AttestationVerificationResult) IsIDMismatch() bool {
	return r == AttestationDACVendorIDMismatch || r == AttestationDACProductIDMismatch
}

// TransportType identifies the transport carrying the commissioning session.
type TransportType uint8

const (
	TransportUDP TransportType = iota
	TransportTCP
	TransportBLE
	TransportWiFiPAF
	TransportNFC
)

// String returns the transport name.
func (t TransportType) String() string {
	switch t {
	case TransportUDP:
		return "UDP"
	case TransportTCP:
		return "TCP"
	case TransportBLE:
		return "BLE"
	case TransportWiFiPAF:
		return "WiFiPAF"
	case TransportNFC:
		return "NFC"
	default:
		return "Unknown"
	}
}

// RequiresNetworkSetup reports whether a device reached over this transport
// still has to be given operational network credentials.
func (t TransportType) RequiresNetworkSetup() bool {
	return t == TransportBLE || t == TransportWiFiPAF || t == TransportNFC
}

// ICDClientType is the ICD Management client type.
type ICDClientType uint8

const (
	ICDClientPermanent ICDClientType = 0
	ICDClientEphemeral ICDClientType = 1
)

// ICDRegistrationStrategy selects whether an ICD is registered during commissioning.
type ICDRegistrationStrategy uint8

const (
	// ICDRegistrationIgnore never registers, even with LIT devices.
	ICDRegistrationIgnore ICDRegistrationStrategy = iota
	// ICDRegistrationBeforeComplete registers before CommissioningComplete.
	ICDRegistrationBeforeComplete
)
