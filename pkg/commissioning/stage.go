package commissioning

// Stage identifies one discrete operation of the commissioning flow.
//
// Stages are declaration-ordered: range comparisons such as
// Between(StageWiFiNetworkSetup, StageICDSendStayActive) classify the phase
// in which a failure happened, so new values must not be inserted inside an
// existing range.
type Stage uint8

const (
	// StageError is a terminal stage reached only on internal inconsistency.
	StageError Stage = iota

	// StageSecurePairing is the initial stage: the PASE session already exists.
	StageSecurePairing

	// StageReadCommissioningInfo reads the attributes relevant to commissioning.
	StageReadCommissioningInfo

	// StageArmFailsafe sends ArmFailSafe.
	StageArmFailsafe

	// StageConfigRegulatory sends SetRegulatoryConfig.
	StageConfigRegulatory

	// StageConfigureUTCTime sets the UTC time if the device has a time cluster.
	StageConfigureUTCTime

	// StageConfigureTimeZone configures the time zone list.
	StageConfigureTimeZone

	// StageConfigureDSTOffset configures the DST offset list.
	StageConfigureDSTOffset

	// StageConfigureDefaultNTP configures a default NTP server.
	StageConfigureDefaultNTP

	// StageSendPAICertificateRequest requests the PAI certificate.
	StageSendPAICertificateRequest

	// StageSendDACCertificateRequest requests the DAC certificate.
	StageSendDACCertificateRequest

	// StageSendAttestationRequest sends AttestationRequest.
	StageSendAttestationRequest

	// StageAttestationVerification verifies the attestation response.
	StageAttestationVerification

	// StageAttestationRevocationCheck checks the revocation status of the DAC chain.
	StageAttestationRevocationCheck

	// StageSendOpCertSigningRequest sends CSRRequest.
	StageSendOpCertSigningRequest

	// StageValidateCSR verifies the CSRResponse.
	StageValidateCSR

	// StageGenerateNOCChain asks the credentials issuer for a NOC chain.
	StageGenerateNOCChain

	// StageSendTrustedRootCert sends AddTrustedRootCertificate.
	StageSendTrustedRootCert

	// StageSendNOC sends AddNOC.
	StageSendNOC

	// StageConfigureTrustedTimeSource configures a trusted time source.
	// Must run after StageSendNOC.
	StageConfigureTrustedTimeSource

	// StageICDGetRegistrationInfo waits for the application to supply ICD
	// registration information.
	StageICDGetRegistrationInfo

	// StageICDRegistration registers the commissioner as an ICD client.
	StageICDRegistration

	// StageWiFiNetworkSetup sends AddOrUpdateWiFiNetwork.
	StageWiFiNetworkSetup

	// StageThreadNetworkSetup sends AddOrUpdateThreadNetwork.
	StageThreadNetworkSetup

	// StageFailsafeBeforeWiFiEnable extends the fail-safe before ConnectNetwork.
	StageFailsafeBeforeWiFiEnable

	// StageFailsafeBeforeThreadEnable extends the fail-safe before ConnectNetwork.
	StageFailsafeBeforeThreadEnable

	// StageWiFiNetworkEnable sends ConnectNetwork for the Wi-Fi network.
	StageWiFiNetworkEnable

	// StageThreadNetworkEnable sends ConnectNetwork for the Thread network.
	StageThreadNetworkEnable

	// StageEvictPreviousCaseSessions evicts stale CASE sessions for the node ID.
	StageEvictPreviousCaseSessions

	// StageFindOperationalForStayActive discovers the node and establishes CASE
	// for the ICD StayActive command.
	StageFindOperationalForStayActive

	// StageFindOperationalForCommissioningComplete discovers the node and
	// establishes CASE for CommissioningComplete.
	StageFindOperationalForCommissioningComplete

	// StageSendComplete sends CommissioningComplete.
	StageSendComplete

	// StageICDSendStayActive sends StayActiveRequest to an ICD.
	StageICDSendStayActive

	// StageCleanup is the terminal stage releasing all flow resources.
	StageCleanup

	// StageScanNetworks sends ScanNetworks.
	StageScanNetworks

	// StageNeedsNetworkCreds waits for the application to supply network
	// credentials.
	StageNeedsNetworkCreds

	// StagePrimaryOperationalNetworkFailed marks a failed primary network
	// attempt on a dual-interface device. It is never dispatched.
	StagePrimaryOperationalNetworkFailed

	// StageRemoveWiFiNetworkConfig removes the Wi-Fi network configuration.
	StageRemoveWiFiNetworkConfig

	// StageRemoveThreadNetworkConfig removes the Thread network configuration.
	StageRemoveThreadNetworkConfig

	// StageConfigureTCAcknowledgments sends SetTCAcknowledgements.
	StageConfigureTCAcknowledgments

	stageCount
)

var stageNames = [stageCount]string{
	StageError:                                   "Error",
	StageSecurePairing:                           "SecurePairing",
	StageReadCommissioningInfo:                   "ReadCommissioningInfo",
	StageArmFailsafe:                             "ArmFailsafe",
	StageConfigRegulatory:                        "ConfigRegulatory",
	StageConfigureUTCTime:                        "ConfigureUTCTime",
	StageConfigureTimeZone:                       "ConfigureTimeZone",
	StageConfigureDSTOffset:                      "ConfigureDSTOffset",
	StageConfigureDefaultNTP:                     "ConfigureDefaultNTP",
	StageSendPAICertificateRequest:               "SendPAICertificateRequest",
	StageSendDACCertificateRequest:               "SendDACCertificateRequest",
	StageSendAttestationRequest:                  "SendAttestationRequest",
	StageAttestationVerification:                 "AttestationVerification",
	StageAttestationRevocationCheck:              "AttestationRevocationCheck",
	StageSendOpCertSigningRequest:                "SendOpCertSigningRequest",
	StageValidateCSR:                             "ValidateCSR",
	StageGenerateNOCChain:                        "GenerateNOCChain",
	StageSendTrustedRootCert:                     "SendTrustedRootCert",
	StageSendNOC:                                 "SendNOC",
	StageConfigureTrustedTimeSource:              "ConfigureTrustedTimeSource",
	StageICDGetRegistrationInfo:                  "ICDGetRegistrationInfo",
	StageICDRegistration:                         "ICDRegistration",
	StageWiFiNetworkSetup:                        "WiFiNetworkSetup",
	StageThreadNetworkSetup:                      "ThreadNetworkSetup",
	StageFailsafeBeforeWiFiEnable:                "FailsafeBeforeWiFiEnable",
	StageFailsafeBeforeThreadEnable:              "FailsafeBeforeThreadEnable",
	StageWiFiNetworkEnable:                       "WiFiNetworkEnable",
	StageThreadNetworkEnable:                     "ThreadNetworkEnable",
	StageEvictPreviousCaseSessions:               "EvictPreviousCaseSessions",
	StageFindOperationalForStayActive:            "FindOperationalForStayActive",
	StageFindOperationalForCommissioningComplete: "FindOperationalForCommissioningComplete",
	StageSendComplete:                            "SendComplete",
	StageICDSendStayActive:                       "ICDSendStayActive",
	StageCleanup:                                 "Cleanup",
	StageScanNetworks:                            "ScanNetworks",
	StageNeedsNetworkCreds:                       "NeedsNetworkCreds",
	StagePrimaryOperationalNetworkFailed:         "PrimaryOperationalNetworkFailed",
	StageRemoveWiFiNetworkConfig:                 "RemoveWiFiNetworkConfig",
	StageRemoveThreadNetworkConfig:               "RemoveThreadNetworkConfig",
	StageConfigureTCAcknowledgments:              "ConfigureTCAcknowledgments",
}

// String returns the stage name.
func (s Stage) String() string {
	if s < stageCount {
		return stageNames[s]
	}
	return "Unknown"
}

// IsValid reports whether s is a declared stage.
func (s Stage) IsValid() bool {
	return s < stageCount
}

// IsTerminal returns true for StageError and StageCleanup.
func (s Stage) IsTerminal() bool {
	return s == StageError || s == StageCleanup
}

// Between reports whether lo <= s <= hi in declaration order.
func (s Stage) Between(lo, hi Stage) bool {
	return s >= lo && s <= hi
}

// AllStages returns every declared stage in declaration order.
func AllStages() []Stage {
	stages := make([]Stage, 0, stageCount)
	for s := Stage(0); s < stageCount; s++ {
		stages = append(stages, s)
	}
	return stages
}

// ParseStage returns the stage named name.
func ParseStage(name string) (Stage, bool) {
	for s, n := range stageNames {
		if n == name {
			return Stage(s), true
		}
	}
	return StageError, false
}
