package commissioning

import "github.com/backkem/matter-autocommissioner/pkg/fabric"

// transitionInput is the read-only view of flow state the transition
// function consults.
type transitionInput struct {
	stopRequested       bool
	params              *Parameters
	caps                *DeviceCapabilities
	needsNetworkSetup   bool
	needICDRegistration bool
	dstNeeded           bool
	tryingSecondary     bool
}

// transitionEffects are requests the transition function makes of the driver.
type transitionEffects struct {
	// armCASEFailsafe asks the driver to re-arm the fail-safe for CASE.
	armCASEFailsafe bool
}

// optionalStage is a stage visited only when needed returns true.
type optionalStage struct {
	stage  Stage
	needed func(in *transitionInput) bool
}

// timeConfigStages follow ConfigureTCAcknowledgments, in order.
var timeConfigStages = []optionalStage{
	{StageConfigureUTCTime, func(in *transitionInput) bool {
		return in.caps.RequiresUTC
	}},
	{StageConfigureTimeZone, func(in *transitionInput) bool {
		return in.caps.RequiresTimeZone && in.params.timeZones.ok
	}},
	{StageConfigureDSTOffset, func(in *transitionInput) bool {
		return in.dstNeeded && in.params.dstOffsets.ok
	}},
	{StageConfigureDefaultNTP, func(in *transitionInput) bool {
		return in.caps.RequiresDefaultNTP && in.params.defaultNTP.ok
	}},
}

// postNOCStages follow SendNOC, in order.
var postNOCStages = []optionalStage{
	{StageConfigureTrustedTimeSource, func(in *transitionInput) bool {
		return in.caps.RequiresTrustedTimeSource && in.params.trustedTimeSource.ok
	}},
}

// nextOptional returns the first needed stage in list after current. current
// may be a stage outside the list, in which case the search starts at the top.
func nextOptional(list []optionalStage, current Stage, in *transitionInput) (Stage, bool) {
	start := 0
	for i, o := range list {
		if o.stage == current {
			start = i + 1
			break
		}
	}
	for _, o := range list[start:] {
		if o.needed(in) {
			return o.stage, true
		}
	}
	return StageError, false
}

// nextStage maps a completed stage onto the stage to dispatch next. It is a
// pure function of its inputs. A non-nil error means the flow must fail with
// it; the returned stage is then StageCleanup.
func nextStage(current Stage, lastErr error, in *transitionInput) (Stage, transitionEffects, error) {
	var fx transitionEffects

	if in.stopRequested || lastErr != nil {
		if current == StageCleanup || current == StageError {
			return StageError, fx, nil
		}
		return StageCleanup, fx, nil
	}

	switch current {
	case StageSecurePairing:
		return StageReadCommissioningInfo, fx, nil
	case StageReadCommissioningInfo:
		if in.caps.Breadcrumb > 0 {
			// an earlier attempt got as far as sending the NOC
			return StageSendNOC, fx, nil
		}
		return StageArmFailsafe, fx, nil
	case StageArmFailsafe:
		return StageConfigRegulatory, fx, nil
	case StageConfigRegulatory:
		return StageConfigureTCAcknowledgments, fx, nil
	case StageConfigureTCAcknowledgments, StageConfigureUTCTime, StageConfigureTimeZone,
		StageConfigureDSTOffset, StageConfigureDefaultNTP:
		if s, ok := nextOptional(timeConfigStages, current, in); ok {
			return s, fx, nil
		}
		return StageSendPAICertificateRequest, fx, nil
	case StageSendPAICertificateRequest:
		return StageSendDACCertificateRequest, fx, nil
	case StageSendDACCertificateRequest:
		return StageSendAttestationRequest, fx, nil
	case StageSendAttestationRequest:
		return StageAttestationVerification, fx, nil
	case StageAttestationVerification:
		return StageAttestationRevocationCheck, fx, nil
	case StageAttestationRevocationCheck:
		return StageSendOpCertSigningRequest, fx, nil
	case StageSendOpCertSigningRequest:
		return StageValidateCSR, fx, nil
	case StageValidateCSR:
		return StageGenerateNOCChain, fx, nil
	case StageGenerateNOCChain:
		return StageSendTrustedRootCert, fx, nil
	case StageSendTrustedRootCert:
		return StageSendNOC, fx, nil
	case StageSendNOC, StageConfigureTrustedTimeSource:
		if s, ok := nextOptional(postNOCStages, current, in); ok {
			return s, fx, nil
		}
		return icdDispatch(in)
	case StageICDGetRegistrationInfo:
		return StageICDRegistration, fx, nil
	case StageICDRegistration:
		return afterICDRegistration(in)
	case StageScanNetworks:
		return StageNeedsNetworkCreds, fx, nil
	case StageNeedsNetworkCreds:
		return networkSetupStage(in)
	case StageWiFiNetworkSetup:
		return StageFailsafeBeforeWiFiEnable, fx, nil
	case StageThreadNetworkSetup:
		return StageFailsafeBeforeThreadEnable, fx, nil
	case StageFailsafeBeforeWiFiEnable:
		return StageWiFiNetworkEnable, fx, nil
	case StageFailsafeBeforeThreadEnable:
		return StageThreadNetworkEnable, fx, nil
	case StageWiFiNetworkEnable, StageThreadNetworkEnable:
		return toOperational(in)
	case StageEvictPreviousCaseSessions:
		return StageFindOperationalForStayActive, fx, nil
	case StageFindOperationalForStayActive:
		return StageICDSendStayActive, fx, nil
	case StageICDSendStayActive:
		return StageFindOperationalForCommissioningComplete, fx, nil
	case StageFindOperationalForCommissioningComplete:
		return StageSendComplete, fx, nil
	case StageSendComplete:
		return StageCleanup, fx, nil
	case StagePrimaryOperationalNetworkFailed:
		// drop the primary network before trying the secondary one
		if in.caps.WiFi.endpoint() == fabric.RootEndpoint {
			return StageRemoveWiFiNetworkConfig, fx, nil
		}
		return StageRemoveThreadNetworkConfig, fx, nil
	case StageRemoveWiFiNetworkConfig, StageRemoveThreadNetworkConfig:
		return networkSetupStage(in)
	case StageCleanup, StageError:
		return StageError, fx, nil
	}
	return StageError, fx, nil
}

func icdDispatch(in *transitionInput) (Stage, transitionEffects, error) {
	if in.needICDRegistration {
		if in.params.hasICDRegistrationInfo() {
			return StageICDRegistration, transitionEffects{}, nil
		}
		return StageICDGetRegistrationInfo, transitionEffects{}, nil
	}
	return afterICDRegistration(in)
}

func afterICDRegistration(in *transitionInput) (Stage, transitionEffects, error) {
	if in.needsNetworkSetup {
		if isScanNeeded(in) {
			return StageScanNetworks, transitionEffects{}, nil
		}
		return networkSetupStage(in)
	}
	// on-network device: certificates are in place and it will advertise
	// operationally on its own
	return toOperational(in)
}

func toOperational(in *transitionInput) (Stage, transitionEffects, error) {
	fx := transitionEffects{armCASEFailsafe: true}
	if in.params.skipCommissioningComplete {
		return StageCleanup, fx, nil
	}
	return StageEvictPreviousCaseSessions, fx, nil
}

// networkSetupStage selects Wi-Fi or Thread setup.
func networkSetupStage(in *transitionInput) (Stage, transitionEffects, error) {
	var fx transitionEffects
	wifiOnRoot := in.caps.WiFi.endpoint() == fabric.RootEndpoint

	if isSecondaryNetworkSupported(in) {
		primaryIsWiFi := wifiOnRoot
		if in.tryingSecondary {
			primaryIsWiFi = !primaryIsWiFi
		}
		if primaryIsWiFi {
			return StageWiFiNetworkSetup, fx, nil
		}
		return StageThreadNetworkSetup, fx, nil
	}

	if in.params.wifi.ok && in.caps.WiFi.Supported {
		return StageWiFiNetworkSetup, fx, nil
	}
	if in.params.threadDataset.ok && in.caps.Thread.Supported {
		return StageThreadNetworkSetup, fx, nil
	}
	return StageCleanup, fx, ErrNetworkCredentialsMissing
}

// isSecondaryNetworkSupported reports whether the device can be tried on both
// Wi-Fi and Thread.
func isSecondaryNetworkSupported(in *transitionInput) bool {
	return in.caps.SupportsConcurrentConnection &&
		in.caps.WiFi.Supported && in.params.wifi.ok &&
		in.caps.Thread.Supported && in.params.threadDataset.ok
}

func isScanNeeded(in *transitionInput) bool {
	return (in.params.attemptWiFiNetworkScan && in.caps.WiFi.Supported) ||
		(in.params.attemptThreadNetworkScan && in.caps.Thread.Supported)
}
