package commissioning

import "time"

const (
	// defaultProcessingTime is the expected processing time of an
	// Interaction Model command.
	defaultProcessingTime = 2 * time.Second

	// slowCryptoProcessingTime covers key generation and certificate
	// validation on constrained devices.
	slowCryptoProcessingTime = 7 * time.Second

	// minimumCommandTimeout is the floor for every step. CASE requires the
	// responder be given at least this long while the fail-safe is armed.
	minimumCommandTimeout = 30 * time.Second
)

// CommandTimeout returns the timeout for dispatching stage over session.
//
// The base is the expected processing time for the stage, widened by the
// session round trip. The result is never below 30 seconds.
func CommandTimeout(stage Stage, caps DeviceCapabilities, session Session) time.Duration {
	base := defaultProcessingTime
	switch stage {
	case StageWiFiNetworkEnable:
		base = caps.WiFi.MinConnectionTime
	case StageThreadNetworkEnable:
		base = caps.Thread.MinConnectionTime
	case StageSendNOC, StageSendOpCertSigningRequest:
		base = slowCryptoProcessingTime
	}

	timeout := base
	if session != nil {
		if rtt := session.RoundTripEstimate(); rtt > 0 {
			timeout += rtt
		}
	}
	return max(timeout, minimumCommandTimeout)
}
