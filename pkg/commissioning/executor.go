package commissioning

import (
	"time"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// Session is a borrowed handle to a secure session with the device.
// It must stay usable for as long as the flow references it.
type Session interface {
	// SecureSessionEstablished reports whether PASE or CASE has completed.
	SecureSessionEstablished() bool
	TransportType() TransportType
	// RoundTripEstimate is the measured or estimated round-trip time.
	RoundTripEstimate() time.Duration
	PeerNodeID() fabric.NodeID
}

// Step is one dispatched commissioning operation.
type Step struct {
	Session  Session
	Stage    Stage
	Params   Parameters
	Endpoint fabric.EndpointID
	Timeout  time.Duration
}

// StepExecutor performs commissioning steps against a device.
//
// PerformStep must eventually call delegate.StepFinished exactly once for the
// step, either from PerformStep itself or later from any goroutine that is
// serialised with other calls into the flow. Byte slices in step.Params may
// be overwritten once PerformStep returns, so an executor that completes the
// step asynchronously must copy what it needs before returning.
type StepExecutor interface {
	PerformStep(delegate StepDelegate, step Step)
}

// StepDelegate receives step completions.
type StepDelegate interface {
	StepFinished(err error, report StepReport) error
}

// CredentialsDelegate supplies operational credential inputs.
type CredentialsDelegate interface {
	// ObtainCSRNonce fills buf with a fresh CSR nonce.
	ObtainCSRNonce(buf []byte) error
}

// FailsafeExtender is implemented by executors that can re-arm the fail-safe
// outside of a dispatched step.
type FailsafeExtender interface {
	ExtendFailsafe(session Session, seconds uint16, timeout time.Duration)
}

// CertificateConverter converts an X.509 DER certificate into the encoding
// sent to the device.
type CertificateConverter interface {
	ConvertCertificate(der []byte) ([]byte, error)
}
