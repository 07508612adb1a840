package commissioning

import (
	"fmt"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// StepReport is what an executor hands back when a step completes.
type StepReport struct {
	Stage   Stage
	Payload ReportPayload
}

// ReportPayload is one of the payload types declared in this file.
type ReportPayload interface {
	isReportPayload()
}

// RequestedCertificate carries the PAI or DAC returned by CertificateChainRequest.
type RequestedCertificate struct {
	Certificate []byte
}

// AttestationResponse carries the AttestationResponse fields.
type AttestationResponse struct {
	Elements  []byte
	Signature []byte
}

// CSRResponse carries the CSRResponse fields.
type CSRResponse struct {
	NOCSRElements []byte
	Signature     []byte
}

// NOCChain is the chain produced by the credentials issuer, in X.509 DER.
type NOCChain struct {
	NOC          []byte
	ICAC         []byte
	RCAC         []byte
	IPK          [fabric.IPKSize]byte
	AdminSubject uint64
}

// OperationalNodeFound carries the CASE session to the commissioned node.
type OperationalNodeFound struct {
	Session Session
}

// CommissioningInfo carries the capability snapshot.
type CommissioningInfo struct {
	Capabilities DeviceCapabilities
}

// AttestationErrorInfo classifies an attestation or revocation failure.
type AttestationErrorInfo struct {
	Result AttestationVerificationResult
}

// CommissioningErrorInfo classifies a General Commissioning command failure.
type CommissioningErrorInfo struct {
	Code CommissioningError
}

// NetworkCommissioningStatusInfo classifies a Network Commissioning command failure.
type NetworkCommissioningStatusInfo struct {
	Status NetworkCommissioningStatus
}

// TimeZoneResponseInfo carries SetTimeZoneResponse.
type TimeZoneResponseInfo struct {
	RequiresDSTOffsets bool
}

func (RequestedCertificate) isReportPayload()           {}
func (AttestationResponse) isReportPayload()            {}
func (CSRResponse) isReportPayload()                    {}
func (NOCChain) isReportPayload()                       {}
func (OperationalNodeFound) isReportPayload()           {}
func (CommissioningInfo) isReportPayload()              {}
func (AttestationErrorInfo) isReportPayload()           {}
func (CommissioningErrorInfo) isReportPayload()         {}
func (NetworkCommissioningStatusInfo) isReportPayload() {}
func (TimeZoneResponseInfo) isReportPayload()           {}

// checkSuccessPayload rejects a successful report whose payload does not
// belong to its stage. Stages without a payload accept nil.
func checkSuccessPayload(r StepReport) error {
	ok := true
	switch r.Stage {
	case StageReadCommissioningInfo:
		_, ok = r.Payload.(CommissioningInfo)
	case StageSendPAICertificateRequest, StageSendDACCertificateRequest:
		_, ok = r.Payload.(RequestedCertificate)
	case StageSendAttestationRequest:
		_, ok = r.Payload.(AttestationResponse)
	case StageSendOpCertSigningRequest:
		_, ok = r.Payload.(CSRResponse)
	case StageGenerateNOCChain:
		_, ok = r.Payload.(NOCChain)
	case StageFindOperationalForStayActive, StageFindOperationalForCommissioningComplete:
		_, ok = r.Payload.(OperationalNodeFound)
	case StageConfigureTimeZone:
		if r.Payload != nil {
			_, ok = r.Payload.(TimeZoneResponseInfo)
		}
	}
	if !ok {
		return fmt.Errorf("%w: %T for stage %s", ErrUnexpectedReport, r.Payload, r.Stage)
	}
	return nil
}
