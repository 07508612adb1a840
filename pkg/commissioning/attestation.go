package commissioning

import (
	"context"
	"fmt"

	"github.com/backkem/matter-autocommissioner/pkg/fabric"
)

// AttestationVerifier verifies the attestation material collected by the
// SendPAICertificateRequest, SendDACCertificateRequest and
// SendAttestationRequest stages.
//
// Executors call it for the AttestationVerification stage and report any
// result other than AttestationSuccess as a failure carrying an
// AttestationErrorInfo payload. The flow then still runs the revocation
// check before failing.
type AttestationVerifier interface {
	Verify(ctx context.Context, info *AttestationInfo) AttestationVerificationResult
}

// RevocationChecker checks the DAC and PAI against revocation data. It is
// called for the AttestationRevocationCheck stage.
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, info *AttestationInfo) AttestationVerificationResult
}

// AttestationInfo is the attestation material of one flow, copied out of the
// flow buffers.
type AttestationInfo struct {
	// AttestationNonce is the 32-byte nonce sent in AttestationRequest.
	AttestationNonce []byte

	// AttestationElements is the TLV-encoded attestation elements.
	AttestationElements []byte

	// AttestationSignature is the signature over the elements.
	AttestationSignature []byte

	// DAC and PAI are DER encoded.
	DAC []byte
	PAI []byte

	// VendorID and ProductID are what the device reported in Basic
	// Information, for comparison with the DAC.
	VendorID  fabric.VendorID
	ProductID uint16
}

// NewAttestationInfo copies the attestation material out of p. It fails
// with ErrInvalidArgument if any piece has not been collected yet.
func NewAttestationInfo(p Parameters) (*AttestationInfo, error) {
	info := &AttestationInfo{}
	fields := []struct {
		name string
		get  func() ([]byte, bool)
		dst  *[]byte
	}{
		{"attestation nonce", p.AttestationNonce, &info.AttestationNonce},
		{"attestation elements", p.AttestationElements, &info.AttestationElements},
		{"attestation signature", p.AttestationSignature, &info.AttestationSignature},
		{"DAC", p.DAC, &info.DAC},
		{"PAI", p.PAI, &info.PAI},
	}

	for _, f := range fields {
		v, ok := f.get()
		if !ok {
			return nil, fmt.Errorf("%w: %s not available", ErrInvalidArgument, f.name)
		}
		*f.dst = append([]byte(nil), v...)
	}
	info.VendorID, _ = p.RemoteVendorID()
	info.ProductID, _ = p.RemoteProductID()
	return info, nil
}

// AcceptAllVerifier accepts every device. It performs no cryptographic
// verification and is meant for development and tests.
type AcceptAllVerifier struct{}

// Verify always returns AttestationSuccess.
func (AcceptAllVerifier) Verify(context.Context, *AttestationInfo) AttestationVerificationResult {
	return AttestationSuccess
}

// CheckRevocation always returns AttestationSuccess.
func (AcceptAllVerifier) CheckRevocation(context.Context, *AttestationInfo) AttestationVerificationResult {
	return AttestationSuccess
}

// AttestationFailure builds the report and error an executor hands to
// StepFinished when verification or the revocation check yields result.
func AttestationFailure(stage Stage, result AttestationVerificationResult) (StepReport, error) {
	sentinel := ErrAttestationFailed
	if stage == StageAttestationRevocationCheck {
		sentinel = ErrRevocationCheckFailed
	}
	return StepReport{Stage: stage, Payload: AttestationErrorInfo{Result: result}},
		fmt.Errorf("%w: %s", sentinel, result)
}

var (
	_ AttestationVerifier = AcceptAllVerifier{}
	_ RevocationChecker   = AcceptAllVerifier{}
)
